package pacer

import (
	"sync/atomic"
	"time"

	"webrtc-streamer/pkg/bitstream"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pkg/errors"
)

// DefaultSampleRate is the Ogg/Opus granule rate.
const DefaultSampleRate = 48000

// noGranule marks an Ogg page on which no packet ends.
const noGranule = ^uint64(0)

type NALReader interface {
	Next() (*bitstream.NAL, error)
}

type PageReader interface {
	Next() (*bitstream.OggPage, error)
}

// VideoSource turns NAL units into samples of a fixed nominal duration. Annex-B
// streams carry no timing of their own.
type VideoSource struct {
	reader   NALReader
	duration time.Duration

	keyFrames atomic.Uint64
}

func NewVideoSource(reader NALReader, duration time.Duration) *VideoSource {
	return &VideoSource{
		reader:   reader,
		duration: duration,
	}
}

func (s *VideoSource) Next() (media.Sample, error) {
	nal, err := s.reader.Next()
	if err != nil {
		return media.Sample{}, err
	}

	if nal.IsKeyFrame() {
		s.keyFrames.Add(1)
	}

	return media.Sample{
		Data:     nal.Data,
		Duration: s.duration,
	}, nil
}

// KeyFrames returns the number of IDR slices read so far.
func (s *VideoSource) KeyFrames() uint64 {
	return s.keyFrames.Load()
}

// AudioSource turns Ogg pages into samples whose duration is the granule delta
// to the previous page. The first page is measured against zero.
type AudioSource struct {
	reader     PageReader
	sampleRate uint32

	lastGranule uint64
}

func NewAudioSource(reader PageReader, sampleRate uint32) *AudioSource {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}

	return &AudioSource{
		reader:     reader,
		sampleRate: sampleRate,
	}
}

func (s *AudioSource) Next() (media.Sample, error) {
	page, err := s.reader.Next()
	if err != nil {
		return media.Sample{}, err
	}

	if page.GranulePosition == noGranule {
		return media.Sample{Data: page.Payload}, nil
	}

	if page.GranulePosition < s.lastGranule {
		return media.Sample{}, errors.Wrapf(bitstream.ErrCorruptStream,
			"granule position went back from %d to %d", s.lastGranule, page.GranulePosition)
	}

	duration := GranuleDuration(s.lastGranule, page.GranulePosition, s.sampleRate)
	s.lastGranule = page.GranulePosition

	return media.Sample{
		Data:     page.Payload,
		Duration: duration,
	}, nil
}

// GranuleDuration returns (cur - prev) * 1000 / sampleRate milliseconds,
// truncated to whole milliseconds.
func GranuleDuration(prev, cur uint64, sampleRate uint32) time.Duration {
	return time.Duration((cur-prev)*1000/uint64(sampleRate)) * time.Millisecond
}
