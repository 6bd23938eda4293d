package pacer

import (
	"context"
	"sync/atomic"
	"time"

	"webrtc-streamer/pkg/bitstream"
	"webrtc-streamer/pkg/log"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pkg/errors"
)

type State int32

const (
	StateWaitingForStart State = iota
	StateStreaming
	StateFinished
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWaitingForStart:
		return "waiting-for-start"
	case StateStreaming:
		return "streaming"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Source interface {
	Next() (media.Sample, error)
}

// Track is the transport side of a stream; *webrtc.TrackLocalStaticSample
// satisfies it.
type Track interface {
	WriteSample(media.Sample) error
}

type Gate interface {
	Wait(ctx context.Context) error
}

type Notifier interface {
	Fire(source string) bool
}

// Pacer streams one media file to one track in real time. It stays idle until
// its start gate opens, then reads a sample, hands it to the track and waits
// for the next tick of its own ticker, until the source is exhausted or fails.
//
// A clean end of the source moves the pacer to StateFinished, a read or write
// failure to StateFailed. Both fire the completion notifier; only a failure is
// returned as an error. Cancelling ctx stops the pacer without firing anything.
type Pacer struct {
	cfg PacerConfig

	source Source
	track  Track

	state   atomic.Int32
	samples atomic.Uint64
	bytes   atomic.Uint64
}

type PacerConfig struct {
	// Name identifies the stream in logs and in the completion notification.
	Name string
	// File is the path the source reads from, for logs only.
	File     string
	Interval time.Duration
}

func NewPacer(cfg PacerConfig, source Source, track Track) *Pacer {
	return &Pacer{
		cfg:    cfg,
		source: source,
		track:  track,
	}
}

func (p *Pacer) Name() string {
	return p.cfg.Name
}

func (p *Pacer) State() State {
	return State(p.state.Load())
}

// Samples returns the number of samples handed to the track so far.
func (p *Pacer) Samples() uint64 {
	return p.samples.Load()
}

func (p *Pacer) Run(ctx context.Context, start Gate, done Notifier) error {
	if err := start.Wait(ctx); err != nil {
		p.setState(StateStopped)
		log.Debugf("%s stopped before start", p.cfg.Name)

		return nil
	}

	p.setState(StateStreaming)
	log.Infof("Playing %s from disk file %s", p.cfg.Name, p.cfg.File)

	err := p.stream(ctx)

	switch {
	case err == nil:
		p.setState(StateStopped)
	case errors.Is(err, bitstream.ErrEndOfStream):
		p.setState(StateFinished)
		log.Infof("All %s samples parsed and sent (%d samples, %d bytes)", p.cfg.Name, p.samples.Load(), p.bytes.Load())
		done.Fire(p.cfg.Name)

		return nil
	default:
		p.setState(StateFailed)
		log.Errorf("%s stream failed after %d samples: %s", p.cfg.Name, p.samples.Load(), err)
		done.Fire(p.cfg.Name)
	}

	return err
}

func (p *Pacer) stream(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		sample, err := p.source.Next()
		if errors.Is(err, bitstream.ErrEndOfStream) {
			return err
		}

		if err != nil {
			return errors.Wrapf(err, "read %s", p.cfg.Name)
		}

		if err := p.track.WriteSample(sample); err != nil {
			return errors.Wrapf(err, "write %s sample", p.cfg.Name)
		}

		p.samples.Add(1)
		p.bytes.Add(uint64(len(sample.Data)))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pacer) setState(s State) {
	p.state.Store(int32(s))
}
