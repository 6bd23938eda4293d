package bitstream

import (
	"bufio"
	"io"

	"github.com/pion/webrtc/v3/pkg/media/h264reader"
	"github.com/pkg/errors"
)

const maxStartCodeZeros = 3

type NAL struct {
	UnitType h264reader.NalUnitType
	Data     []byte
}

func (n *NAL) IsKeyFrame() bool {
	return n.UnitType == h264reader.NalUnitTypeCodedSliceIdr
}

// NALReader splits an H.264 Annex-B elementary stream into NAL units. A unit is
// the byte range between two consecutive start codes (00 00 01 or 00 00 00 01),
// start codes excluded. Bytes in front of the first start code are skipped and
// empty units are never returned.
type NALReader struct {
	stream *bufio.Reader

	synced    bool
	exhausted bool
}

func NewNALReader(r io.Reader) *NALReader {
	return &NALReader{
		stream: bufio.NewReader(r),
	}
}

// Next returns the next NAL unit in stream order. It returns ErrEndOfStream
// after the last unit, ErrCorruptStream for a non-empty stream without any
// start code, and a wrapped I/O error if the source fails.
func (r *NALReader) Next() (*NAL, error) {
	if !r.synced {
		if err := r.sync(); err != nil {
			return nil, err
		}

		r.synced = true
	}

	for !r.exhausted {
		data, err := r.readUnit()
		if err != nil {
			return nil, err
		}

		if len(data) != 0 {
			return newNAL(data), nil
		}
	}

	return nil, ErrEndOfStream
}

// sync discards everything up to and including the first start code.
func (r *NALReader) sync() error {
	var (
		zeros   int
		skipped int
	)

	for {
		b, err := r.stream.ReadByte()
		if err == io.EOF {
			r.exhausted = true

			if skipped == 0 {
				return ErrEndOfStream
			}

			return errors.Wrap(ErrCorruptStream, "no start code found")
		}

		if err != nil {
			return errors.Wrap(err, "read nal")
		}

		skipped++

		switch {
		case b == 0:
			zeros++
		case b == 1 && zeros >= 2:
			return nil
		default:
			zeros = 0
		}
	}
}

// readUnit collects bytes until the next start code or the end of the source.
func (r *NALReader) readUnit() ([]byte, error) {
	var (
		data  []byte
		zeros int
	)

	for {
		b, err := r.stream.ReadByte()
		if err == io.EOF {
			r.exhausted = true

			return data, nil
		}

		if err != nil {
			return nil, errors.Wrap(err, "read nal")
		}

		switch {
		case b == 0:
			zeros++
		case b == 1 && zeros >= 2:
			return data[:len(data)-min(zeros, maxStartCodeZeros)], nil
		default:
			zeros = 0
		}

		data = append(data, b)
	}
}

func newNAL(data []byte) *NAL {
	return &NAL{
		UnitType: h264reader.NalUnitType(data[0] & 0x1F),
		Data:     data,
	}
}
