package bitstream

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/pkg/errors"
)

const (
	oggPageHeaderLen = 27

	OggHeaderTypeContinued = 0x01
	OggHeaderTypeBeginning = 0x02
)

// OggPage is one Ogg page in stream order.
type OggPage struct {
	Payload []byte

	GranulePosition uint64
	HeaderType      uint8
	Serial          uint32
	Sequence        uint32
}

func (p *OggPage) Continued() bool {
	return p.HeaderType&OggHeaderTypeContinued != 0
}

// OggReader yields the pages of an Ogg/Opus stream. Framing, checksums and the
// OpusHead identification page are validated by pion's oggreader; the tap
// underneath it tells a clean end of the source apart from a truncated page.
type OggReader struct {
	tap    *pageTap
	ogg    *oggreader.OggReader
	header *oggreader.OggHeader
}

// NewOggReader consumes and validates the identification page.
func NewOggReader(r io.Reader) (*OggReader, error) {
	tap := &pageTap{stream: bufio.NewReader(r)}

	ogg, header, err := oggreader.NewWith(tap)
	if err != nil {
		return nil, tap.classify(err, "ogg identification page")
	}

	return &OggReader{
		tap:    tap,
		ogg:    ogg,
		header: header,
	}, nil
}

func (r *OggReader) Header() *oggreader.OggHeader {
	return r.header
}

// Next returns the next page. It returns ErrEndOfStream only when the source
// ends exactly on a page boundary.
func (r *OggReader) Next() (*OggPage, error) {
	r.tap.reset()

	payload, header, err := r.ogg.ParseNextPage()
	if err != nil {
		return nil, r.tap.classify(err, "ogg page")
	}

	h := r.tap.header

	return &OggPage{
		Payload:         payload,
		GranulePosition: header.GranulePosition,
		HeaderType:      h[5],
		Serial:          binary.LittleEndian.Uint32(h[14:18]),
		Sequence:        binary.LittleEndian.Uint32(h[18:22]),
	}, nil
}

// pageTap counts the bytes consumed while parsing a page, keeps a copy of the
// fixed page header and records I/O failures of the source.
type pageTap struct {
	stream io.Reader

	header   [oggPageHeaderLen]byte
	consumed int
	ioErr    error
}

func (t *pageTap) Read(p []byte) (int, error) {
	n, err := t.stream.Read(p)

	if t.consumed < oggPageHeaderLen {
		copy(t.header[t.consumed:], p[:n])
	}

	t.consumed += n

	if err != nil && err != io.EOF {
		t.ioErr = err
	}

	return n, err
}

func (t *pageTap) reset() {
	t.consumed = 0
	t.ioErr = nil
}

func (t *pageTap) classify(err error, what string) error {
	switch {
	case t.ioErr != nil:
		return errors.Wrapf(t.ioErr, "read %s", what)
	case err == io.EOF && t.consumed == 0:
		return ErrEndOfStream
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return errors.Wrapf(ErrCorruptStream, "truncated %s", what)
	default:
		return errors.Wrapf(ErrCorruptStream, "%s: %s", what, err)
	}
}
