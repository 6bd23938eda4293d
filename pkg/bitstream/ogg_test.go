package bitstream

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var oggCRCTable = func() [256]uint32 {
	var table [256]uint32

	for i := range table {
		r := uint32(i) << 24

		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}

		table[i] = r
	}

	return table
}()

// oggPage builds a single page with a valid checksum. Payloads must be shorter
// than 255 bytes so that one lacing value is enough.
func oggPage(headerType uint8, granule uint64, sequence uint32, payload []byte) []byte {
	page := make([]byte, oggPageHeaderLen, oggPageHeaderLen+1+len(payload))

	copy(page, "OggS")
	page[5] = headerType
	binary.LittleEndian.PutUint64(page[6:14], granule)
	binary.LittleEndian.PutUint32(page[14:18], 0x1234)
	binary.LittleEndian.PutUint32(page[18:22], sequence)
	page[26] = 1
	page = append(page, byte(len(payload)))
	page = append(page, payload...)

	var crc uint32
	for _, b := range page {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}

	binary.LittleEndian.PutUint32(page[22:26], crc)

	return page
}

func opusHead() []byte {
	head := make([]byte, 19)

	copy(head, "OpusHead")
	head[8] = 1
	head[9] = 2
	binary.LittleEndian.PutUint16(head[10:12], 312)
	binary.LittleEndian.PutUint32(head[12:16], 48000)

	return head
}

func oggStream(granules ...uint64) []byte {
	var stream []byte

	stream = append(stream, oggPage(OggHeaderTypeBeginning, 0, 0, opusHead())...)
	stream = append(stream, oggPage(0, 0, 1, []byte("OpusTags"))...)

	for i, g := range granules {
		stream = append(stream, oggPage(0, g, uint32(i+2), []byte{0xFC, byte(i)})...)
	}

	return stream
}

func TestOggReaderYieldsPagesInOrder(t *testing.T) {
	r, err := NewOggReader(bytes.NewReader(oggStream(960, 1920, 2880)))
	require.NoError(t, err)

	assert.Equal(t, uint32(48000), r.Header().SampleRate)
	assert.Equal(t, uint8(2), r.Header().Channels)

	tags, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("OpusTags"), tags.Payload)
	assert.Equal(t, uint32(1), tags.Sequence)
	assert.Equal(t, uint32(0x1234), tags.Serial)

	for i, want := range []uint64{960, 1920, 2880} {
		page, err := r.Next()
		require.NoError(t, err)

		assert.Equal(t, want, page.GranulePosition)
		assert.Equal(t, uint32(i+2), page.Sequence)
		assert.Equal(t, []byte{0xFC, byte(i)}, page.Payload)
		assert.False(t, page.Continued())
	}

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestOggReaderChecksumMismatch(t *testing.T) {
	stream := oggStream(960)
	stream[len(stream)-1] ^= 0xFF

	r, err := NewOggReader(bytes.NewReader(stream))
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrCorruptStream)
	assert.NotErrorIs(t, err, ErrEndOfStream)
}

func TestOggReaderTruncatedPage(t *testing.T) {
	for name, cut := range map[string]int{
		"header":  10,
		"payload": 1,
	} {
		t.Run(name, func(t *testing.T) {
			stream := oggStream(960)
			stream = stream[:len(stream)-cut]

			r, err := NewOggReader(bytes.NewReader(stream))
			require.NoError(t, err)

			_, err = r.Next()
			require.NoError(t, err)

			_, err = r.Next()
			assert.ErrorIs(t, err, ErrCorruptStream)
			assert.NotErrorIs(t, err, ErrEndOfStream)
		})
	}
}

func TestOggReaderBadIdentificationPage(t *testing.T) {
	stream := oggPage(OggHeaderTypeBeginning, 0, 0, []byte("NotOpusHeadAtAll..."))

	_, err := NewOggReader(bytes.NewReader(stream))

	assert.ErrorIs(t, err, ErrCorruptStream)
}

func TestOggReaderIOError(t *testing.T) {
	failure := errors.New("disk on fire")
	stream := io.MultiReader(bytes.NewReader(oggStream()), iotest.ErrReader(failure))

	r, err := NewOggReader(stream)
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	assert.ErrorIs(t, err, failure)
	assert.NotErrorIs(t, err, ErrEndOfStream)
}
