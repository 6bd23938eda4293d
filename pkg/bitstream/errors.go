package bitstream

import (
	"github.com/pkg/errors"
)

// ErrEndOfStream is returned by a reader once the source is cleanly exhausted.
// It is never returned for truncated or malformed input.
var ErrEndOfStream = errors.New("end of stream")

// ErrCorruptStream is returned when container framing cannot be parsed.
var ErrCorruptStream = errors.New("corrupt stream")
