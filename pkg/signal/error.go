package signal

import (
	"github.com/pkg/errors"
)

// ErrBadRequestBody is reported for a signaling request whose body cannot be
// read as text. The request is answered with 400 and the listener keeps serving.
var ErrBadRequestBody = errors.New("signaling request body is not text")

// ErrBadEncoding is returned when a session description is not valid
// base64-encoded JSON.
var ErrBadEncoding = errors.New("malformed session description encoding")
