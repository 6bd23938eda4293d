package peer

import (
	"context"
)

// Signal carries the out-of-band description exchange. Both directions are
// base64-encoded JSON session descriptions (see: pkg/signal.EncodeDescription).
//
// ReadOffer is called exactly once per session and should return early with
// ctx.Err() when ctx is done. WriteAnswer is called once the answer is complete,
// all ICE candidates included.
type Signal interface {
	ReadOffer(ctx context.Context) (string, error)
	WriteAnswer(answer string) error
}
