package signal

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
)

func Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Decode reverses Encode. Surrounding whitespace is ignored.
func Decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", errors.Wrapf(ErrBadEncoding, "base64: %s", err)
	}

	if !utf8.Valid(b) {
		return "", errors.Wrap(ErrBadEncoding, "decoded payload is not utf-8")
	}

	return string(b), nil
}

func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	payload, err := json.Marshal(desc)
	if err != nil {
		return "", errors.Wrap(err, "marshal session description")
	}

	return Encode(string(payload)), nil
}

func DecodeDescription(s string) (webrtc.SessionDescription, error) {
	desc := webrtc.SessionDescription{}

	payload, err := Decode(s)
	if err != nil {
		return desc, err
	}

	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return desc, errors.Wrapf(ErrBadEncoding, "json: %s", err)
	}

	return desc, nil
}
