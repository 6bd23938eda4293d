package signal

import (
	"fmt"
	"io"

	"webrtc-streamer/pkg/log"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
)

// Output receives the encoded answer.
type Output interface {
	WriteAnswer(answer string) error
}

// Clipboard copies the answer to the system clipboard and prints it to
// Fallback when the clipboard is unavailable.
type Clipboard struct {
	Fallback io.Writer
}

func (c *Clipboard) WriteAnswer(answer string) error {
	if !clipboard.Unsupported {
		err := clipboard.WriteAll(answer)
		if err == nil {
			log.Info("Copied description to clipboard")

			return nil
		}

		log.Warnf("Failed to copy description to clipboard: %s", err)
	}

	_, err := fmt.Fprintln(c.Fallback, answer)

	return errors.Wrap(err, "print answer")
}
