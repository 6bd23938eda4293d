package signal

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Console reads the offer as one line of text and hands the answer to an Output.
type Console struct {
	in  *bufio.Reader
	out Output
}

func NewConsole(in io.Reader, out Output) *Console {
	return &Console{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// ReadOffer blocks until a line is read or ctx is done. A final line without a
// newline is accepted.
func (c *Console) ReadOffer(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}

	lines := make(chan result, 1)

	go func() {
		line, err := c.in.ReadString('\n')
		lines <- result{line: line, err: err}
	}()

	select {
	case res := <-lines:
		if res.err != nil && (res.err != io.EOF || len(res.line) == 0) {
			return "", errors.Wrap(res.err, "read offer")
		}

		return strings.TrimSpace(res.line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Console) WriteAnswer(answer string) error {
	return c.out.WriteAnswer(answer)
}
