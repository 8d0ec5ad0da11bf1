package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// LinePrompter asks for a retry on a line-oriented terminal. An empty line
// retries the current host, "q" declines, anything else is the new host.
type LinePrompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewLinePrompter creates a LinePrompter reading r and writing prompts to w.
func NewLinePrompter(r io.Reader, w io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewScanner(r), out: w}
}

// PromptRetry implements RetryPrompter.
func (p *LinePrompter) PromptRetry(ctx context.Context, reason, host string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	fmt.Fprintf(p.out, "%s\nserver [%s] (q to quit): ", reason, host)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	line := strings.TrimSpace(p.in.Text())
	if line == "q" || line == "quit" {
		return "", false, nil
	}
	return line, true, nil
}
