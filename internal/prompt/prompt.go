// Package prompt provides the confirmation capability required by every
// destructive cutover operation.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Confirmer asks the operator to approve an action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Interactive reads y/yes answers from a reader. Anything else is a decline.
//
// A single goroutine owns the reader for the lifetime of the Interactive. A
// Confirm abandoned through its context leaves the next line to the next
// Confirm rather than dropping it.
type Interactive struct {
	in  *bufio.Reader
	out io.Writer

	once    sync.Once
	answers chan answer
}

type answer struct {
	line string
	err  error
}

// NewInteractive prompts on stdout and reads stdin.
func NewInteractive() *Interactive {
	return NewInteractiveWithIO(os.Stdin, os.Stdout)
}

// NewInteractiveWithIO prompts on w and reads r.
func NewInteractiveWithIO(r io.Reader, w io.Writer) *Interactive {
	return &Interactive{in: bufio.NewReader(r), out: w}
}

// readLines feeds answers until the reader fails; the channel is closed
// after the failing read is delivered.
func (p *Interactive) readLines() {
	defer close(p.answers)
	for {
		line, err := p.in.ReadString('\n')
		p.answers <- answer{line, err}
		if err != nil {
			return
		}
	}
}

// Confirm implements Confirmer.
func (p *Interactive) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.once.Do(func() {
		p.answers = make(chan answer)
		go p.readLines()
	})
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a, ok := <-p.answers:
		if !ok {
			// Input already ended.
			return false, nil
		}
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, fmt.Errorf("failed to read answer: %w", a.err)
		}
		response := strings.TrimSpace(strings.ToLower(a.line))
		return response == "y" || response == "yes", nil
	}
}

// AutoApprove approves every prompt (--yes).
type AutoApprove struct{}

// Confirm implements Confirmer.
func (AutoApprove) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// NonInteractive declines every prompt. Used when stdin is not a terminal
// and --yes was not given.
type NonInteractive struct{}

// Confirm implements Confirmer.
func (NonInteractive) Confirm(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// Func adapts a function to Confirmer.
type Func func(ctx context.Context, prompt string) (bool, error)

// Confirm implements Confirmer.
func (f Func) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}
