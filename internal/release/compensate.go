package release

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCompensationTimeout bounds each compensation action.
const DefaultCompensationTimeout = 5 * time.Minute

// Compensator undoes the effects of one forward step. Compensations must be
// idempotent: they run whether the step finished, failed halfway, or never
// touched the host.
type Compensator interface {
	Compensate(ctx context.Context) error
}

// CompensatorFunc adapts a function to Compensator.
type CompensatorFunc func(ctx context.Context) error

// Compensate implements Compensator.
func (f CompensatorFunc) Compensate(ctx context.Context) error { return f(ctx) }

// CompensationError records a compensation that failed during unwind.
type CompensationError struct {
	Step string
	Err  error
}

func (e CompensationError) Error() string {
	return "compensate " + e.Step + ": " + e.Err.Error()
}

type pending struct {
	step string
	c    Compensator
}

// Stack holds the compensations of one transaction. Steps push before they
// run; on failure Unwind runs them newest first.
type Stack struct {
	// Timeout bounds each compensation. Zero means DefaultCompensationTimeout.
	Timeout time.Duration
	// OnCompensate, when set, observes every compensation result.
	OnCompensate func(step string, err error)

	entries []pending
}

// Push registers the compensation for step.
func (s *Stack) Push(step string, c Compensator) {
	s.entries = append(s.entries, pending{step: step, c: c})
}

// Len returns the number of pending compensations.
func (s *Stack) Len() int { return len(s.entries) }

// Discard drops every pending compensation; the transaction committed.
func (s *Stack) Discard() { s.entries = nil }

// Unwind runs every pending compensation in LIFO order and empties the
// stack. A failing compensation is logged and does not stop the rest.
// Compensations run even after ctx is cancelled, so an interrupted deploy
// still cleans up.
func (s *Stack) Unwind(ctx context.Context, logger *slog.Logger) []CompensationError {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultCompensationTimeout
	}
	base := context.WithoutCancel(ctx)

	var failed []CompensationError
	for i := len(s.entries) - 1; i >= 0; i-- {
		p := s.entries[i]
		logger.Info("compensating", "step", p.step)

		stepCtx, cancel := context.WithTimeout(base, timeout)
		err := p.c.Compensate(stepCtx)
		cancel()

		if err != nil {
			logger.Warn("compensation failed", "step", p.step, "error", err)
			failed = append(failed, CompensationError{Step: p.step, Err: err})
		}
		if s.OnCompensate != nil {
			s.OnCompensate(p.step, err)
		}
	}
	s.entries = nil
	return failed
}
