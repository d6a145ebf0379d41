// Package failure defines the error taxonomy shared by every cutover component.
//
// Each kind has a sentinel reachable via errors.Is and a concrete type that
// carries detail, reachable via errors.As:
//   - PreconditionError: configuration missing or release ordering violated
//   - InsufficientHistoryError: not enough entries in a timeline
//   - RemoteCommandError: a remote or local command failed
//   - UserAbort: the operator declined a confirmation gate
package failure

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPrecondition        = errors.New("precondition failed")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrRemoteCommand       = errors.New("remote command failed")
	ErrUserAbort           = errors.New("aborted by user")
)

// PreconditionError reports a setting that must be fixed before retrying.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string {
	if e == nil || e.Msg == "" {
		return ErrPrecondition.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPrecondition, e.Msg)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// Preconditionf builds a PreconditionError.
func Preconditionf(format string, args ...any) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientHistoryError names the timelines lacking a previous entry.
type InsufficientHistoryError struct {
	Operation string
	Missing   []string
}

func (e *InsufficientHistoryError) Error() string {
	if e == nil {
		return ErrInsufficientHistory.Error()
	}
	msg := ErrInsufficientHistory.Error()
	if e.Operation != "" {
		msg = e.Operation + ": " + msg
	}
	if len(e.Missing) > 0 {
		msg += ": no previous " + strings.Join(e.Missing, ", ")
	}
	return msg
}

func (e *InsufficientHistoryError) Unwrap() error { return ErrInsufficientHistory }

// RemoteCommandError records a command that returned a failure result.
type RemoteCommandError struct {
	Host    string
	Command string
	Output  string
	Err     error
}

func (e *RemoteCommandError) Error() string {
	if e == nil {
		return ErrRemoteCommand.Error()
	}
	host := e.Host
	if host == "" {
		host = "local"
	}
	msg := fmt.Sprintf("%s on %s: %q", ErrRemoteCommand, host, e.Command)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += " (output: " + out + ")"
	}
	return msg
}

// Is lets errors.Is match both the sentinel and the wrapped cause.
func (e *RemoteCommandError) Is(target error) bool { return target == ErrRemoteCommand }

func (e *RemoteCommandError) Unwrap() error { return e.Err }

// UserAbort reports a declined confirmation gate.
type UserAbort struct {
	Prompt string
}

func (e *UserAbort) Error() string {
	if e == nil || e.Prompt == "" {
		return ErrUserAbort.Error()
	}
	return fmt.Sprintf("%s at %q", ErrUserAbort, e.Prompt)
}

func (e *UserAbort) Unwrap() error { return ErrUserAbort }
