package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelsReachableThroughWrapping(t *testing.T) {
	cause := errors.New("exit status 1")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"precondition", Preconditionf("application is required"), ErrPrecondition},
		{"history", &InsufficientHistoryError{Operation: "rollback", Missing: []string{"releases"}}, ErrInsufficientHistory},
		{"remote", &RemoteCommandError{Host: "web1", Command: "ls", Err: cause}, ErrRemoteCommand},
		{"abort", &UserAbort{Prompt: "Deploy?"}, ErrUserAbort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("step failed: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, tt.sentinel)
			}
		})
	}
}

func TestRemoteCommandErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("deploy: %w", &RemoteCommandError{Host: "web1", Command: "ln -s a b", Err: cause, Output: "  boom \n"})

	if !errors.Is(err, cause) {
		t.Error("cause should remain reachable through errors.Is")
	}

	var rce *RemoteCommandError
	if !errors.As(err, &rce) {
		t.Fatal("errors.As should find *RemoteCommandError")
	}
	if rce.Host != "web1" {
		t.Errorf("Host = %q, want web1", rce.Host)
	}

	msg := err.Error()
	for _, want := range []string{"web1", "ln -s a b", "connection reset", "output: boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestRemoteCommandErrorLocalHost(t *testing.T) {
	err := &RemoteCommandError{Command: "tar cjf x"}
	if !strings.Contains(err.Error(), "on local") {
		t.Errorf("empty host should render as local, got %q", err.Error())
	}
}

func TestInsufficientHistoryMessage(t *testing.T) {
	err := &InsufficientHistoryError{Operation: "rollback", Missing: []string{"releases", "snapshots"}}
	want := "rollback: insufficient history: no previous releases, snapshots"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	err := Preconditionf("keep must be positive")
	if errors.Is(err, ErrRemoteCommand) || errors.Is(err, ErrUserAbort) || errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("precondition error matched an unrelated sentinel: %v", err)
	}
}
