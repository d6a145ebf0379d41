// Package remote provides the command execution capabilities the release
// core depends on: running a shell command on a target host and on the
// operator's machine.
//
// Executors return the command's combined output. A non-zero exit is
// returned as an error together with whatever output was produced; callers
// classify it (see internal/failure).
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Executor runs a single shell command and returns its combined output.
type Executor interface {
	Run(ctx context.Context, cmd string) (string, error)
	// Host names the machine commands run on ("" for the operator machine).
	Host() string
}

// SSH runs commands on a remote host through the system ssh client.
type SSH struct {
	Address string
	User    string
	Port    int
	// Options are passed to ssh as -o values (e.g. "BatchMode=yes").
	Options []string
}

// Target returns user@address, or address when no user is set.
func (s *SSH) Target() string {
	if s.User == "" {
		return s.Address
	}
	return s.User + "@" + s.Address
}

// Host implements Executor.
func (s *SSH) Host() string { return s.Address }

// Args returns the ssh argument list used to run cmd.
func (s *SSH) Args(cmd string) []string {
	args := make([]string, 0, len(s.Options)*2+4)
	for _, opt := range s.Options {
		args = append(args, "-o", opt)
	}
	if s.Port > 0 {
		args = append(args, "-p", strconv.Itoa(s.Port))
	}
	return append(args, s.Target(), cmd)
}

// Run implements Executor.
func (s *SSH) Run(ctx context.Context, cmd string) (string, error) {
	return run(ctx, "ssh", s.Args(cmd)...)
}

// Local runs commands on the operator machine through sh -c.
type Local struct {
	// Dir is the working directory for every command; empty uses the process cwd.
	Dir string
}

// Host implements Executor.
func (l *Local) Host() string { return "" }

// Run implements Executor.
func (l *Local) Run(ctx context.Context, cmd string) (string, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = l.Dir
	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf
	if err := c.Run(); err != nil {
		return buf.String(), fmt.Errorf("sh -c failed: %w", err)
	}
	return buf.String(), nil
}

func run(ctx context.Context, name string, args ...string) (string, error) {
	c := exec.CommandContext(ctx, name, args...)
	output, err := c.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s failed: %w", name, err)
	}
	return string(output), nil
}

// DryRun prints commands instead of running them. Every command succeeds
// with empty output, so listings come back empty and pointers undefined.
type DryRun struct {
	HostName string
	Printf   func(format string, args ...any)

	mu       sync.Mutex
	commands []string
}

// Host implements Executor.
func (d *DryRun) Host() string { return d.HostName }

// Run implements Executor.
func (d *DryRun) Run(_ context.Context, cmd string) (string, error) {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()

	if d.Printf != nil {
		host := d.HostName
		if host == "" {
			host = "local"
		}
		d.Printf("[dry-run] %s: %s\n", host, cmd)
	}
	return "", nil
}

// Commands returns the commands seen so far.
func (d *DryRun) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Sudo prefixes cmd with sudo when enabled.
func Sudo(enabled bool, cmd string) string {
	if !enabled {
		return cmd
	}
	return "sudo " + cmd
}

// Join chains commands with && so the first failure stops the chain.
func Join(cmds ...string) string {
	return strings.Join(cmds, " && ")
}
