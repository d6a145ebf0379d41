// Package remotetest provides an in-memory remote.Executor for tests.
//
// Fake simulates the small shell vocabulary the release core issues against
// a host (ls, mkdir, rm, ln, readlink, test, cat, mv, echo redirection,
// command -v) over an in-memory tree of directories, files and symlinks.
// Anything else (tar, drush, git, scp, chmod, pipelines) is recorded and
// succeeds. Commands chained with && and || are evaluated left to right with
// shell short-circuit rules.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// ErrInjected is returned by commands matched by FailOn when no error is given.
var ErrInjected = errors.New("injected failure")

type rule struct {
	match func(cmd string) bool
	err   error
	times int // remaining failures; <0 means unlimited
}

// Fake is a scriptable remote.Executor.
type Fake struct {
	HostName string

	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string]string
	links    map[string]string
	missing  map[string]bool
	rules    []*rule
	commands []string
	executed []string
}

// New returns an empty Fake for host.
func New(host string) *Fake {
	return &Fake{
		HostName: host,
		dirs:     map[string]bool{"/": true},
		files:    make(map[string]string),
		links:    make(map[string]string),
		missing:  make(map[string]bool),
	}
}

// Host implements remote.Executor.
func (f *Fake) Host() string { return f.HostName }

// Mkdir creates directories (and parents).
func (f *Fake) Mkdir(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.mkdirAll(path.Clean(p))
	}
}

// WriteFile creates a file, creating parent directories.
func (f *Fake) WriteFile(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.mkdirAll(path.Dir(p))
	f.files[p] = content
}

// Symlink points link at target.
func (f *Fake) Symlink(target, link string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link = path.Clean(link)
	f.mkdirAll(path.Dir(link))
	f.links[link] = target
}

// MissingCommand makes `command -v name` fail.
func (f *Fake) MissingCommand(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[name] = true
}

// FailOn makes every simple command containing substr fail with err
// (ErrInjected when nil).
func (f *Fake) FailOn(substr string, err error) {
	f.FailWhen(func(cmd string) bool { return strings.Contains(cmd, substr) }, err, -1)
}

// FailOnce makes the next simple command containing substr fail.
func (f *Fake) FailOnce(substr string, err error) {
	f.FailWhen(func(cmd string) bool { return strings.Contains(cmd, substr) }, err, 1)
}

// FailWhen registers a failure rule. times < 0 fails forever.
func (f *Fake) FailWhen(match func(cmd string) bool, err error, times int) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{match: match, err: err, times: times})
}

// Exists reports whether p is a directory, file, or link.
func (f *Fake) Exists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists(path.Clean(p))
}

// Link returns the target of link.
func (f *Fake) Link(link string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.links[path.Clean(link)]
	return t, ok
}

// ReadFile returns file content.
func (f *Fake) ReadFile(p string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.files[path.Clean(p)]
	return c, ok
}

// Commands returns every command line passed to Run.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Executed returns every simple command that actually ran (sudo stripped).
func (f *Fake) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// ExecutedMatching returns executed simple commands starting with prefix.
func (f *Fake) ExecutedMatching(prefix string) []string {
	var out []string
	for _, c := range f.Executed() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded commands but keeps the tree and rules.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = nil
	f.executed = nil
}

// Run implements remote.Executor.
func (f *Fake) Run(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)

	var (
		out     strings.Builder
		lastErr error
		ok      = true
	)
	segments, ops := splitChain(cmd)
	for i, seg := range segments {
		if i > 0 {
			if ops[i-1] == "&&" && !ok {
				continue
			}
			if ops[i-1] == "||" && ok {
				continue
			}
		}
		o, err := f.exec(seg)
		out.WriteString(o)
		ok = err == nil
		lastErr = err
	}
	if !ok {
		return out.String(), lastErr
	}
	return out.String(), nil
}

func splitChain(cmd string) ([]string, []string) {
	var segments, ops []string
	rest := cmd
	for {
		iAnd := strings.Index(rest, " && ")
		iOr := strings.Index(rest, " || ")
		idx, op := -1, ""
		switch {
		case iAnd >= 0 && (iOr < 0 || iAnd < iOr):
			idx, op = iAnd, "&&"
		case iOr >= 0:
			idx, op = iOr, "||"
		}
		if idx < 0 {
			segments = append(segments, strings.TrimSpace(rest))
			return segments, ops
		}
		segments = append(segments, strings.TrimSpace(rest[:idx]))
		ops = append(ops, op)
		rest = rest[idx+4:]
	}
}

func (f *Fake) exec(seg string) (string, error) {
	seg = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(seg), "sudo "))
	f.executed = append(f.executed, seg)

	for _, r := range f.rules {
		if r.times != 0 && r.match(seg) {
			if r.times > 0 {
				r.times--
			}
			return "", r.err
		}
	}

	// Pipelines and redirection into files.
	if strings.Contains(seg, " | ") {
		return "", nil
	}
	if i := strings.Index(seg, " > "); i >= 0 {
		target := path.Clean(strings.TrimSpace(seg[i+3:]))
		content := ""
		if fields := strings.Fields(seg[:i]); len(fields) > 0 && fields[0] == "echo" {
			content = strings.Join(fields[1:], " ") + "\n"
		}
		f.mkdirAll(path.Dir(target))
		f.files[target] = content
		return "", nil
	}

	fields := strings.Fields(seg)
	if len(fields) == 0 {
		return "", nil
	}
	args := fields[1:]

	switch fields[0] {
	case "true", "cd", "chmod", "chown":
		return "", nil
	case "false":
		return "", errors.New("exit status 1")
	case "ls":
		return f.ls(args)
	case "mkdir":
		for _, p := range operands(args) {
			f.mkdirAll(path.Clean(p))
		}
		return "", nil
	case "rm":
		return f.rm(args)
	case "ln":
		return f.ln(args)
	case "readlink":
		ops := operands(args)
		if len(ops) != 1 {
			return "", errors.New("readlink: bad usage")
		}
		t, ok := f.links[path.Clean(ops[0])]
		if !ok {
			return "", errors.New("exit status 1")
		}
		return t + "\n", nil
	case "test":
		return f.test(args)
	case "cat":
		ops := operands(args)
		var sb strings.Builder
		for _, p := range ops {
			c, ok := f.files[path.Clean(p)]
			if !ok {
				return sb.String(), fmt.Errorf("cat: %s: No such file or directory", p)
			}
			sb.WriteString(c)
		}
		return sb.String(), nil
	case "mv":
		return f.mv(args)
	case "command":
		if len(args) == 2 && args[0] == "-v" {
			if f.missing[args[1]] {
				return "", errors.New("exit status 1")
			}
			return "/usr/bin/" + args[1] + "\n", nil
		}
		return "", nil
	default:
		return "", nil
	}
}

func operands(args []string) []string {
	var out []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func flags(args []string) string {
	var sb strings.Builder
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			sb.WriteString(strings.TrimLeft(a, "-"))
		}
	}
	return sb.String()
}

func (f *Fake) exists(p string) bool {
	if f.dirs[p] {
		return true
	}
	if _, ok := f.files[p]; ok {
		return true
	}
	_, ok := f.links[p]
	return ok
}

func (f *Fake) mkdirAll(p string) {
	for p != "/" && p != "." && !f.dirs[p] {
		f.dirs[p] = true
		p = path.Dir(p)
	}
}

func (f *Fake) ls(args []string) (string, error) {
	ops := operands(args)
	if len(ops) != 1 {
		return "", errors.New("ls: fake supports one directory")
	}
	dir := path.Clean(ops[0])
	if !f.dirs[dir] {
		return "", fmt.Errorf("ls: cannot access '%s': No such file or directory", dir)
	}
	var names []string
	collect := func(p string) {
		if p != dir && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	for p := range f.dirs {
		collect(p)
	}
	for p := range f.files {
		collect(p)
	}
	for p := range f.links {
		collect(p)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", nil
	}
	return strings.Join(names, "\n") + "\n", nil
}

func (f *Fake) rm(args []string) (string, error) {
	force := strings.Contains(flags(args), "f")
	for _, p := range operands(args) {
		p = path.Clean(p)
		if !f.exists(p) {
			if force {
				continue
			}
			return "", fmt.Errorf("rm: cannot remove '%s': No such file or directory", p)
		}
		f.removeTree(p)
	}
	return "", nil
}

func (f *Fake) removeTree(p string) {
	if _, ok := f.links[p]; ok {
		delete(f.links, p)
		return
	}
	prefix := p + "/"
	for d := range f.dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(f.dirs, d)
		}
	}
	for fp := range f.files {
		if fp == p || strings.HasPrefix(fp, prefix) {
			delete(f.files, fp)
		}
	}
	for l := range f.links {
		if strings.HasPrefix(l, prefix) {
			delete(f.links, l)
		}
	}
}

func (f *Fake) ln(args []string) (string, error) {
	ops := operands(args)
	if len(ops) != 2 {
		return "", errors.New("ln: fake supports ln -s TARGET LINK")
	}
	link := path.Clean(ops[1])
	if f.exists(link) {
		return "", fmt.Errorf("ln: failed to create symbolic link '%s': File exists", link)
	}
	f.mkdirAll(path.Dir(link))
	f.links[link] = ops[0]
	return "", nil
}

func (f *Fake) test(args []string) (string, error) {
	if len(args) != 2 {
		return "", errors.New("test: fake supports test -X PATH")
	}
	p := path.Clean(args[1])
	var ok bool
	switch args[0] {
	case "-L", "-h":
		_, ok = f.links[p]
	case "-d":
		ok = f.dirs[p]
	case "-f":
		_, ok = f.files[p]
	case "-e", "-w":
		ok = f.exists(p)
	}
	if !ok {
		return "", errors.New("exit status 1")
	}
	return "", nil
}

func (f *Fake) mv(args []string) (string, error) {
	ops := operands(args)
	if len(ops) != 2 {
		return "", errors.New("mv: fake supports mv SRC DST")
	}
	src, dst := path.Clean(ops[0]), path.Clean(ops[1])
	if f.dirs[dst] {
		dst = path.Join(dst, path.Base(src))
	}
	content := f.files[src]
	delete(f.files, src)
	f.mkdirAll(path.Dir(dst))
	f.files[dst] = content
	return "", nil
}
