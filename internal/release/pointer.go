package release

import (
	"context"
	"path"
	"strings"

	"github.com/blackwell-systems/cutover/internal/failure"
)

// Pointer is the host's current symlink.
type Pointer struct {
	site *Site
}

// Path returns the symlink location.
func (p *Pointer) Path() string { return p.site.Config.Paths.Current }

// Current reads the symlink target. ok is false when no pointer exists yet.
func (p *Pointer) Current(ctx context.Context) (target string, ok bool, err error) {
	link := p.Path()
	out, err := p.site.Run(ctx, "test -L "+link+" && readlink "+link+" || true")
	if err != nil {
		return "", false, err
	}
	target = strings.TrimSpace(out)
	return target, target != "", nil
}

// Release resolves the pointer to an entry of the release timeline.
func (p *Pointer) Release(ctx context.Context) (Entry, bool, error) {
	target, ok, err := p.Current(ctx)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	for _, e := range p.site.Releases.Entries() {
		if references(target, e) {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// References reports whether the live pointer names e or a path inside it.
func (p *Pointer) References(ctx context.Context, e Entry) (bool, error) {
	target, ok, err := p.Current(ctx)
	if err != nil || !ok {
		return false, err
	}
	return references(target, e), nil
}

func references(target string, e Entry) bool {
	target = path.Clean(target)
	return target == e.Path || strings.HasPrefix(target, e.Path+"/")
}

// Switch repoints current at the docroot of target, which must be in the
// release timeline. Switch is its own transaction: if repointing fails the
// previous target is restored (or the pointer removed when there was none)
// before the error is returned.
func (p *Pointer) Switch(ctx context.Context, target Entry) error {
	if !p.site.Releases.Contains(target.ID) {
		return failure.Preconditionf("release %s is not in the release timeline", target.ID)
	}

	prior, hadPrior, err := p.Current(ctx)
	if err != nil {
		return err
	}

	link := p.Path()
	var stack Stack
	stack.Push("switch", CompensatorFunc(func(ctx context.Context) error {
		if !hadPrior {
			_, err := p.site.Run(ctx, "rm -f "+link)
			return err
		}
		_, err := p.site.Run(ctx, "rm -f "+link+" && ln -s "+prior+" "+link)
		return err
	}))

	next := p.site.Docroot(target)
	for _, cmd := range []string{"rm -f " + link, "ln -s " + next + " " + link} {
		if _, err := p.site.Run(ctx, cmd); err != nil {
			stack.Unwind(ctx, p.site.Logger)
			return err
		}
	}
	stack.Discard()

	p.site.Logger.Info("switched current release", "release", target.ID, "target", next)
	return nil
}
