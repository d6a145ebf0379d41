// Package upload copies individual files from the operator machine into the
// live release, once or every time they change.
package upload

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/release"
)

// DefaultDebounce is how long Watch waits for more changes before uploading.
const DefaultDebounce = 300 * time.Millisecond

// Uploader pushes files into the current release of one site.
type Uploader struct {
	site *release.Site
	// Root is the local directory file names are relative to; empty means
	// the working directory.
	Root     string
	Debounce time.Duration
}

// New returns an Uploader for site.
func New(site *release.Site) *Uploader {
	return &Uploader{site: site, Debounce: DefaultDebounce}
}

// Upload copies each file to the same relative path under current.
func (u *Uploader) Upload(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return failure.Preconditionf("no files to upload")
	}
	for _, f := range files {
		if err := validate(f); err != nil {
			return err
		}
	}

	current := u.site.Config.Paths.Current
	for _, f := range files {
		rel := filepath.ToSlash(filepath.Clean(f))
		src := filepath.Join(u.Root, f)
		if _, err := u.site.RunLocal(ctx, u.site.SCP(src, ":"+path.Join(current, rel))); err != nil {
			return err
		}
		u.site.Logger.Info("uploaded", "file", rel)
	}
	return nil
}

func validate(f string) error {
	if filepath.IsAbs(f) {
		return failure.Preconditionf("upload path %q must be relative to the site root", f)
	}
	clean := filepath.Clean(f)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return failure.Preconditionf("upload path %q leaves the site root", f)
	}
	if strings.ContainsAny(f, " \t\n'\"") {
		return failure.Preconditionf("upload path %q must not contain whitespace or quotes", f)
	}
	return nil
}

// Watch uploads files whenever they are written, batching changes that
// arrive within the debounce window, until ctx is cancelled. Upload
// failures are passed to onUpload (when set) and logged; they do not stop
// the watch.
func (u *Uploader) Watch(ctx context.Context, files []string, onUpload func(files []string, err error)) error {
	if len(files) == 0 {
		return failure.Preconditionf("no files to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch parent directories: editors often replace files by rename.
	watched := make(map[string]string, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		if err := validate(f); err != nil {
			return err
		}
		local := filepath.Clean(filepath.Join(u.Root, f))
		watched[local] = f
		dir := filepath.Dir(local)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	debounce := u.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	u.site.Logger.Info("watching for changes", "files", len(files))
	pending := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			f, ok := watched[filepath.Clean(event.Name)]
			if !ok {
				continue
			}
			pending[f] = true
			resetTimer(timer, debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			u.site.Logger.Warn("watch error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for f := range pending {
				batch = append(batch, f)
			}
			sort.Strings(batch)
			pending = make(map[string]bool)

			err := u.Upload(ctx, batch)
			if err != nil {
				u.site.Logger.Warn("upload failed", "error", err)
			}
			if onUpload != nil {
				onUpload(batch, err)
			}
		}
	}
}

// resetTimer restarts t, discarding a tick that fired but was not received
// so a stale expiry cannot cut the new window short.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
