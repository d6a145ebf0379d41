package release

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/blackwell-systems/cutover/internal/failure"
)

// IDLayout is the time layout of artifact ids.
const IDLayout = "20060102150405"

// Artifact name suffixes.
const (
	SnapshotSuffix = "-snapshot.sql.bz2"
	ArchiveSuffix  = "-files.tar.bz2"
)

// Entry is one artifact in a timeline.
type Entry struct {
	ID   string
	Path string
}

// Time parses the id back into a UTC timestamp.
func (e Entry) Time() (time.Time, error) {
	return time.ParseInLocation(IDLayout, e.ID, time.UTC)
}

// NewID formats t as an artifact id.
func NewID(t time.Time) string {
	return t.UTC().Format(IDLayout)
}

// ValidID reports whether s is a fixed-width timestamp id.
func ValidID(s string) bool {
	if len(s) != len(IDLayout) {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Kind describes how one artifact history is laid out on the host.
type Kind struct {
	Name   string
	Dir    string
	Suffix string
	IsDir  bool
}

// ReleaseKind describes release directories under dir.
func ReleaseKind(dir string) Kind {
	return Kind{Name: "releases", Dir: dir, IsDir: true}
}

// SnapshotKind describes database snapshots under dir.
func SnapshotKind(dir string) Kind {
	return Kind{Name: "snapshots", Dir: dir, Suffix: SnapshotSuffix}
}

// ArchiveKind describes files archives under dir.
func ArchiveKind(dir string) Kind {
	return Kind{Name: "archives", Dir: dir, Suffix: ArchiveSuffix}
}

// FileName returns the artifact name for id.
func (k Kind) FileName(id string) string {
	return id + k.Suffix
}

// EntryFor returns the entry an artifact with id would have.
func (k Kind) EntryFor(id string) Entry {
	return Entry{ID: id, Path: path.Join(k.Dir, k.FileName(id))}
}

// parse extracts the id from a directory listing name.
func (k Kind) parse(name string) (string, bool) {
	if !strings.HasSuffix(name, k.Suffix) {
		return "", false
	}
	id := strings.TrimSuffix(name, k.Suffix)
	if !ValidID(id) {
		return "", false
	}
	return id, true
}

// Timeline is an ordered history of one artifact kind on one host, oldest
// first. The in-memory view reflects the last List plus the Append and
// Remove calls made through this Timeline since.
type Timeline struct {
	site    *Site
	kind    Kind
	entries []Entry
	loaded  bool
}

func newTimeline(site *Site, kind Kind) *Timeline {
	return &Timeline{site: site, kind: kind}
}

// Kind returns the artifact kind.
func (t *Timeline) Kind() Kind { return t.kind }

// List reads the remote directory and returns its entries sorted by id.
// Names that are not artifacts of this kind are ignored.
func (t *Timeline) List(ctx context.Context) ([]Entry, error) {
	out, err := t.site.Run(ctx, "ls -1 "+t.kind.Dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		id, ok := t.kind.parse(name)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, Entry{ID: id, Path: path.Join(t.kind.Dir, name)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	t.entries = entries
	t.loaded = true
	return t.Entries(), nil
}

// Loaded reports whether List has run.
func (t *Timeline) Loaded() bool { return t.loaded }

// Entries returns a copy of the current view.
func (t *Timeline) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Len returns the number of entries in the view.
func (t *Timeline) Len() int { return len(t.entries) }

// Latest returns the newest entry.
func (t *Timeline) Latest() (Entry, bool) {
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Previous returns the second newest entry. A timeline with fewer than two
// entries has no previous entry; that is not an error.
func (t *Timeline) Previous() (Entry, bool) {
	if len(t.entries) < 2 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-2], true
}

// Contains reports whether id is in the view.
func (t *Timeline) Contains(id string) bool {
	for _, e := range t.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Append records a new newest entry. Release directories are created;
// file artifacts must already have been written by the caller and are
// only checked for existence.
func (t *Timeline) Append(ctx context.Context, e Entry) error {
	if !ValidID(e.ID) {
		return failure.Preconditionf("%s: invalid id %q", t.kind.Name, e.ID)
	}
	if latest, ok := t.Latest(); ok && e.ID <= latest.ID {
		return failure.Preconditionf("%s: id %s is not newer than latest %s", t.kind.Name, e.ID, latest.ID)
	}
	if e.Path == "" {
		e.Path = t.kind.EntryFor(e.ID).Path
	}

	cmd := "test -f " + e.Path
	if t.kind.IsDir {
		cmd = "mkdir -p " + e.Path
	}
	if _, err := t.site.Run(ctx, cmd); err != nil {
		return err
	}

	t.entries = append(t.entries, e)
	return nil
}

// Remove deletes the entry's backing path and drops it from the view.
// Removing an entry that is already gone succeeds.
func (t *Timeline) Remove(ctx context.Context, e Entry) error {
	flag := "-f"
	if t.kind.IsDir {
		flag = "-rf"
	}
	if _, err := t.site.Run(ctx, t.site.Sudo("rm "+flag+" "+e.Path)); err != nil {
		return err
	}
	t.drop(e.ID)
	return nil
}

func (t *Timeline) drop(id string) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}
