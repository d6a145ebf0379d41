package release

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/cutover/internal/config"
	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/logging"
	"github.com/blackwell-systems/cutover/internal/remote/remotetest"
)

const (
	deployTo = "/srv/mysite"
	releases = deployTo + "/releases"
	dumps    = deployTo + "/shared/dumps"
	backups  = deployTo + "/shared/files_backup"
	current  = deployTo + "/current"

	idA = "20260101000000"
	idB = "20260201000000"
	idC = "20260301000000"
)

// fixedNow is after every seeded id.
var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	site   *Site
	host   *remotetest.Fake
	local  *remotetest.Fake
	config *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Resolve(&config.File{
		Application: "mysite",
		Repository:  "git@example.com:acme/mysite.git",
		DeployTo:    deployTo,
		User:        "deploy",
		Source:      config.Source{Root: "/home/dev/mysite"},
		Hosts:       []config.HostFile{{Name: "web1", Address: "web1.example.com"}},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	host := remotetest.New("web1.example.com")
	host.Mkdir(releases, dumps, backups, deployTo+"/shared/files")
	local := remotetest.New("")

	return &fixture{
		site:   NewSite(cfg, cfg.Hosts[0], host, local, logging.Discard()),
		host:   host,
		local:  local,
		config: cfg,
	}
}

// seed creates a release with a matching snapshot and archive for each id.
func (f *fixture) seed(ids ...string) {
	for _, id := range ids {
		f.seedRelease(id)
		f.seedSnapshot(id)
		f.seedArchive(id)
	}
}

func (f *fixture) seedRelease(id string) {
	f.host.Mkdir(path.Join(releases, id, "drupal"))
	f.host.WriteFile(path.Join(releases, id, "REVISION"), "rev-"+id+"\n")
}

func (f *fixture) seedSnapshot(id string) {
	f.host.WriteFile(path.Join(dumps, id+SnapshotSuffix), "")
}

func (f *fixture) seedArchive(id string) {
	f.host.WriteFile(path.Join(backups, id+ArchiveSuffix), "")
}

func (f *fixture) point(id string) {
	f.host.Symlink(path.Join(releases, id, "drupal"), current)
}

func (f *fixture) currentTarget(t *testing.T) string {
	t.Helper()
	target, _ := f.host.Link(current)
	return target
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func executedWith(f *remotetest.Fake, prefix string) bool {
	for _, cmd := range f.Executed() {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

func TestTimelineListSortsAndFilters(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{idC, idA, idB} {
		f.seedRelease(id)
	}
	f.host.Mkdir(releases+"/README", releases+"/2026", releases+"/2026010100000x")
	f.host.WriteFile(path.Join(dumps, idB+SnapshotSuffix), "")
	f.host.WriteFile(path.Join(dumps, "notes.txt"), "")
	f.host.WriteFile(path.Join(dumps, idA+".sql"), "")

	entries, err := f.site.Releases.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if got := strings.Join(ids(entries), ","); got != idA+","+idB+","+idC {
		t.Errorf("List() ids = %s", got)
	}
	if entries[0].Path != path.Join(releases, idA) {
		t.Errorf("entry path = %q", entries[0].Path)
	}

	snaps, err := f.site.Snapshots.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != idB || snaps[0].Path != path.Join(dumps, idB+SnapshotSuffix) {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestTimelineListMissingDir(t *testing.T) {
	f := newFixture(t)
	f.host.Reset()
	f.host.FailOn("ls -1 "+releases, nil)

	_, err := f.site.Releases.List(context.Background())
	var rce *failure.RemoteCommandError
	if !errors.As(err, &rce) {
		t.Fatalf("List() error = %v, want RemoteCommandError", err)
	}
	if rce.Host != "web1.example.com" {
		t.Errorf("Host = %q", rce.Host)
	}
}

func TestTimelinePreviousNeedsTwo(t *testing.T) {
	tests := []struct {
		name   string
		seeded []string
		want   string
		ok     bool
	}{
		{"empty", nil, "", false},
		{"one", []string{idA}, "", false},
		{"two", []string{idA, idB}, idA, true},
		{"three", []string{idA, idB, idC}, idB, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for _, id := range tt.seeded {
				f.seedRelease(id)
			}
			if _, err := f.site.Releases.List(context.Background()); err != nil {
				t.Fatalf("List() error: %v", err)
			}
			got, ok := f.site.Releases.Previous()
			if ok != tt.ok || got.ID != tt.want {
				t.Errorf("Previous() = %q, %v; want %q, %v", got.ID, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestTimelineAppendMonotonic(t *testing.T) {
	f := newFixture(t)
	f.seedRelease(idB)
	ctx := context.Background()
	tl := f.site.Releases
	if _, err := tl.List(ctx); err != nil {
		t.Fatalf("List() error: %v", err)
	}

	for _, id := range []string{idA, idB, "not-an-id"} {
		if err := tl.Append(ctx, tl.Kind().EntryFor(id)); !errors.Is(err, failure.ErrPrecondition) {
			t.Errorf("Append(%s) error = %v, want PreconditionError", id, err)
		}
	}
	if executedWith(f.host, "mkdir") {
		t.Error("rejected Append must not touch the host")
	}

	if err := tl.Append(ctx, tl.Kind().EntryFor(idC)); err != nil {
		t.Fatalf("Append(%s) error: %v", idC, err)
	}
	if !f.host.Exists(path.Join(releases, idC)) {
		t.Error("Append should create the release directory")
	}
	if latest, _ := tl.Latest(); latest.ID != idC {
		t.Errorf("Latest() = %q, want %q", latest.ID, idC)
	}
}

func TestTimelineAppendFileRequiresArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tl := f.site.Snapshots
	if _, err := tl.List(ctx); err != nil {
		t.Fatalf("List() error: %v", err)
	}

	if err := tl.Append(ctx, tl.Kind().EntryFor(idA)); !errors.Is(err, failure.ErrRemoteCommand) {
		t.Errorf("Append() without file error = %v, want RemoteCommandError", err)
	}
	if tl.Len() != 0 {
		t.Error("failed Append must not change the view")
	}

	f.seedSnapshot(idA)
	if err := tl.Append(ctx, tl.Kind().EntryFor(idA)); err != nil {
		t.Errorf("Append() error: %v", err)
	}
	if !tl.Contains(idA) {
		t.Error("Contains() should see the appended entry")
	}
}

func TestTimelineRemove(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB)
	ctx := context.Background()
	if err := f.site.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	a := f.site.Releases.Kind().EntryFor(idA)
	if err := f.site.Releases.Remove(ctx, a); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if f.host.Exists(a.Path) || f.site.Releases.Contains(idA) {
		t.Error("Remove() should delete the directory and drop the entry")
	}
	// Already gone is fine.
	if err := f.site.Releases.Remove(ctx, a); err != nil {
		t.Errorf("second Remove() error: %v", err)
	}

	snap := f.site.Snapshots.Kind().EntryFor(idB)
	if err := f.site.Snapshots.Remove(ctx, snap); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if f.host.Exists(snap.Path) {
		t.Error("snapshot file should be gone")
	}
}

func TestNewID(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	id := NewID(time.Date(2026, 3, 4, 7, 8, 9, 0, loc))
	if id != "20260304050809" {
		t.Errorf("NewID() = %q, want UTC 20260304050809", id)
	}
	if !ValidID(id) {
		t.Error("NewID() output should be valid")
	}

	got, err := Entry{ID: id}.Time()
	if err != nil || !got.Equal(time.Date(2026, 3, 4, 5, 8, 9, 0, time.UTC)) {
		t.Errorf("Time() = %v, %v", got, err)
	}

	for _, bad := range []string{"", "2026030405080", "202603040508090", "2026-03-04T05"} {
		if ValidID(bad) {
			t.Errorf("ValidID(%q) = true", bad)
		}
	}
}
