// Package config loads the cutover configuration file.
//
// The YAML file is decoded into File, then Resolve evaluates every derived
// setting exactly once (defaults first, then paths that depend on them) and
// returns an immutable Config. Components receive *Config through their
// constructors and never look settings up on their own.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/cutover/internal/failure"
)

// DefaultFileName is looked up in the working directory, then in Dir().
const DefaultFileName = "cutover.yaml"

// Defaults applied by Resolve.
const (
	DefaultKeepReleases = 5
	DefaultBranch       = "master"
	DefaultDocroot      = "drupal"
	DefaultVersionDir   = "releases"
	DefaultSharedDir    = "shared"
	DefaultCurrentDir   = "current"
	DefaultTmpDir       = "/tmp"
	DefaultWebUser      = "apache"
)

// Dir returns the cutover config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/cutover if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "cutover"), nil
}

// File is the on-disk shape of cutover.yaml.
type File struct {
	Application   string         `yaml:"application"`
	Stage         string         `yaml:"stage"`
	Repository    string         `yaml:"repository"`
	Branch        string         `yaml:"branch"`
	DeployTo      string         `yaml:"deploy_to"`
	Docroot       string         `yaml:"docroot"`
	KeepReleases  int            `yaml:"keep_releases"`
	UseSudo       *bool          `yaml:"use_sudo"`
	GroupWritable *bool          `yaml:"group_writable"`
	User          string         `yaml:"user"`
	Group         string         `yaml:"group"`
	WebUser       string         `yaml:"web_user"`
	VersionDir    string         `yaml:"version_dir"`
	SharedDir     string         `yaml:"shared_dir"`
	CurrentDir    string         `yaml:"current_dir"`
	TmpDir        string         `yaml:"tmp_dir"`
	Shared        SharedChildren `yaml:"shared_children"`
	Source        Source         `yaml:"source"`
	SSHOptions    []string       `yaml:"ssh_options"`
	Hosts         []HostFile     `yaml:"hosts"`
}

// SharedChildren names the directories under shared/.
type SharedChildren struct {
	Dumps       string `yaml:"dumps"`
	Files       string `yaml:"files"`
	FilesBackup string `yaml:"files_backup"`
}

// Source describes the operator-side site that deploys push from and
// pulls write into.
type Source struct {
	// Root is the local Drupal root (where drush runs and sites/default lives).
	Root string `yaml:"root"`
	// Repo is a local checkout used by `pending`; defaults to Root.
	Repo string `yaml:"repo"`
}

// HostFile is one target host entry.
type HostFile struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	User    string `yaml:"user"`
	Port    int    `yaml:"port"`
	Primary bool   `yaml:"primary"`
}

// Host is a resolved target host.
type Host struct {
	Name    string
	Address string
	User    string
	Port    int
	Primary bool
}

// Target returns user@address for scp/ssh, or the bare address.
func (h Host) Target() string {
	if h.User == "" {
		return h.Address
	}
	return h.User + "@" + h.Address
}

// Paths are the remote locations derived from deploy_to.
type Paths struct {
	DeployTo    string
	Releases    string
	Shared      string
	Dumps       string
	Files       string
	FilesBackup string
	Current     string
	Tmp         string
}

// SharedDirs returns every directory setup must create, in creation order.
func (p Paths) SharedDirs() []string {
	return []string{p.DeployTo, p.Releases, p.Shared, p.Dumps, p.Files, p.FilesBackup}
}

// Config is the resolved, read-only configuration.
type Config struct {
	Application   string
	Stage         string
	Repository    string
	Branch        string
	Docroot       string
	KeepReleases  int
	UseSudo       bool
	GroupWritable bool
	User          string
	Group         string
	WebUser       string
	SourceRoot    string
	SourceRepo    string
	SSHOptions    []string
	Paths         Paths
	Hosts         []Host
}

// Primary returns the host flagged primary, or the first host.
func (c *Config) Primary() Host {
	for _, h := range c.Hosts {
		if h.Primary {
			return h
		}
	}
	return c.Hosts[0]
}

// SelectHosts filters hosts by name. An empty filter returns all hosts.
func (c *Config) SelectHosts(names []string) ([]Host, error) {
	if len(names) == 0 {
		return append([]Host(nil), c.Hosts...), nil
	}
	byName := make(map[string]Host, len(c.Hosts))
	for _, h := range c.Hosts {
		byName[h.Name] = h
	}
	selected := make([]Host, 0, len(names))
	for _, n := range names {
		h, ok := byName[n]
		if !ok {
			return nil, failure.Preconditionf("unknown host %q", n)
		}
		selected = append(selected, h)
	}
	return selected, nil
}

// Locate returns the config file to load: explicit wins, then ./cutover.yaml,
// then Dir()/cutover.yaml.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if _, err := os.Stat(DefaultFileName); err == nil {
		return DefaultFileName, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	candidate := filepath.Join(dir, DefaultFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", failure.Preconditionf("no %s found in the working directory or %s (use --config)", DefaultFileName, dir)
}

// Load reads, decodes and resolves the file at p.
func Load(p string) (*Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, failure.Preconditionf("config file %s not found", p)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	return Resolve(f)
}

// Parse decodes YAML, rejecting unknown keys.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Resolve validates f and derives every setting.
func Resolve(f *File) (*Config, error) {
	if f == nil {
		return nil, failure.Preconditionf("configuration is empty")
	}

	var missing []string
	if strings.TrimSpace(f.Application) == "" {
		missing = append(missing, "application")
	}
	if strings.TrimSpace(f.Repository) == "" {
		missing = append(missing, "repository")
	}
	if len(f.Hosts) == 0 {
		missing = append(missing, "hosts")
	}
	if len(missing) > 0 {
		return nil, failure.Preconditionf("missing required settings: %s", strings.Join(missing, ", "))
	}

	c := &Config{
		Application:   f.Application,
		Stage:         or(f.Stage, "production"),
		Repository:    f.Repository,
		Branch:        or(f.Branch, DefaultBranch),
		Docroot:       strings.Trim(or(f.Docroot, DefaultDocroot), "/"),
		KeepReleases:  f.KeepReleases,
		UseSudo:       boolOr(f.UseSudo, true),
		GroupWritable: boolOr(f.GroupWritable, true),
		User:          f.User,
		Group:         or(f.Group, f.User),
		WebUser:       or(f.WebUser, DefaultWebUser),
		SourceRoot:    f.Source.Root,
		SourceRepo:    or(f.Source.Repo, f.Source.Root),
		SSHOptions:    append([]string(nil), f.SSHOptions...),
	}
	if c.KeepReleases == 0 {
		c.KeepReleases = DefaultKeepReleases
	}
	if c.KeepReleases < 0 {
		return nil, failure.Preconditionf("keep_releases must be positive, got %d", c.KeepReleases)
	}

	// deploy_to defaults from application, everything else hangs off it.
	deployTo := or(f.DeployTo, path.Join("/u/apps", f.Application))
	shared := path.Join(deployTo, or(f.SharedDir, DefaultSharedDir))
	c.Paths = Paths{
		DeployTo:    deployTo,
		Releases:    path.Join(deployTo, or(f.VersionDir, DefaultVersionDir)),
		Shared:      shared,
		Dumps:       path.Join(shared, or(f.Shared.Dumps, "dumps")),
		Files:       path.Join(shared, or(f.Shared.Files, "files")),
		FilesBackup: path.Join(shared, or(f.Shared.FilesBackup, "files_backup")),
		Current:     path.Join(deployTo, or(f.CurrentDir, DefaultCurrentDir)),
		Tmp:         or(f.TmpDir, DefaultTmpDir),
	}

	for _, p := range append(c.Paths.SharedDirs(), c.Paths.Current, c.Paths.Tmp, c.Docroot, c.SourceRoot) {
		if strings.ContainsAny(p, " \t\n'\"") {
			return nil, failure.Preconditionf("path %q must not contain whitespace or quotes", p)
		}
	}
	if !path.IsAbs(deployTo) {
		return nil, failure.Preconditionf("deploy_to must be absolute, got %q", deployTo)
	}

	seen := make(map[string]bool, len(f.Hosts))
	for i, hf := range f.Hosts {
		if hf.Address == "" {
			return nil, failure.Preconditionf("hosts[%d]: address is required", i)
		}
		h := Host{
			Name:    or(hf.Name, hf.Address),
			Address: hf.Address,
			User:    or(hf.User, f.User),
			Port:    hf.Port,
			Primary: hf.Primary,
		}
		if seen[h.Name] {
			return nil, failure.Preconditionf("duplicate host name %q", h.Name)
		}
		seen[h.Name] = true
		c.Hosts = append(c.Hosts, h)
	}

	return c, nil
}

func or(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
