// Package output provides terminal output utilities for cutover.
//
// This package includes:
//   - Table rendering for release timelines, run history and cleanup results
//   - Check-list rendering for preflight reports and per-host fleet results
//   - Spinners and progress bars for long-running operations
//
// Tables are plain text with optional ANSI color; color is only emitted when
// stdout is a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/cutover/internal/fleet"
	"github.com/blackwell-systems/cutover/internal/preflight"
	"github.com/blackwell-systems/cutover/internal/release"
	"github.com/blackwell-systems/cutover/internal/store"
)

// ANSI color codes for status display
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// RenderReleaseTable renders the release timeline of one host, newest first,
// marking which releases still have a snapshot and a files archive.
func RenderReleaseTable(releases, snapshots, archives []release.Entry, currentID string, now time.Time) string {
	if len(releases) == 0 {
		return "No releases found.\n"
	}

	hasSnapshot := idSet(snapshots)
	hasArchive := idSet(archives)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-2s %-16s %-16s %-9s %s\n", "", "Release", "Deployed", "Snapshot", "Archive"))
	sb.WriteString(strings.Repeat("─", 56))
	sb.WriteString("\n")

	for i := len(releases) - 1; i >= 0; i-- {
		e := releases[i]
		marker := ""
		if e.ID == currentID {
			marker = "*"
		}
		deployed := "unknown"
		if t, err := e.Time(); err == nil {
			deployed = formatRelativeTime(t, now)
		}
		sb.WriteString(fmt.Sprintf("%-2s %-16s %-16s %-9s %s\n",
			marker, e.ID, deployed, yesNo(hasSnapshot[e.ID]), yesNo(hasArchive[e.ID])))
	}

	if currentID == "" {
		sb.WriteString("\nNo release is current.\n")
	}
	return sb.String()
}

// RenderRunTable renders ledger runs in the order given.
func RenderRunTable(runs []*store.Run, now time.Time) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-8s %-9s %-12s %-14s %-10s %-15s %s\n",
		"Run", "Command", "Host", "Release", "Status", "Started", "Took"))
	sb.WriteString(strings.Repeat("─", 84))
	sb.WriteString("\n")

	for _, r := range runs {
		took := "—"
		if !r.FinishedAt.IsZero() {
			took = formatDuration(r.Duration())
		}
		rel := r.ReleaseID
		if rel == "" {
			rel = "—"
		}
		sb.WriteString(fmt.Sprintf("%-8s %-9s %-12s %-14s %s %-15s %s\n",
			shortID(r.ID),
			truncate(r.Command, 9),
			truncate(r.Host, 12),
			rel,
			colorize(fmt.Sprintf("%-10s", r.Status), statusColor(r.Status)),
			formatRelativeTime(r.StartedAt, now),
			took))
		if r.Error != "" {
			sb.WriteString("         " + colorize(truncate(r.Error, 75), colorGray) + "\n")
		}
	}
	return sb.String()
}

// RenderCheckReport renders preflight results, remote checks first.
func RenderCheckReport(report *preflight.Report) string {
	var sb strings.Builder
	sections := []struct {
		scope preflight.Scope
		title string
	}{
		{preflight.ScopeRemote, "Host " + report.Host},
		{preflight.ScopeLocal, "Local machine"},
	}

	for i, sec := range sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(sec.title + ":\n")
		for _, c := range report.Checks {
			if c.Scope != sec.scope {
				continue
			}
			if c.OK {
				sb.WriteString("  " + colorize("✓", colorGreen) + " " + c.Name + "\n")
			} else {
				sb.WriteString("  " + colorize("✗", colorRed) + " " + c.Name + ": " + c.Detail + "\n")
			}
		}
	}

	if report.OK() {
		sb.WriteString("\nAll checks passed.\n")
	} else {
		sb.WriteString(fmt.Sprintf("\n%d check(s) failed.\n", len(report.Failed())))
	}
	return sb.String()
}

// RenderTrimReports summarizes a cleanup of one host.
func RenderTrimReports(host string, reports []*release.TrimReport) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Cleanup on %s:\n", host))
	for _, r := range reports {
		line := fmt.Sprintf("  %-9s kept %d, deleted %d", r.Timeline, len(r.Kept), len(r.Deleted))
		if len(r.Protected) > 0 {
			line += fmt.Sprintf(", protected %d", len(r.Protected))
		}
		sb.WriteString(line + "\n")
		for _, f := range r.Failures {
			sb.WriteString("    " + colorize("✗", colorRed) + " " + f.Entry.ID + ": " + f.Err.Error() + "\n")
		}
	}
	return sb.String()
}

// RenderHostResults renders one line per host of a fleet run.
func RenderHostResults(results []fleet.Result) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Err == nil {
			sb.WriteString(fmt.Sprintf("%s %s (%s)\n", colorize("✓", colorGreen), r.Host, formatDuration(r.Elapsed)))
			continue
		}
		sb.WriteString(fmt.Sprintf("%s %s: %v\n", colorize("✗", colorRed), r.Host, r.Err))
	}
	if failed := fleet.Failed(results); len(failed) > 0 {
		sb.WriteString(fmt.Sprintf("%d of %d hosts failed.\n", len(failed), len(results)))
	}
	return sb.String()
}

// shortID returns the first block of a run id, enough to pass to history.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func idSet(entries []release.Entry) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e.ID] = true
	}
	return set
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func statusColor(status string) string {
	switch status {
	case store.StatusSucceeded:
		return colorGreen
	case store.StatusFailed:
		return colorRed
	case store.StatusAborted, store.StatusRunning:
		return colorYellow
	default:
		return colorGray
	}
}

func colorize(s, color string) string {
	if !IsColorEnabled() {
		return s
	}
	return color + s + colorReset
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// formatDuration rounds d for display: "850ms", "12.3s", "4m05s".
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		d = d.Round(time.Second)
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
