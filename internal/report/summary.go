package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/sparkify-lake/internal/store"
)

// SummaryReport describes one run of the pipeline
type SummaryReport struct {
	GeneratedAt time.Time
	Run         *store.Run

	Loads  []*store.Load
	Writes []*store.TableWrite

	// Totals across all tables
	RowsLoaded  int64
	RowsWritten int64
	FilesRead   int
	FilesOut    int
	BytesRead   int64
	BytesOut    int64
	Unpublished int

	DatabasePath string
	EventLogPath string
}

// GenerateSummaryReport builds the summary of a run from the state database.
// An empty runID selects the most recent run.
func GenerateSummaryReport(db *store.Store, runID, eventLogPath string) (*SummaryReport, error) {
	var run *store.Run
	var err error
	if runID == "" {
		run, err = db.LastRun()
	} else {
		run, err = db.GetRun(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	if run == nil {
		if runID == "" {
			return nil, fmt.Errorf("no runs recorded")
		}
		return nil, fmt.Errorf("run %s not found", runID)
	}

	loads, err := db.GetLoads(run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to read loads: %w", err)
	}
	writes, err := db.GetTableWrites(run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to read table writes: %w", err)
	}

	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		Run:          run,
		Loads:        loads,
		Writes:       writes,
		EventLogPath: eventLogPath,
	}

	for _, l := range loads {
		report.RowsLoaded += l.Rows
		report.FilesRead += l.Files
		report.BytesRead += l.Bytes
	}
	for _, w := range writes {
		report.RowsWritten += w.Rows
		report.FilesOut += w.Files
		report.BytesOut += w.Bytes
		if run.Staging && !w.Published {
			report.Unpublished++
		}
	}

	return report, nil
}

// WriteMarkdownReport writes the summary as a markdown file
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder
	run := report.Run

	md.WriteString("# Sparkify Data Lake - Run Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	md.WriteString(fmt.Sprintf("**Run:** `%s`\n\n", run.RunID))

	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## 📊 Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Status | %s %s |\n", statusIcon(run.Status), run.Status))
	md.WriteString(fmt.Sprintf("| Started | %s |\n", run.StartedAt.Format("2006-01-02 15:04:05")))
	if d := run.Duration(); d > 0 {
		md.WriteString(fmt.Sprintf("| Duration | %s |\n", d.Round(time.Millisecond)))
	}
	md.WriteString(fmt.Sprintf("| Input | `%s` |\n", run.InputRoot))
	md.WriteString(fmt.Sprintf("| Output | `%s` |\n", run.OutputRoot))
	if run.Connector != "" {
		md.WriteString(fmt.Sprintf("| Connector | %s |\n", run.Connector))
	}
	md.WriteString(fmt.Sprintf("| Staged Commit | %t |\n", run.Staging))
	md.WriteString("\n")

	if len(report.Loads) > 0 {
		md.WriteString("## 📥 Inputs\n\n")
		md.WriteString("| Table | Pattern | Files | Rows | Size |\n")
		md.WriteString("|-------|---------|-------|------|------|\n")
		for _, l := range report.Loads {
			md.WriteString(fmt.Sprintf("| %s | `%s` | %d | %s | %s |\n",
				l.Table, truncatePath(l.Pattern, 60), l.Files,
				humanize.Comma(l.Rows), humanize.Bytes(uint64(l.Bytes))))
		}
		md.WriteString("\n")
	}

	if len(report.Writes) > 0 {
		md.WriteString("## 📦 Tables\n\n")
		md.WriteString("| Table | Rows | Files | Size | Location |\n")
		md.WriteString("|-------|------|-------|------|----------|\n")
		for _, w := range report.Writes {
			md.WriteString(fmt.Sprintf("| %s | %s | %d | %s | `%s` |\n",
				w.Table, humanize.Comma(w.Rows), w.Files,
				humanize.Bytes(uint64(w.Bytes)), truncatePath(w.Location, 60)))
		}
		md.WriteString(fmt.Sprintf("\n**Total:** %s rows in %d files (%s)\n\n",
			humanize.Comma(report.RowsWritten), report.FilesOut, humanize.Bytes(uint64(report.BytesOut))))
	}

	if report.Unpublished > 0 {
		md.WriteString(fmt.Sprintf("**⚠️ %d staged table(s) were not published.**\n\n", report.Unpublished))
	}

	if run.Error != "" {
		md.WriteString("## ⚠️ Error\n\n")
		if run.ErrorKind != "" {
			md.WriteString(fmt.Sprintf("**Kind:** %s\n\n", run.ErrorKind))
		}
		md.WriteString(fmt.Sprintf("```\n%s\n```\n\n", run.Error))
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by sparkify*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// PrintSummary writes a short plain-text summary of a run
func PrintSummary(w io.Writer, report *SummaryReport) {
	run := report.Run
	fmt.Fprintf(w, "Run %s: %s %s\n", run.RunID, statusIcon(run.Status), run.Status)
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(w, "  Duration: %s\n", d.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  Input:    %s (%d files, %s rows)\n",
		run.InputRoot, report.FilesRead, humanize.Comma(report.RowsLoaded))
	fmt.Fprintf(w, "  Output:   %s\n", run.OutputRoot)
	for _, t := range report.Writes {
		fmt.Fprintf(w, "    %-12s %10s rows  %3d files  %s\n",
			t.Table, humanize.Comma(t.Rows), t.Files, humanize.Bytes(uint64(t.Bytes)))
	}
	if report.Unpublished > 0 {
		fmt.Fprintf(w, "  ⚠ %d staged table(s) not published\n", report.Unpublished)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  Error (%s): %s\n", run.ErrorKind, run.Error)
	}
}

func statusIcon(status string) string {
	switch status {
	case store.StatusSucceeded:
		return "✅"
	case store.StatusFailed:
		return "❌"
	case store.StatusInterrupted:
		return "⚠️"
	default:
		return "⏳"
	}
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
