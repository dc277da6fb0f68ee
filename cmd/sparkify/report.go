package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/sparkify-lake/internal/report"
	"github.com/franz/sparkify-lake/internal/store"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show run history and a summary of the last run",
	Long: `Show the recorded runs and summarize one of them.

The summary includes:
- Run status, duration and error kind
- Input files and rows loaded per table
- Rows, files and bytes written per output table
- Tables left unpublished by a failed staged run

The report is saved to artifacts/reports/<timestamp>/summary.md`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("run", "", "run id to summarize (default: the most recent run)")
	reportCmd.Flags().Int("limit", 10, "number of runs to list")
	reportCmd.Flags().String("out", "", "output directory for report (default: artifacts/reports/<timestamp>)")
	reportCmd.Flags().String("event-log", "", "path to the event log of the run (optional)")
}

func runReport(cmd *cobra.Command, args []string) error {
	dbPath := viper.GetString("state-db")

	util.InfoLog("=== Run Report ===")
	util.InfoLog("Database: %s", dbPath)

	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("%w: state database %s: %v", util.ErrConfig, dbPath, err)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := db.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		util.WarnLog("No runs recorded. Run 'sparkify run' first.")
		return nil
	}

	printRunHistory(db, runs)

	runID, _ := cmd.Flags().GetString("run")
	eventLogPath, _ := cmd.Flags().GetString("event-log")
	summaryReport, err := report.GenerateSummaryReport(db, runID, eventLogPath)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	summaryReport.DatabasePath = dbPath

	util.InfoLog("")
	report.PrintSummary(os.Stdout, summaryReport)

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		timestamp := time.Now().Format("20060102-150405")
		outputDir = filepath.Join(viper.GetString("artifacts"), "reports", timestamp)
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	if err := report.WriteMarkdownReport(summaryReport, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.InfoLog("")
	util.SuccessLog("Report saved to: %s", outputPath)
	return nil
}

func printRunHistory(db *store.Store, runs []*store.Run) {
	util.InfoLog("")
	util.InfoLog("%-36s  %-19s  %-11s  %10s  %12s  %s", "RUN", "STARTED", "STATUS", "DURATION", "ROWS WRITTEN", "ERROR")
	for _, r := range runs {
		duration := "-"
		if d := r.Duration(); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}
		rows := "-"
		if total, err := db.GetTotalRowsWritten(r.RunID); err != nil {
			util.DebugLog("Failed to total rows of run %s: %v", r.RunID, err)
		} else if total > 0 {
			rows = humanize.Comma(total)
		}
		util.InfoLog("%-36s  %-19s  %-11s  %10s  %12s  %s",
			r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, duration, rows, r.ErrorKind)
	}
}
