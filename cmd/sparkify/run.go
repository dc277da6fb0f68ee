package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/sparkify-lake/internal/job"
	"github.com/franz/sparkify-lake/internal/metrics"
	"github.com/franz/sparkify-lake/internal/report"
	"github.com/franz/sparkify-lake/internal/store"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ETL once: load song and log data, write the analytics tables",
	Long: `Run the full pipeline once.

This command:
1. Loads the song catalog and writes the songs and artists tables
2. Loads the event logs, keeps song plays (page NextSong) and writes the
   users and time tables
3. Joins plays with the song catalog and writes the songplays table
4. Publishes the staged tables to the output root (unless --no-staging)
5. Records the run in the state database and writes a summary report

Locations accept s3://, s3a:// and file:// URLs or local paths. Output
tables are overwritten.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("input", "", "input root (default s3a://udacity-dend/)")
	runCmd.Flags().String("output", "", "output root (default s3a://dend-data-lake-p4/sparkify/)")
	runCmd.Flags().String("song-glob", "", "song data pattern relative to the input root")
	runCmd.Flags().String("log-glob", "", "log data pattern relative to the input root")
	runCmd.Flags().String("connector", "", "storage connector as name:version (s3:v2, file:v1)")
	runCmd.Flags().String("credentials", "", "credentials file with an [AWS] section (default dl.cfg)")
	runCmd.Flags().String("region", "", "S3 region")
	runCmd.Flags().String("endpoint", "", "S3-compatible endpoint URL")
	runCmd.Flags().Bool("path-style", false, "use path-style S3 addressing")
	runCmd.Flags().String("tz", "", "time zone for the time table (default Local)")
	runCmd.Flags().Bool("no-staging", false, "write tables directly instead of staging and publishing")
	runCmd.Flags().Int("parallelism", 0, "concurrent input file reads")
	runCmd.Flags().Int("rows-per-file", 0, "maximum rows per parquet part")
	runCmd.Flags().String("metrics-push", "", "Prometheus Pushgateway URL")
	runCmd.Flags().String("metrics-textfile", "", "write metrics to this textfile")
	runCmd.Flags().Bool("no-report", false, "skip the markdown summary report")

	for _, name := range []string{
		"input", "output", "song-glob", "log-glob", "connector", "credentials",
		"region", "endpoint", "path-style", "tz", "no-staging", "parallelism",
		"rows-per-file", "metrics-push", "metrics-textfile", "no-report",
	} {
		viper.BindPFlag(name, runCmd.Flags().Lookup(name))
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts := optionsFromConfig()

	util.InfoLog("=== Sparkify ETL ===")
	util.InfoLog("Input:  %s", opts.InputRoot)
	util.InfoLog("Output: %s", opts.OutputRoot)
	if !opts.Staging {
		util.WarnLog("Staging disabled: tables are overwritten in place")
	}

	util.DebugLog("Opening database: %s", opts.StateDB)
	db, err := store.Open(opts.StateDB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Create event logger with appropriate log level
	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}

	runID := uuid.NewString()
	logger, err := report.NewEventLogger(opts.ArtifactsDir, runID, logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		logger = report.NullLogger()
	}
	defer logger.Close()

	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}

	var reg *metrics.Registry
	if opts.MetricsPushURL != "" || opts.MetricsTextfile != "" {
		reg = metrics.NewRegistry()
	}

	j := job.New(&job.Config{
		Options: opts,
		Store:   db,
		Logger:  logger,
		Metrics: reg,
		RunID:   runID,
	})

	result, runErr := j.Run(ctx)
	j.ExportMetrics(ctx)

	if result != nil {
		printRunSummary(result)
		if !viper.GetBool("no-report") {
			writeRunReport(db, result.RunID, opts.StateDB, opts.ArtifactsDir, logger.Path())
		}
	}

	if runErr != nil {
		return fmt.Errorf("run failed (%s): %w", util.ErrorKind(runErr), runErr)
	}
	return nil
}

func printRunSummary(result *job.Result) {
	util.InfoLog("")
	if result.Status == store.StatusSucceeded {
		util.SuccessLog("=== Run Summary ===")
	} else {
		util.WarnLog("=== Run Summary (%s) ===", result.Status)
	}
	util.InfoLog("Run: %s", result.RunID)
	util.InfoLog("Total time: %v", result.Duration.Round(time.Millisecond))

	for _, l := range result.Loads {
		util.InfoLog("Loaded %-12s %s rows from %d files (%s)",
			l.Table, humanize.Comma(l.Rows), l.Files, humanize.Bytes(uint64(l.Bytes)))
	}
	for _, w := range result.Writes {
		util.InfoLog("Wrote  %-12s %s rows in %d files (%s)",
			w.Table, humanize.Comma(w.Rows), w.Files, humanize.Bytes(uint64(w.Bytes)))
	}
	if len(result.Published) > 0 {
		util.InfoLog("Published %d tables", len(result.Published))
	}
}

func writeRunReport(db *store.Store, runID, dbPath, artifactsDir, eventLogPath string) {
	summaryReport, err := report.GenerateSummaryReport(db, runID, eventLogPath)
	if err != nil {
		util.WarnLog("Failed to generate summary report: %v", err)
		return
	}
	summaryReport.DatabasePath = dbPath

	timestamp := time.Now().Format("20060102-150405")
	reportPath := filepath.Join(artifactsDir, "reports", timestamp, "summary.md")
	if err := report.WriteMarkdownReport(summaryReport, reportPath); err != nil {
		util.WarnLog("Failed to write summary report: %v", err)
		return
	}
	util.SuccessLog("Summary report saved to: %s", reportPath)
}
