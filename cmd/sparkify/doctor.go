package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/franz/sparkify-lake/internal/config"
	"github.com/franz/sparkify-lake/internal/engine"
	"github.com/franz/sparkify-lake/internal/job"
	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/store"
	"github.com/franz/sparkify-lake/internal/transform"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure sparkify can operate correctly.

This command checks:
- Credentials file (for the S3 connector)
- SQLite version compatibility
- SQL functions registered with the engine
- State database accessibility and integrity
- Storage connector resolution for the input and output roots
- Input patterns (song and log data) match files
- Output root is writable
- Disk space for artifacts

Use this command to troubleshoot issues before running sparkify run.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	// Doctor-specific flags
	doctorCmd.Flags().String("input", "", "input root to check (optional)")
	doctorCmd.Flags().String("output", "", "output root to check (optional)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts := optionsFromConfig()
	if v, _ := cmd.Flags().GetString("input"); v != "" {
		opts.InputRoot = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		opts.OutputRoot = v
	}

	util.InfoLog("=== Sparkify Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	// 1. Options
	optsResult := checkOptions(opts)
	results = append(results, optsResult)

	// 2. SQLite, engine functions and state database
	results = append(results, checkSQLite())
	results = append(results, checkEngineFunctions(engine.Functions()))
	results = append(results, checkDatabase(opts.StateDB))

	// 3. Disk space for artifacts
	results = append(results, checkDiskSpace(opts.ArtifactsDir, "artifacts"))

	if !optsResult.error {
		input, output := storage.MustParseLocation(opts.InputRoot), storage.MustParseLocation(opts.OutputRoot)

		// 4. Credentials
		creds, credResult := checkCredentials(opts, input)
		results = append(results, credResult)

		// 5. Connector, inputs and output
		if !credResult.error {
			connResult, s := checkConnector(ctx, opts, input, output, creds, nil)
			results = append(results, connResult)
			if s != nil {
				defer s.Close()
				results = append(results, checkInputPattern(ctx, s.Backend(), input.Join(opts.SongGlob), "Song data"))
				results = append(results, checkInputPattern(ctx, s.Backend(), input.Join(opts.LogGlob), "Log data"))
				results = append(results, checkOutputWritable(ctx, s.Backend(), output))
			}
		}
	}

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	// Summary
	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some critical checks failed. Please resolve errors before running sparkify.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All checks passed! Ready for sparkify run.")
	}

	return nil
}

// checkOptions validates the job options and both roots
func checkOptions(opts *config.Options) checkResult {
	if err := opts.Validate(); err != nil {
		return checkResult{name: "Options", error: true, message: err.Error()}
	}
	for _, raw := range []string{opts.InputRoot, opts.OutputRoot} {
		if _, err := storage.ParseLocation(raw); err != nil {
			return checkResult{name: "Options", error: true, message: err.Error()}
		}
	}
	return checkResult{
		name:    "Options",
		message: fmt.Sprintf("time zone %s, %d workers, %s rows per file", opts.TimeZone, opts.Parallelism, humanize.Comma(int64(opts.RowsPerFile))),
	}
}

// checkCredentials verifies the credentials file when the connector needs one
func checkCredentials(opts *config.Options, input storage.Location) (config.Credentials, checkResult) {
	creds, err := job.ResolveCredentials(opts, input)
	if err != nil {
		return config.Credentials{}, checkResult{
			name:    "Credentials",
			error:   true,
			message: err.Error(),
		}
	}
	if creds.IsZero() {
		return creds, checkResult{
			name:    "Credentials",
			message: "not required by the connector",
		}
	}
	return creds, checkResult{
		name:    "Credentials",
		message: creds.String(),
	}
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite is compiled in, just verify it answers
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies state database accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "State database",
			warning: true,
			message: "no database path specified (use --state-db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "State database",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "State database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "State database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "State database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "State database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	counts, _ := db.CountRunsByStatus()
	total := 0
	for _, n := range counts {
		total += n
	}
	result := checkResult{
		name:    "State database",
		message: fmt.Sprintf("%s (%s, %d runs)", dbPath, humanize.Bytes(uint64(info.Size())), total),
	}
	if last, _ := db.LastRun(); last != nil && last.Status != store.StatusSucceeded {
		result.warning = true
		result.message += fmt.Sprintf(", last run %s", last.Status)
	}
	return result
}

// checkEngineFunctions verifies the SQL functions used by the transforms
// are registered with the engine
func checkEngineFunctions(registered []string) checkResult {
	have := make(map[string]bool, len(registered))
	for _, name := range registered {
		have[name] = true
	}

	var missing []string
	for _, name := range []string{transform.FuncEpochMillisToTimestamp, transform.FuncCalendarPart} {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return checkResult{
			name:    "Engine functions",
			error:   true,
			message: fmt.Sprintf("not registered: %s", strings.Join(missing, ", ")),
		}
	}
	return checkResult{
		name:    "Engine functions",
		message: strings.Join(registered, ", "),
	}
}

// checkConnector resolves the storage connector for both roots. On success
// the returned session must be closed by the caller.
func checkConnector(ctx context.Context, opts *config.Options, input, output storage.Location, creds config.Credentials, fs afero.Fs) (checkResult, *engine.Session) {
	tz, err := opts.Location()
	if err != nil {
		return checkResult{name: "Storage connector", error: true, message: err.Error()}, nil
	}

	s, err := engine.New(ctx, job.SessionConfig(opts, input, output, creds, tz, fs))
	if err != nil {
		return checkResult{
			name:    "Storage connector",
			error:   true,
			message: err.Error(),
		}, nil
	}

	return checkResult{
		name:    "Storage connector",
		message: s.Connector().ID(),
	}, s
}

// checkInputPattern verifies a pattern matches at least one input file
func checkInputPattern(ctx context.Context, b storage.Backend, pattern storage.Location, label string) checkResult {
	objects, err := storage.Glob(ctx, b, pattern)
	if err != nil {
		return checkResult{
			name:    label,
			error:   true,
			message: fmt.Sprintf("cannot list %s: %v", pattern, err),
		}
	}
	if len(objects) == 0 {
		return checkResult{
			name:    label,
			error:   true,
			message: fmt.Sprintf("no files match %s", pattern),
		}
	}

	var size int64
	for _, o := range objects {
		size += o.Size
	}
	return checkResult{
		name:    label,
		message: fmt.Sprintf("%d files (%s)", len(objects), humanize.Bytes(uint64(size))),
	}
}

// checkOutputWritable verifies the output root accepts writes
func checkOutputWritable(ctx context.Context, b storage.Backend, output storage.Location) checkResult {
	probe := output.Join(".sparkify_write_test")
	if err := b.Put(ctx, probe, []byte("ok")); err != nil {
		return checkResult{
			name:    "Output root",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", output, err),
		}
	}
	if _, err := b.DeletePrefix(ctx, probe); err != nil {
		return checkResult{
			name:    "Output root",
			warning: true,
			message: fmt.Sprintf("%s (writable, probe not removed: %v)", output, err),
		}
	}

	return checkResult{
		name:    "Output root",
		message: fmt.Sprintf("%s (writable)", output),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	// Walk up to the nearest existing directory
	for {
		if _, err := os.Stat(path); err == nil || path == "." || path == string(filepath.Separator) {
			break
		}
		path = filepath.Dir(path)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))
	usedPercent := float64(usedBytes) / float64(totalBytes) * 100

	// Warn if less than 1GB available or >95% used
	warning := false
	warningMsg := ""
	if availBytes < 1<<30 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 95 {
		warning = true
		warningMsg = " (>95% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.IBytes(availBytes), warningMsg),
	}
}
