// Package job runs the Sparkify ETL end to end: it opens the engine
// session, runs the song and event transforms, publishes the staged tables
// and records the run in the state database.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/franz/sparkify-lake/internal/config"
	"github.com/franz/sparkify-lake/internal/engine"
	"github.com/franz/sparkify-lake/internal/metrics"
	"github.com/franz/sparkify-lake/internal/report"
	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/store"
	"github.com/franz/sparkify-lake/internal/transform"
	"github.com/franz/sparkify-lake/internal/util"
)

// AppName names the engine session
const AppName = "sparkify"

// StagingDir is the directory below the output root holding staged tables
const StagingDir = "_temporary"

// Config contains job configuration
type Config struct {
	Options *config.Options
	Store   *store.Store
	Logger  *report.EventLogger
	Metrics *metrics.Registry

	// Fs overrides the filesystem of the file connector
	Fs afero.Fs

	// RunID identifies the run. Empty generates one.
	RunID string

	// Isolated runs on a private engine session instead of the process-wide one
	Isolated bool
}

// Job runs the pipeline once per Run call
type Job struct {
	cfg *Config
}

// Publish describes a staged table moved to its final location
type Publish struct {
	Table   string
	From    storage.Location
	To      storage.Location
	Objects int
}

// Result contains the outcome of a run
type Result struct {
	RunID     string
	Status    string
	Loads     []*engine.LoadResult
	Writes    []*engine.WriteResult
	Published []Publish
	Duration  time.Duration
}

// New creates a new job
func New(cfg *Config) *Job {
	if cfg.Logger == nil {
		cfg.Logger = report.NullLogger()
	}
	return &Job{cfg: cfg}
}

// Run executes the pipeline. A run that fails after it was recorded is
// finished in the ledger with its error kind before the error is returned.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	opts := j.cfg.Options
	if opts == nil {
		return nil, fmt.Errorf("%w: no job options", util.ErrConfig)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	input, err := storage.ParseLocation(opts.InputRoot)
	if err != nil {
		return nil, err
	}
	output, err := storage.ParseLocation(opts.OutputRoot)
	if err != nil {
		return nil, err
	}
	tz, err := opts.Location()
	if err != nil {
		return nil, err
	}
	creds, err := ResolveCredentials(opts, input)
	if err != nil {
		return nil, err
	}

	runID := j.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	result := &Result{RunID: runID, Status: store.StatusRunning}
	start := time.Now()

	if j.cfg.Store != nil {
		if n, err := j.cfg.Store.MarkInterrupted(); err != nil {
			util.WarnLog("Failed to check for interrupted runs: %v", err)
		} else if n > 0 {
			util.WarnLog("Marked %d unfinished run(s) as interrupted", n)
		}
		err := j.cfg.Store.BeginRun(&store.Run{
			RunID:      result.RunID,
			StartedAt:  start,
			InputRoot:  input.String(),
			OutputRoot: output.String(),
			Connector:  opts.Connector,
			Staging:    opts.Staging,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}
	j.cfg.Logger.LogRunStart(input.String(), output.String(), opts.Connector, opts.Staging)
	util.InfoLog("Run %s: %s -> %s", result.RunID, input, output)

	err = j.run(ctx, result, input, output, tz, creds)
	result.Duration = time.Since(start)
	j.finish(result, err)
	return result, err
}

func (j *Job) run(ctx context.Context, result *Result, input, output storage.Location, tz *time.Location, creds config.Credentials) error {
	opts := j.cfg.Options

	engineCfg := SessionConfig(opts, input, output, creds, tz, j.cfg.Fs)

	// The shared session lives until process exit; only an isolated one
	// belongs to this run.
	var s *engine.Session
	var err error
	if j.cfg.Isolated {
		s, err = engine.New(ctx, engineCfg)
		if err == nil {
			defer s.Close()
		}
	} else {
		s, err = engine.GetOrCreate(ctx, engineCfg)
	}
	if err != nil {
		return err
	}

	target := output
	if opts.Staging {
		target = stagingRoot(output, result.RunID)
		util.DebugLog("Staging tables under %s", target)
	}

	in := transform.Inputs{Root: input, SongGlob: opts.SongGlob, LogGlob: opts.LogGlob}
	res, err := transform.ProcessAll(ctx, s, in, target)
	if res != nil {
		result.Loads = res.Loads
		result.Writes = res.Writes
		j.record(result.RunID, res)
	}
	if err != nil {
		if opts.Staging {
			j.discard(ctx, s.Backend(), target)
		}
		return err
	}

	if !opts.Staging {
		return nil
	}
	return j.publish(ctx, s.Backend(), result, output, target)
}

// record stores the loads and writes of a transform in the ledger, the
// event log and the metrics
func (j *Job) record(runID string, res *transform.Result) {
	for _, l := range res.Loads {
		j.cfg.Logger.LogLoad(l.Table, l.Pattern.String(), l.Files, l.Rows, l.Bytes, l.Duration)
		j.cfg.Metrics.ObserveLoad(l)
		if j.cfg.Store != nil {
			err := j.cfg.Store.RecordLoad(&store.Load{
				RunID:      runID,
				Table:      l.Table,
				Pattern:    l.Pattern.String(),
				Files:      l.Files,
				Rows:       l.Rows,
				Bytes:      l.Bytes,
				DurationMs: l.Duration.Milliseconds(),
			})
			if err != nil {
				util.WarnLog("Failed to record load of %s: %v", l.Table, err)
			}
		}
	}

	for _, w := range res.Writes {
		j.cfg.Logger.LogWrite(w.Table, w.Location.String(), w.Files, w.Rows, w.Bytes, w.Duration)
		j.cfg.Metrics.ObserveWrite(w)
		if j.cfg.Store != nil {
			err := j.cfg.Store.RecordTableWrite(&store.TableWrite{
				RunID:      runID,
				Table:      w.Table,
				Location:   w.Location.String(),
				Rows:       w.Rows,
				Files:      w.Files,
				Bytes:      w.Bytes,
				DurationMs: w.Duration.Milliseconds(),
			})
			if err != nil {
				util.WarnLog("Failed to record write of %s: %v", w.Table, err)
			}
		}
	}
}

// publish moves every staged table to its final prefix, replacing what
// was there
func (j *Job) publish(ctx context.Context, b storage.Backend, result *Result, output, staged storage.Location) error {
	util.InfoLog("Publishing %d tables to %s", len(result.Writes), output)

	for _, w := range result.Writes {
		dst := output.Join(w.Table)
		n, err := storage.Move(ctx, b, w.Location, dst)
		j.cfg.Logger.LogPublish(w.Table, w.Location.String(), dst.String(), n, err)
		if err != nil {
			return fmt.Errorf("%w: publish %s: %v", util.ErrWrite, w.Table, err)
		}
		result.Published = append(result.Published, Publish{Table: w.Table, From: w.Location, To: dst, Objects: n})

		if j.cfg.Store != nil {
			if err := j.cfg.Store.MarkPublished(result.RunID, w.Table, dst.String()); err != nil {
				util.WarnLog("Failed to record publish of %s: %v", w.Table, err)
			}
		}
		util.DebugLog("Published %s (%d objects)", dst, n)
	}

	if _, err := b.DeletePrefix(ctx, staged); err != nil {
		util.WarnLog("Failed to remove staging area %s: %v", staged, err)
	}
	return nil
}

// discard removes a staging area after a failed run. It runs even when ctx
// is already cancelled.
func (j *Job) discard(ctx context.Context, b storage.Backend, staged storage.Location) {
	n, err := b.DeletePrefix(context.WithoutCancel(ctx), staged)
	if err != nil {
		util.WarnLog("Failed to remove staging area %s: %v", staged, err)
		return
	}
	util.DebugLog("Removed %d staged objects under %s", n, staged)
}

func (j *Job) finish(result *Result, err error) {
	kind := util.ErrorKind(err)
	msg := ""
	switch {
	case err == nil:
		result.Status = store.StatusSucceeded
	case errors.Is(err, context.Canceled):
		result.Status = store.StatusInterrupted
		msg = err.Error()
	default:
		result.Status = store.StatusFailed
		msg = err.Error()
	}

	if err != nil {
		j.cfg.Logger.LogError("", kind, err)
	}
	j.cfg.Logger.LogRunEnd(result.Status, result.Duration, kind, err)
	j.cfg.Metrics.ObserveRun(result.Status, result.Duration, err == nil)

	if j.cfg.Store != nil {
		if ferr := j.cfg.Store.FinishRun(result.RunID, result.Status, kind, msg); ferr != nil {
			util.WarnLog("Failed to record run status: %v", ferr)
		}
	}
}

// ExportMetrics pushes and writes the run metrics where configured. Export
// failures are logged and never fail the run.
func (j *Job) ExportMetrics(ctx context.Context) {
	opts := j.cfg.Options
	if j.cfg.Metrics == nil || opts == nil {
		return
	}
	if opts.MetricsPushURL != "" {
		if err := j.cfg.Metrics.Push(ctx, opts.MetricsPushURL, AppName); err != nil {
			util.WarnLog("%v", err)
		}
	}
	if opts.MetricsTextfile != "" {
		if err := j.cfg.Metrics.WriteTextfile(opts.MetricsTextfile); err != nil {
			util.WarnLog("%v", err)
		}
	}
}

// SessionConfig builds the engine configuration of a run
func SessionConfig(opts *config.Options, input, output storage.Location, creds config.Credentials, tz *time.Location, fs afero.Fs) engine.Config {
	return engine.Config{
		AppName:   AppName,
		Connector: opts.Connector,
		Roots:     []storage.Location{input, output},
		Settings: storage.Settings{
			Credentials:  creds,
			Region:       opts.Region,
			Endpoint:     opts.Endpoint,
			UsePathStyle: opts.UsePathStyle,
			Retry:        util.ObjectStoreRetryConfig(),
			Fs:           fs,
		},
		TimeZone:    tz,
		Parallelism: opts.Parallelism,
		RowsPerFile: opts.RowsPerFile,
	}
}

func stagingRoot(output storage.Location, runID string) storage.Location {
	return output.Join(StagingDir, runID)
}

// ResolveCredentials returns the credentials for the connector serving
// input. Only the S3 connector needs them; they come from the options or
// from the credentials file.
func ResolveCredentials(opts *config.Options, input storage.Location) (config.Credentials, error) {
	name := ""
	if opts.Connector != "" {
		n, _, err := config.ParseConnector(opts.Connector)
		if err != nil {
			return config.Credentials{}, err
		}
		name = n
	} else if input.Scheme == storage.SchemeS3 {
		name = "s3"
	}

	if name != "s3" || !opts.Credentials.IsZero() {
		return opts.Credentials, nil
	}

	creds, err := config.LoadCredentials(opts.CredentialsFile)
	if err != nil {
		return config.Credentials{}, err
	}
	util.DebugLog("Loaded %s from %s", creds, opts.CredentialsFile)
	return creds, nil
}
