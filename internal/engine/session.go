// Package engine is the tabular engine the job delegates its relational work
// to. A Session loads JSON inputs into scratch SQLite tables, runs SQL over
// them and writes query results as parquet table directories through a
// storage connector.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/franz/sparkify-lake/internal/config"
	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Config configures a session
type Config struct {
	AppName string

	// Connector is the storage connector declaration (name:version). Empty
	// selects the connector serving the first of Roots.
	Connector string

	// Roots are the locations the session must be able to address
	Roots []storage.Location

	Settings storage.Settings

	// TimeZone is the session zone for wall-clock time parts
	TimeZone *time.Location

	Parallelism int
	RowsPerFile int

	// ScratchDir holds the scratch database on disk. Empty keeps it in memory.
	ScratchDir string
}

// Session is a handle to a configured engine
type Session struct {
	id        string
	cfg       Config
	connector storage.Connector
	backend   storage.Backend
	db        *sql.DB
	validate  *validator.Validate

	mu     sync.Mutex
	closed bool
}

var (
	sharedMu sync.Mutex
	shared   *Session
)

// GetOrCreate returns the process-wide session, creating it from cfg on
// first use. Later calls return the same handle and ignore cfg.
func GetOrCreate(ctx context.Context, cfg Config) (*Session, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil && !shared.isClosed() {
		util.DebugLog("Reusing engine session %s", shared.id)
		return shared, nil
	}

	s, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	shared = s
	return s, nil
}

// CloseShared stops the process-wide session, if any. It is meant for
// process exit; a later GetOrCreate starts a new one.
func CloseShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		return nil
	}
	err := shared.Close()
	shared = nil
	return err
}

// New creates an unshared session
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = config.DefaultParallelism
	}
	if cfg.RowsPerFile <= 0 {
		cfg.RowsPerFile = config.DefaultRowsPerFile
	}
	if cfg.TimeZone == nil {
		cfg.TimeZone = time.Local
	}

	connector, err := resolveConnector(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := connector.Open(ctx, cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open connector %s: %v", util.ErrEngineInit, connector.ID(), err)
	}

	id := uuid.NewString()
	db, err := openScratch(ctx, id, cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrEngineInit, err)
	}

	util.DebugLog("Engine session %s started (app=%s, connector=%s, parallelism=%d)",
		id, cfg.AppName, connector.ID(), cfg.Parallelism)

	return &Session{
		id:        id,
		cfg:       cfg,
		connector: connector,
		backend:   backend,
		db:        db,
		validate:  newValidator(),
	}, nil
}

func resolveConnector(cfg Config) (storage.Connector, error) {
	var (
		c   storage.Connector
		err error
	)
	if cfg.Connector != "" {
		name, version, perr := config.ParseConnector(cfg.Connector)
		if perr != nil {
			return storage.Connector{}, fmt.Errorf("%w: %v", util.ErrEngineInit, perr)
		}
		c, err = storage.Lookup(name, version)
	} else if len(cfg.Roots) > 0 {
		c, err = storage.ForLocation(cfg.Roots[0])
	} else {
		return storage.Connector{}, fmt.Errorf("%w: no connector declared and no roots to infer one from", util.ErrEngineInit)
	}
	if err != nil {
		return storage.Connector{}, err
	}

	for _, root := range cfg.Roots {
		if !c.Serves(root) {
			return storage.Connector{}, fmt.Errorf("%w: connector %s cannot address %s", util.ErrEngineInit, c.ID(), root)
		}
	}
	return c, nil
}

func openScratch(ctx context.Context, id, dir string) (*sql.DB, error) {
	dsn := ":memory:"
	if dir != "" {
		dsn = fmt.Sprintf("file:%s", filepath.Join(dir, "scratch-"+id+".db"))
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch database: %w", err)
	}

	// Every table lives on this one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pragmas := []string{
		// Scratch tables are rebuilt on every run, durability is irrelevant
		"PRAGMA journal_mode = OFF",
		"PRAGMA synchronous = OFF",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -64000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return db, nil
}

// ID returns the session id, also used to name written part files
func (s *Session) ID() string { return s.id }

// Config returns the effective session configuration
func (s *Session) Config() Config { return s.cfg }

// Connector returns the resolved storage connector
func (s *Session) Connector() storage.Connector { return s.connector }

// Backend returns the storage backend opened by the connector
func (s *Session) Backend() storage.Backend { return s.backend }

// TimeZone returns the session time zone
func (s *Session) TimeZone() *time.Location { return s.cfg.TimeZone }

// Exec runs a statement against the scratch database
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("engine: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CreateTableAs materializes query as table, replacing any previous table
// of that name
func (s *Session) CreateTableAs(ctx context.Context, table, query string, args ...any) error {
	if _, err := s.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return err
	}
	_, err := s.Exec(ctx, "CREATE TABLE "+quoteIdent(table)+" AS "+query, args...)
	return err
}

// Count returns the number of rows in table
func (s *Session) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("engine: count %s: %w", table, err)
	}
	return n, nil
}

// Close releases the scratch database. Closing the shared session lets the
// next GetOrCreate build a fresh one.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	util.DebugLog("Engine session %s stopped", s.id)
	return s.db.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
