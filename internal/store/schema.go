package store

// Schema v1 - run ledger
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per ETL run
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  started_at DATETIME NOT NULL,
  completed_at DATETIME,
  status TEXT NOT NULL DEFAULT 'running',
  input_root TEXT NOT NULL,
  output_root TEXT NOT NULL,
  connector TEXT,
  staging INTEGER DEFAULT 1,
  error_kind TEXT,
  error TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

-- Output tables written by a run
CREATE TABLE IF NOT EXISTS table_writes (
  run_id TEXT REFERENCES runs(run_id) ON DELETE CASCADE,
  table_name TEXT NOT NULL,
  location TEXT NOT NULL,
  row_count INTEGER,
  files INTEGER,
  bytes INTEGER,
  duration_ms INTEGER,
  published INTEGER DEFAULT 0,
  written_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (run_id, table_name)
);
`

// Schema v2 - input loads
const schemaV2 = `
CREATE TABLE IF NOT EXISTS loads (
  run_id TEXT REFERENCES runs(run_id) ON DELETE CASCADE,
  table_name TEXT NOT NULL,
  pattern TEXT NOT NULL,
  files INTEGER,
  row_count INTEGER,
  bytes INTEGER,
  duration_ms INTEGER,
  PRIMARY KEY (run_id, table_name)
);

CREATE INDEX IF NOT EXISTS idx_table_writes_published ON table_writes(run_id, published);
`
