package store

import (
	"database/sql"
	"time"
)

const runColumns = `run_id, started_at, completed_at, status, input_root, output_root,
	COALESCE(connector, ''), staging, COALESCE(error_kind, ''), COALESCE(error, '')`

// BeginRun records a new run in the running state
func (s *Store) BeginRun(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = StatusRunning

	staging := 0
	if run.Staging {
		staging = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, started_at, status, input_root, output_root, connector, staging)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.StartedAt, run.Status, run.InputRoot, run.OutputRoot, run.Connector, staging)
	return err
}

// FinishRun sets the final status of a run
func (s *Store) FinishRun(runID, status, errorKind, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, completed_at = ?, error_kind = ?, error = ?
		WHERE run_id = ?
	`, status, time.Now(), errorKind, errorMsg, runID)
	return err
}

// MarkInterrupted flags runs left in the running state by a process that
// died. It returns the number of runs updated.
func (s *Store) MarkInterrupted() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, error = 'process exited before the run finished'
		WHERE status = ?
	`, StatusInterrupted, StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var completed sql.NullTime
	var staging int

	err := row.Scan(&run.RunID, &run.StartedAt, &completed, &run.Status, &run.InputRoot, &run.OutputRoot,
		&run.Connector, &staging, &run.ErrorKind, &run.Error)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		run.CompletedAt = completed.Time
	}
	run.Staging = staging == 1
	return &run, nil
}

// GetRun returns a run by id, or nil if it does not exist
func (s *Store) GetRun(runID string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// LastRun returns the most recently started run, or nil if there is none
func (s *Store) LastRun() (*Run, error) {
	runs, err := s.ListRuns(1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountRunsByStatus returns the number of runs per status
func (s *Store) CountRunsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
