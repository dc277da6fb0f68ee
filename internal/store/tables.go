package store

import (
	"database/sql"
)

// RecordTableWrite inserts or updates the write of one table
func (s *Store) RecordTableWrite(w *TableWrite) error {
	published := 0
	if w.Published {
		published = 1
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO table_writes
		(run_id, table_name, location, row_count, files, bytes, duration_ms, published)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, w.RunID, w.Table, w.Location, w.Rows, w.Files, w.Bytes, w.DurationMs, published)
	return err
}

// MarkPublished records that a staged table reached its final location
func (s *Store) MarkPublished(runID, table, location string) error {
	_, err := s.db.Exec(`
		UPDATE table_writes SET published = 1, location = ?
		WHERE run_id = ? AND table_name = ?
	`, location, runID, table)
	return err
}

// GetTableWrites returns the tables written by a run in write order
func (s *Store) GetTableWrites(runID string) ([]*TableWrite, error) {
	rows, err := s.db.Query(`
		SELECT run_id, table_name, location, row_count, files, bytes, duration_ms, published
		FROM table_writes
		WHERE run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var writes []*TableWrite
	for rows.Next() {
		var w TableWrite
		var published int
		if err := rows.Scan(&w.RunID, &w.Table, &w.Location, &w.Rows, &w.Files, &w.Bytes, &w.DurationMs, &published); err != nil {
			return nil, err
		}
		w.Published = published == 1
		writes = append(writes, &w)
	}
	return writes, rows.Err()
}

// RecordLoad inserts or updates the load of one input table
func (s *Store) RecordLoad(l *Load) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO loads
		(run_id, table_name, pattern, files, row_count, bytes, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.RunID, l.Table, l.Pattern, l.Files, l.Rows, l.Bytes, l.DurationMs)
	return err
}

// GetLoads returns the inputs loaded by a run
func (s *Store) GetLoads(runID string) ([]*Load, error) {
	rows, err := s.db.Query(`
		SELECT run_id, table_name, pattern, files, row_count, bytes, duration_ms
		FROM loads
		WHERE run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []*Load
	for rows.Next() {
		var l Load
		if err := rows.Scan(&l.RunID, &l.Table, &l.Pattern, &l.Files, &l.Rows, &l.Bytes, &l.DurationMs); err != nil {
			return nil, err
		}
		loads = append(loads, &l)
	}
	return loads, rows.Err()
}

// GetTotalRowsWritten returns the rows written by a run across all tables
func (s *Store) GetTotalRowsWritten(runID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(row_count) FROM table_writes WHERE run_id = ?`, runID).Scan(&total)
	return total.Int64, err
}
