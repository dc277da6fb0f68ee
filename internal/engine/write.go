package engine

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// SuccessMarker is the empty object written after every part of a table
const SuccessMarker = "_SUCCESS"

// WriteResult describes a written table directory
type WriteResult struct {
	Table    string
	Location storage.Location
	Rows     int64
	Files    int
	Bytes    int64
	Duration time.Duration
}

// WriteTable runs query and writes its rows as snappy-compressed parquet
// parts under dest, overwriting whatever was there. Result columns are
// scanned positionally into the exported fields of T, whose parquet tags
// define the file schema. A table with no rows still gets one part so the
// schema is readable. The directory is completed with a _SUCCESS marker.
func WriteTable[T any](ctx context.Context, s *Session, table, query string, dest storage.Location, args ...any) (*WriteResult, error) {
	start := time.Now()
	result := &WriteResult{Table: table, Location: dest}

	if _, err := s.backend.DeletePrefix(ctx, dest); err != nil {
		return nil, fmt.Errorf("%w: failed to clear %s: %v", util.ErrWrite, dest, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("engine: query for %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("engine: query for %s: %w", table, err)
	}
	if n := reflect.TypeOf((*T)(nil)).Elem().NumField(); n != len(cols) {
		return nil, fmt.Errorf("%w: %s query returns %d columns, row type has %d fields", util.ErrSchema, table, len(cols), n)
	}

	batch := make([]T, 0, min(s.cfg.RowsPerFile, 4096))
	flush := func() error {
		if err := writePart(ctx, s, dest, result, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		var row T
		if err := rows.Scan(scanTargets(reflect.ValueOf(&row).Elem())...); err != nil {
			return nil, fmt.Errorf("%w: %s row %d: %v", util.ErrSchema, table, result.Rows, err)
		}
		batch = append(batch, row)
		result.Rows++
		if len(batch) >= s.cfg.RowsPerFile {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: query for %s: %w", table, err)
	}
	if len(batch) > 0 || result.Files == 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	if err := s.backend.Put(ctx, dest.Join(SuccessMarker), nil); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", util.ErrWrite, dest.Join(SuccessMarker), err)
	}

	result.Duration = time.Since(start)
	util.InfoLog("Wrote %s rows to %s (%d files, %s) in %v",
		humanize.Comma(result.Rows), dest, result.Files,
		humanize.Bytes(uint64(result.Bytes)), result.Duration.Round(time.Millisecond))
	return result, nil
}

func writePart[T any](ctx context.Context, s *Session, dest storage.Location, result *WriteResult, rows []T) error {
	data, err := EncodeParquet(rows)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", util.ErrWrite, result.Table, err)
	}

	name := fmt.Sprintf("part-%05d-%s.snappy.parquet", result.Files, s.id)
	if err := s.backend.Put(ctx, dest.Join(name), data); err != nil {
		return fmt.Errorf("%w: %s: %v", util.ErrWrite, dest.Join(name), err)
	}

	result.Files++
	result.Bytes += int64(len(data))
	util.DebugLog("Wrote %s (%d rows, %s)", dest.Join(name), len(rows), humanize.Bytes(uint64(len(data))))
	return nil
}

// EncodeParquet renders rows as one snappy-compressed parquet file
func EncodeParquet[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	pw, err := writer.NewParquetWriterFromWriter(&buf, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return buf.Bytes(), nil
}
