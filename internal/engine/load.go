package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/go-playground/validator/v10"
	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"
)

// LoadResult describes a completed load
type LoadResult struct {
	Table    string
	Pattern  storage.Location
	Files    int
	Bytes    int64
	Rows     int64
	Duration time.Duration
}

type fileRecords[T any] struct {
	key     string
	size    int64
	records []T
}

// Load reads every JSON object in the files matching pattern into table,
// replacing it. Files may hold one object or several concatenated objects.
// Records are decoded into T, whose fields define the table schema, and
// validated with its validate tags.
//
// A pattern matching no files, an unreadable file or malformed JSON is a
// read error; a type mismatch or a failed validation is a schema error.
func Load[T any](ctx context.Context, s *Session, table string, pattern storage.Location) (*LoadResult, error) {
	start := time.Now()

	schema, err := SchemaOf[T]()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrSchema, err)
	}

	objects, err := storage.Glob(ctx, s.backend, pattern)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: path does not exist: %s", util.ErrRead, pattern)
	}

	util.InfoLog("Loading %d files into %s from %s", len(objects), table, pattern)

	var bar *progressbar.ProgressBar
	if util.ShowProgress() {
		bar = progressbar.NewOptions(len(objects),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Loading "+table),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	p := pool.NewWithResults[fileRecords[T]]().
		WithContext(ctx).
		WithMaxGoroutines(s.cfg.Parallelism).
		WithCancelOnError().
		WithFirstError()

	for _, obj := range objects {
		p.Go(func(ctx context.Context) (fileRecords[T], error) {
			records, err := readRecords[T](ctx, s, pattern.WithKey(obj.Key))
			if bar != nil {
				_ = bar.Add(1)
			}
			return fileRecords[T]{key: obj.Key, size: obj.Size, records: records}, err
		})
	}

	files, err := p.Wait()
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return nil, err
	}

	rows, err := insertRecords(ctx, s, table, schema, files)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{
		Table:    table,
		Pattern:  pattern,
		Files:    len(files),
		Rows:     rows,
		Duration: time.Since(start),
	}
	for _, f := range files {
		result.Bytes += f.size
	}

	util.InfoLog("Loaded %s rows into %s from %d files (%s) in %v",
		humanize.Comma(result.Rows), table, result.Files,
		humanize.Bytes(uint64(result.Bytes)), result.Duration.Round(time.Millisecond))
	return result, nil
}

func readRecords[T any](ctx context.Context, s *Session, loc storage.Location) ([]T, error) {
	data, err := storage.ReadAll(ctx, s.backend, loc)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var records []T
	for {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, classifyDecodeError(loc, len(records), err)
		}
		if err := s.validate.Struct(rec); err != nil {
			return nil, classifyValidationError(loc, len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func classifyDecodeError(loc storage.Location, index int, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %s record %d: field %q is %s, want %s",
			util.ErrSchema, loc, index, typeErr.Field, typeErr.Value, typeErr.Type)
	}
	return fmt.Errorf("%w: malformed JSON in %s record %d: %v", util.ErrRead, loc, index, err)
}

func classifyValidationError(loc storage.Location, index int, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s record %d: field %s failed %q", util.ErrSchema, loc, index, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %s record %d: %v", util.ErrSchema, loc, index, err)
}

// insertRecords recreates table and inserts every record in one transaction,
// in file order
func insertRecords[T any](ctx context.Context, s *Session, table string, schema *Schema, files []fileRecords[T]) (int64, error) {
	if _, err := s.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return 0, err
	}
	if _, err := s.Exec(ctx, schema.CreateTableSQL(table)); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("engine: begin load of %s: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, schema.InsertSQL(table))
	if err != nil {
		return 0, fmt.Errorf("engine: prepare load of %s: %w", table, err)
	}
	defer stmt.Close()

	var rows int64
	for _, f := range files {
		for _, rec := range f.records {
			if _, err := stmt.ExecContext(ctx, schema.Values(rec)...); err != nil {
				return 0, fmt.Errorf("engine: insert into %s from %s: %w", table, f.key, err)
			}
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("engine: commit load of %s: %w", table, err)
	}
	return rows, nil
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}
