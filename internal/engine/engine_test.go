package engine

import (
	"context"
	"database/sql/driver"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/spf13/afero"
)

type testRecord struct {
	ID     string   `json:"id" validate:"required"`
	Name   *string  `json:"name"`
	Score  *float64 `json:"score"`
	Count  int64    `json:"count"`
	Ignore string   `json:"-"`
}

type testRow struct {
	ID    string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name  *string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Count int64   `parquet:"name=count, type=INT64"`
}

func newTestSession(t *testing.T, files map[string]string) (*Session, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		if err := afero.WriteFile(fs, name, []byte(content), 0644); err != nil {
			t.Fatalf("failed to seed %s: %v", name, err)
		}
	}

	s, err := New(context.Background(), Config{
		AppName:     "engine-test",
		Connector:   "file:v1",
		Roots:       []storage.Location{storage.MustParseLocation("/lake")},
		Settings:    storage.Settings{Fs: fs, Retry: util.NoRetry()},
		Parallelism: 3,
		RowsPerFile: 2,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fs
}

func TestNew_ConnectorResolution(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings := storage.Settings{Fs: fs, Retry: util.NoRetry()}
	ctx := context.Background()

	tests := []struct {
		name      string
		connector string
		roots     []string
		wantID    string
		wantErr   bool
	}{
		{"declared file", "file:v1", []string{"/in", "/out"}, "file:v1", false},
		{"inferred from root", "", []string{"/in"}, "file:v1", false},
		{"unknown package", "hadoop-aws:2.7.0", []string{"/in"}, "", true},
		{"version mismatch", "s3:v1", []string{"s3a://bucket/in"}, "", true},
		{"root not addressable", "file:v1", []string{"/in", "s3a://bucket/out"}, "", true},
		{"nothing to infer from", "", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var roots []storage.Location
			for _, r := range tt.roots {
				roots = append(roots, storage.MustParseLocation(r))
			}
			s, err := New(ctx, Config{Connector: tt.connector, Roots: roots, Settings: settings})
			if tt.wantErr {
				if !errors.Is(err, util.ErrEngineInit) {
					t.Fatalf("expected ErrEngineInit, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer s.Close()
			if s.Connector().ID() != tt.wantID {
				t.Errorf("connector = %s, want %s", s.Connector().ID(), tt.wantID)
			}
		})
	}
}

func TestGetOrCreate_ReturnsSameSession(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Connector: "file:v1",
		Roots:     []storage.Location{storage.MustParseLocation("/lake")},
		Settings:  storage.Settings{Fs: afero.NewMemMapFs()},
	}

	first, err := GetOrCreate(ctx, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := GetOrCreate(ctx, Config{Connector: "s3:v2"})
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if first != second {
		t.Error("expected the same session handle")
	}

	first.Close()
	third, err := GetOrCreate(ctx, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate after Close failed: %v", err)
	}
	defer third.Close()
	if third == first {
		t.Error("expected a fresh session after Close")
	}
}

func TestCloseShared(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Connector: "file:v1",
		Roots:     []storage.Location{storage.MustParseLocation("/lake")},
		Settings:  storage.Settings{Fs: afero.NewMemMapFs()},
	}

	if err := CloseShared(); err != nil {
		t.Fatalf("CloseShared without a session failed: %v", err)
	}
	first, err := GetOrCreate(ctx, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := CloseShared(); err != nil {
		t.Fatalf("CloseShared failed: %v", err)
	}
	if !first.isClosed() {
		t.Error("expected the shared session to be closed")
	}

	next, err := GetOrCreate(ctx, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate after CloseShared failed: %v", err)
	}
	defer CloseShared()
	if next == first {
		t.Error("expected a fresh session after CloseShared")
	}
}

func TestLoad_SingleAndConcatenatedObjects(t *testing.T) {
	s, _ := newTestSession(t, map[string]string{
		"/lake/in/a/one.json":    `{"id":"a1","name":"Ann","score":1.5,"count":1,"extra":true}`,
		"/lake/in/b/many.json":   "{\"id\":\"b1\",\"count\":2}\n{\"id\":\"b2\",\"name\":null,\"count\":3}\n",
		"/lake/in/b/skip.txt":    "not json",
		"/lake/in/c/d/deep.json": `{"id":"deep"}`,
	})
	ctx := context.Background()

	res, err := Load[testRecord](ctx, s, "records", storage.MustParseLocation("/lake/in").Join("*/*.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Files != 2 || res.Rows != 3 {
		t.Errorf("loaded %d files / %d rows, want 2 / 3", res.Files, res.Rows)
	}

	n, err := s.Count(ctx, "records")
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	var nulls int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE name IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if nulls != 2 {
		t.Errorf("expected 2 NULL names, got %d", nulls)
	}
}

func TestLoad_ReplacesTable(t *testing.T) {
	s, fs := newTestSession(t, map[string]string{
		"/lake/in/x.json": `{"id":"1"}`,
	})
	ctx := context.Background()
	pattern := storage.MustParseLocation("/lake/in").Join("*.json")

	if _, err := Load[testRecord](ctx, s, "t", pattern); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	afero.WriteFile(fs, "/lake/in/y.json", []byte(`{"id":"2"}`), 0644)
	if _, err := Load[testRecord](ctx, s, "t", pattern); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if n, _ := s.Count(ctx, "t"); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
		notWant error
	}{
		{"malformed json", `{"id": "x",`, util.ErrRead, util.ErrSchema},
		{"type mismatch", `{"id": "x", "count": "many"}`, util.ErrSchema, nil},
		{"missing required", `{"name": "nobody"}`, util.ErrSchema, nil},
		{"bad second record", "{\"id\":\"ok\"}\n{\"id\":7}", util.ErrSchema, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t, map[string]string{
				"/lake/in/good.json": `{"id":"good"}`,
				"/lake/in/bad.json":  tt.content,
			})
			_, err := Load[testRecord](context.Background(), s, "t", storage.MustParseLocation("/lake/in/*.json"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.notWant != nil && errors.Is(err, tt.notWant) {
				t.Errorf("did not expect %v in %v", tt.notWant, err)
			}
			if !strings.Contains(err.Error(), "bad.json") {
				t.Errorf("error should name the file: %v", err)
			}
		})
	}
}

func TestLoad_NoMatchingFiles(t *testing.T) {
	s, _ := newTestSession(t, nil)

	_, err := Load[testRecord](context.Background(), s, "t", storage.MustParseLocation("/lake/missing/*.json"))
	if !errors.Is(err, util.ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
}

func TestWriteTable_RoundTripAndParts(t *testing.T) {
	s, _ := newTestSession(t, map[string]string{
		"/lake/in/r.json": `{"id":"a","name":"A","count":1}
{"id":"b","count":2}
{"id":"a","name":"A","count":1}
{"id":"c","name":"C","count":3}
{"id":"d","count":4}`,
	})
	ctx := context.Background()
	if _, err := Load[testRecord](ctx, s, "records", storage.MustParseLocation("/lake/in/*.json")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	dest := storage.MustParseLocation("/lake/out/records")
	res, err := WriteTable[testRow](ctx, s, "records", `SELECT DISTINCT id, name, count FROM records`, dest)
	if err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	if res.Rows != 4 {
		t.Errorf("rows = %d, want 4", res.Rows)
	}
	// RowsPerFile is 2
	if res.Files != 2 {
		t.Errorf("files = %d, want 2", res.Files)
	}

	rows, err := ReadTable[testRow](ctx, s.Backend(), dest)
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	if len(rows) != 4 {
		t.Fatalf("read %d rows, want 4", len(rows))
	}
	if rows[0].ID != "a" || rows[0].Name == nil || *rows[0].Name != "A" {
		t.Errorf("row a = %+v", rows[0])
	}
	if rows[1].ID != "b" || rows[1].Name != nil || rows[1].Count != 2 {
		t.Errorf("row b = %+v", rows[1])
	}

	if _, err := storage.ReadAll(ctx, s.Backend(), dest.Join(SuccessMarker)); err != nil {
		t.Errorf("missing success marker: %v", err)
	}
}

func TestWriteTable_OverwritesAndWritesEmptyTables(t *testing.T) {
	s, fs := newTestSession(t, map[string]string{
		"/lake/out/t/part-00000-old.snappy.parquet": "stale",
		"/lake/out/t/_SUCCESS":                      "",
	})
	ctx := context.Background()
	if _, err := s.Exec(ctx, `CREATE TABLE empty (id TEXT, name TEXT, count INTEGER)`); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	dest := storage.MustParseLocation("/lake/out/t")
	res, err := WriteTable[testRow](ctx, s, "t", `SELECT id, name, count FROM empty`, dest)
	if err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	if res.Rows != 0 || res.Files != 1 {
		t.Errorf("rows/files = %d/%d, want 0/1", res.Rows, res.Files)
	}

	if ok, _ := afero.Exists(fs, "/lake/out/t/part-00000-old.snappy.parquet"); ok {
		t.Error("stale part survived overwrite")
	}
	rows, err := ReadTable[testRow](ctx, s.Backend(), dest)
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestWriteTable_ColumnMismatch(t *testing.T) {
	s, _ := newTestSession(t, nil)
	ctx := context.Background()

	_, err := WriteTable[testRow](ctx, s, "t", `SELECT 1, 2`, storage.MustParseLocation("/lake/out/t"))
	if !errors.Is(err, util.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestRegisterFunction(t *testing.T) {
	err := RegisterFunction("test_double", 1, func(args []driver.Value) (driver.Value, error) {
		n, ok, err := Int64Arg(args[0])
		if err != nil || !ok {
			return nil, err
		}
		return n * 2, nil
	})
	if err != nil {
		t.Fatalf("RegisterFunction failed: %v", err)
	}
	if err := RegisterFunction("test_double", 1, nil); err != nil {
		t.Errorf("re-registering the same arity should be a no-op: %v", err)
	}
	if err := RegisterFunction("test_double", 2, nil); err == nil {
		t.Error("expected an error for a different arity")
	}
	names := Functions()
	if i := sort.SearchStrings(names, "test_double"); !sort.StringsAreSorted(names) || i == len(names) || names[i] != "test_double" {
		t.Errorf("Functions() = %v, want sorted names including test_double", names)
	}

	s, _ := newTestSession(t, nil)
	var got int64
	if err := s.db.QueryRowContext(context.Background(), `SELECT test_double(21)`).Scan(&got); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if got != 42 {
		t.Errorf("test_double(21) = %d", got)
	}

	var null any
	if err := s.db.QueryRowContext(context.Background(), `SELECT test_double(NULL)`).Scan(&null); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if null != nil {
		t.Errorf("test_double(NULL) = %v, want NULL", null)
	}
}

func TestSchemaOf(t *testing.T) {
	schema, err := SchemaOf[testRecord]()
	if err != nil {
		t.Fatalf("SchemaOf failed: %v", err)
	}
	want := []Column{
		{"id", TypeText},
		{"name", TypeText},
		{"score", TypeReal},
		{"count", TypeInteger},
	}
	if len(schema.Columns) != len(want) {
		t.Fatalf("columns = %v", schema.Columns)
	}
	for i := range want {
		if schema.Columns[i] != want[i] {
			t.Errorf("column %d = %v, want %v", i, schema.Columns[i], want[i])
		}
	}

	name := "n"
	vals := schema.Values(testRecord{ID: "x", Name: &name, Count: 3})
	if vals[0] != "x" || vals[1] != "n" || vals[2] != nil || vals[3] != int64(3) {
		t.Errorf("Values = %v", vals)
	}

	if _, err := SchemaOf[int](); err == nil {
		t.Error("expected an error for a non-struct record type")
	}
}
