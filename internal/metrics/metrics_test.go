package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/franz/sparkify-lake/internal/engine"
)

func TestObserveLoadAndWrite(t *testing.T) {
	r := NewRegistry()

	r.ObserveLoad(&engine.LoadResult{Table: "log_data", Files: 2, Rows: 8, Bytes: 4096})
	r.ObserveLoad(&engine.LoadResult{Table: "log_data", Files: 1, Rows: 4, Bytes: 1024})
	r.ObserveWrite(&engine.WriteResult{Table: "songplays", Files: 1, Rows: 5, Bytes: 900, Duration: 200 * time.Millisecond})

	if got := testutil.ToFloat64(r.RowsLoaded.WithLabelValues("log_data")); got != 12 {
		t.Errorf("rows loaded = %v, want 12", got)
	}
	if got := testutil.ToFloat64(r.FilesRead.WithLabelValues("log_data")); got != 3 {
		t.Errorf("files read = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.RowsWritten.WithLabelValues("songplays")); got != 5 {
		t.Errorf("rows written = %v, want 5", got)
	}
	if got := testutil.ToFloat64(r.BytesWritten.WithLabelValues("songplays")); got != 900 {
		t.Errorf("bytes written = %v, want 900", got)
	}
	if n := testutil.CollectAndCount(r.WriteSec); n != 1 {
		t.Errorf("expected one write histogram series, got %d", n)
	}
}

func TestObserveRun(t *testing.T) {
	r := NewRegistry()

	r.ObserveRun("failed", time.Second, false)
	if got := testutil.ToFloat64(r.LastSuccess); got != 0 {
		t.Errorf("failed run set last success to %v", got)
	}

	r.ObserveRun("succeeded", 3*time.Second, true)
	if got := testutil.ToFloat64(r.RunSec); got != 3 {
		t.Errorf("run duration = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.LastSuccess); got == 0 {
		t.Error("successful run did not set last success")
	}
	if got := testutil.ToFloat64(r.Runs.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry

	// Should not panic
	r.ObserveLoad(&engine.LoadResult{Table: "song_data"})
	r.ObserveWrite(&engine.WriteResult{Table: "users"})
	r.ObserveRun("succeeded", time.Second, true)
}

func TestWriteTextfile(t *testing.T) {
	r := NewRegistry()
	r.ObserveWrite(&engine.WriteResult{Table: "users", Files: 1, Rows: 3, Bytes: 300})

	path := filepath.Join(t.TempDir(), "sparkify.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	if !strings.Contains(string(content), `sparkify_rows_written_total{table="users"} 3`) {
		t.Errorf("textfile missing rows written:\n%s", content)
	}
}

func TestPush(t *testing.T) {
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		method, path = req.Method, req.URL.Path
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRegistry()
	r.ObserveRun("succeeded", time.Second, true)

	if err := r.Push(context.Background(), srv.URL, "sparkify_etl"); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if method != http.MethodPut {
		t.Errorf("expected PUT, got %s", method)
	}
	if path != "/metrics/job/sparkify_etl" {
		t.Errorf("unexpected push path %s", path)
	}
	if body == "" {
		t.Error("push body is empty")
	}
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewRegistry().Push(context.Background(), srv.URL, "sparkify_etl"); err == nil {
		t.Error("expected an error from a failing gateway")
	}
}
