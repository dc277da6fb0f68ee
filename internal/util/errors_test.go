package util

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("dl.cfg: %w", ErrConfig), "config"},
		{fmt.Errorf("connector s3:v9: %w", ErrEngineInit), "engine_init"},
		{fmt.Errorf("log_data/2018/11/*.json: %w", ErrRead), "read"},
		{fmt.Errorf("year: %w", ErrSchema), "schema"},
		{fmt.Errorf("songstables/: %w", ErrWrite), "write"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestErrorKind_SchemaWinsOverRead(t *testing.T) {
	err := fmt.Errorf("decode: %w", fmt.Errorf("%w: %w", ErrRead, ErrSchema))
	if got := ErrorKind(err); got != "schema" {
		t.Errorf("ErrorKind = %q, want schema", got)
	}
}
