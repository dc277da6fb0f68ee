// Package storage provides the object storage connectors used by the engine
// to read inputs and write table outputs.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/franz/sparkify-lake/internal/util"
)

// Object describes a stored object
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend is an object store addressed by Location
type Backend interface {
	// Name identifies the connector that produced the backend
	Name() string

	// List returns every object below prefix, recursively. A prefix that
	// does not exist yields an empty list.
	List(ctx context.Context, prefix Location) ([]Object, error)

	// Open opens an object for reading
	Open(ctx context.Context, loc Location) (io.ReadCloser, error)

	// Put stores data at loc, replacing any existing object
	Put(ctx context.Context, loc Location, data []byte) error

	// DeletePrefix removes every object below prefix and returns how many
	// were removed
	DeletePrefix(ctx context.Context, prefix Location) (int, error)
}

// PrefixMover is implemented by backends that can move a whole prefix
// natively (rename on filesystems, server-side copy on S3).
type PrefixMover interface {
	MovePrefix(ctx context.Context, src, dst Location) (int, error)
}

// Glob returns the objects whose keys match pattern. Pattern syntax is that
// of path.Match, so '*' never crosses a '/'. Results are sorted by key.
func Glob(ctx context.Context, b Backend, pattern Location) ([]Object, error) {
	if _, err := path.Match(pattern.Key, ""); err != nil {
		return nil, fmt.Errorf("%w: bad pattern %s: %v", util.ErrConfig, pattern, err)
	}

	prefix := pattern.WithKey(staticPrefix(pattern.Key))
	objects, err := b.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var matched []Object
	for _, obj := range objects {
		ok, _ := path.Match(pattern.Key, obj.Key)
		if ok {
			matched = append(matched, obj)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Key < matched[j].Key
	})
	return matched, nil
}

// staticPrefix returns the directory part of a pattern preceding its first
// segment with a glob metacharacter.
func staticPrefix(pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if strings.ContainsAny(seg, "*?[\\") {
			return strings.Join(segments[:i], "/")
		}
	}
	if dir := path.Dir(pattern); dir != "." {
		return dir
	}
	return ""
}

// Move relocates every object below src to the same relative key below dst.
// Existing objects below dst are removed first.
func Move(ctx context.Context, b Backend, src, dst Location) (int, error) {
	if _, err := b.DeletePrefix(ctx, dst); err != nil {
		return 0, fmt.Errorf("%w: clear %s: %v", util.ErrWrite, dst, err)
	}

	if mover, ok := b.(PrefixMover); ok {
		return mover.MovePrefix(ctx, src, dst)
	}

	objects, err := b.List(ctx, src)
	if err != nil {
		return 0, err
	}

	for _, obj := range objects {
		rel, ok := src.Rel(obj.Key)
		if !ok {
			continue
		}
		data, err := ReadAll(ctx, b, src.WithKey(obj.Key))
		if err != nil {
			return 0, err
		}
		if err := b.Put(ctx, dst.Join(rel), data); err != nil {
			return 0, err
		}
	}

	if _, err := b.DeletePrefix(ctx, src); err != nil {
		return len(objects), fmt.Errorf("%w: remove %s: %v", util.ErrWrite, src, err)
	}
	return len(objects), nil
}

// ReadAll reads a whole object
func ReadAll(ctx context.Context, b Backend, loc Location) ([]byte, error) {
	rc, err := b.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", util.ErrRead, loc, err)
	}
	return data, nil
}
