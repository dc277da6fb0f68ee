package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/franz/sparkify-lake/internal/util"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// LocalBackend stores objects as files on an afero filesystem. Keys are
// slash-separated paths.
type LocalBackend struct {
	fs    afero.Fs
	retry *util.RetryConfig
}

// NewLocal creates a backend on fs. A nil fs uses the OS filesystem.
func NewLocal(fs afero.Fs, retry *util.RetryConfig) *LocalBackend {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if retry == nil {
		retry = util.DefaultRetryConfig()
	}
	return &LocalBackend{fs: fs, retry: retry}
}

// Name implements Backend
func (b *LocalBackend) Name() string { return SchemeFile }

// Fs exposes the underlying filesystem
func (b *LocalBackend) Fs() afero.Fs { return b.fs }

func osPath(loc Location) string {
	if loc.Key == "" {
		return "."
	}
	return filepath.FromSlash(loc.Key)
}

// List implements Backend
func (b *LocalBackend) List(ctx context.Context, prefix Location) ([]Object, error) {
	root := osPath(prefix)

	info, err := b.fs.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: stat %s: %v", util.ErrRead, prefix, err)
	}
	if !info.IsDir() {
		return []Object{{Key: prefix.Key, Size: info.Size(), ModTime: info.ModTime()}}, nil
	}

	var objects []Object
	err = afero.Walk(b.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}
		key := filepath.ToSlash(p)
		if prefix.Key == "" {
			key = path.Clean(key)
		}
		objects = append(objects, Object{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", util.ErrRead, prefix, err)
	}
	return objects, nil
}

// Open implements Backend
func (b *LocalBackend) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	f, err := util.RetryWithBackoff(ctx, b.retry, func() (afero.File, error) {
		return b.fs.Open(osPath(loc))
	}, fmt.Sprintf("open(%s)", loc))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", util.ErrRead, loc, util.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: open %s: %v", util.ErrRead, loc, err)
	}
	return f, nil
}

// Put implements Backend. The object is written to a temporary sibling and
// renamed into place so readers never observe a partial file.
func (b *LocalBackend) Put(ctx context.Context, loc Location, data []byte) error {
	target := osPath(loc)
	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.NewString()+".tmp")

	err := util.Retry(ctx, b.retry, func() error {
		if err := b.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := afero.WriteFile(b.fs, tmp, data, 0644); err != nil {
			return err
		}
		return b.fs.Rename(tmp, target)
	}, fmt.Sprintf("put(%s)", loc))
	if err != nil {
		_ = b.fs.Remove(tmp)
		return fmt.Errorf("%w: put %s: %v", util.ErrWrite, loc, err)
	}
	return nil
}

// DeletePrefix implements Backend
func (b *LocalBackend) DeletePrefix(ctx context.Context, prefix Location) (int, error) {
	objects, err := b.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 && prefix.Key == "" {
		return 0, nil
	}
	// Empty directories left behind by a move are removed too
	if err := b.fs.RemoveAll(osPath(prefix)); err != nil {
		return 0, fmt.Errorf("%w: delete %s: %v", util.ErrWrite, prefix, err)
	}
	return len(objects), nil
}

// MovePrefix implements PrefixMover by renaming each file
func (b *LocalBackend) MovePrefix(ctx context.Context, src, dst Location) (int, error) {
	objects, err := b.List(ctx, src)
	if err != nil {
		return 0, err
	}

	for _, obj := range objects {
		rel, ok := src.Rel(obj.Key)
		if !ok {
			continue
		}
		target := osPath(dst.Join(rel))
		if err := b.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return 0, fmt.Errorf("%w: mkdir %s: %v", util.ErrWrite, target, err)
		}
		if err := b.fs.Rename(osPath(src.WithKey(obj.Key)), target); err != nil {
			return 0, fmt.Errorf("%w: move %s: %v", util.ErrWrite, obj.Key, err)
		}
	}

	if err := b.fs.RemoveAll(osPath(src)); err != nil {
		return len(objects), fmt.Errorf("%w: remove %s: %v", util.ErrWrite, src, err)
	}
	return len(objects), nil
}
