package engine

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/franz/sparkify-lake/internal/storage"
	"github.com/franz/sparkify-lake/internal/util"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
)

// ReadTable reads every parquet part of the table directory at loc into
// rows of T. Parts are read in key order.
func ReadTable[T any](ctx context.Context, b storage.Backend, loc storage.Location) ([]T, error) {
	objects, err := b.List(ctx, loc)
	if err != nil {
		return nil, err
	}

	var out []T
	parts := 0
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".parquet") || strings.HasPrefix(path.Base(obj.Key), ".") {
			continue
		}
		data, err := storage.ReadAll(ctx, b, loc.WithKey(obj.Key))
		if err != nil {
			return nil, err
		}
		rows, err := DecodeParquet[T](data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", util.ErrRead, obj.Key, err)
		}
		out = append(out, rows...)
		parts++
	}
	if parts == 0 {
		return nil, fmt.Errorf("%w: no parquet parts under %s", util.ErrRead, loc)
	}
	return out, nil
}

// DecodeParquet reads all rows of one parquet file
func DecodeParquet[T any](data []byte) ([]T, error) {
	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(data), new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]T, n)
	if n == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rows, nil
}
