package seed

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/querygate/querygate/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

// WriteParquet replaces the dataset parts of every sample table with one freshly encoded
// object per table.
func WriteParquet(ctx context.Context, objects storage.ObjectStore, data Dataset) ([]storage.ObjectInfo, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	customers, err := encodeParquet(data.Customers)
	if err != nil {
		return nil, fmt.Errorf("encode customers: %w", err)
	}
	products, err := encodeParquet(data.Products)
	if err != nil {
		return nil, fmt.Errorf("encode products: %w", err)
	}
	orders, err := encodeParquet(data.Orders)
	if err != nil {
		return nil, fmt.Errorf("encode orders: %w", err)
	}

	var written []storage.ObjectInfo
	for _, table := range []struct {
		name string
		body []byte
	}{
		{"orders", orders},
		{"customers", customers},
		{"products", products},
	} {
		info, err := replaceTable(ctx, objects, table.name, table.body)
		if err != nil {
			return written, err
		}
		written = append(written, info)
	}
	return written, nil
}

func replaceTable(ctx context.Context, objects storage.ObjectStore, table string, body []byte) (storage.ObjectInfo, error) {
	prefix, err := storage.DatasetPrefix(table)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	existing, err := objects.List(ctx, prefix)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("list %s parts: %w", table, err)
	}
	for _, object := range existing {
		if err := objects.Delete(ctx, object.Key); err != nil {
			return storage.ObjectInfo{}, fmt.Errorf("delete %s: %w", object.Key, err)
		}
	}

	key, err := storage.DatasetObjectPath(table, 0)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: parquetContentType})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put %s: %w", key, err)
	}
	return info, nil
}

func encodeParquet[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
