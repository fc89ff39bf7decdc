// Package storage persists raw columnar result buffers in an object store
// so they can be fetched once and loaded many times.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// WriteBuffer stores buf under key.
func WriteBuffer(ctx context.Context, store ObjectStore, key string, buf []byte, contentType string) (ObjectInfo, error) {
	return store.Put(ctx, key, bytes.NewReader(buf), int64(len(buf)), PutOptions{ContentType: contentType})
}

// ReadBuffer reads the whole object stored under key.
func ReadBuffer(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return buf, nil
}
