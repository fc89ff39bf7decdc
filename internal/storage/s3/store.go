// Package s3 keeps fetched result buffers in an S3-compatible bucket
// (MinIO, AWS) behind storage.ObjectStore.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bqbridge/bqbridge/internal/config"
	"github.com/bqbridge/bqbridge/internal/storage"
)

const (
	contentTypeArrowStream = "application/vnd.apache.arrow.stream"
	contentTypeJSON        = "application/json"
	contentTypeBinary      = "application/octet-stream"
)

// bucketAPI is the slice of the minio client the store needs.
type bucketAPI interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

// Store reads and writes result buffers under an optional key prefix of a
// single bucket.
type Store struct {
	api    bucketAPI
	bucket string
	root   string
}

// New connects to cfg.Endpoint and binds cfg.Bucket. With AutoCreateBucket
// set a missing bucket is created in cfg.Region.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	api, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{api: api, bucket: bucket, root: keyRoot(cfg.Prefix)}
	if !cfg.AutoCreateBucket {
		return store, nil
	}
	if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
		return nil, err
	}
	return store, nil
}

// ForLocation opens the bucket named by loc with the connection settings of
// cfg. Keys are taken from loc as written, so the configured prefix is
// ignored.
func ForLocation(ctx context.Context, cfg config.ObjectStoreConfig, loc storage.Location) (*Store, error) {
	cfg.Bucket = loc.Bucket
	cfg.Prefix = ""
	return New(ctx, cfg)
}

func NewWithClient(bucket, prefix string, api bucketAPI) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("bucket client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	return &Store{api: api, bucket: bucket, root: keyRoot(prefix)}, nil
}

// URI renders key as the s3:// reference the CLI accepts back as a load
// source. Invalid keys are rendered unchanged.
func (s *Store) URI(key string) string {
	full, err := s.objectKey(key)
	if err != nil {
		full = key
	}
	return storage.Location{Bucket: s.bucket, Key: full}.String()
}

// Put uploads one result buffer. Without an explicit content type it is
// derived from the key's extension.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = contentTypeFor(full)
	}
	info, err := s.api.PutObject(ctx, s.bucket, full, body, size, contentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload result %s: %w", s.location(full), err)
	}
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	body, err := s.api.GetObject(ctx, s.bucket, full)
	if err != nil {
		return nil, fmt.Errorf("download result %s: %w", s.location(full), err)
	}
	return body, nil
}

func (s *Store) location(key string) storage.Location {
	return storage.Location{Bucket: s.bucket, Key: key}
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("look up bucket %q: %w", s.bucket, err)
	case exists:
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("make bucket %q: %w", s.bucket, err)
	}
	return nil
}

// objectKey resolves key below the store root. Keys naming a directory or
// escaping the root are rejected; BuildResultKey resolves directories.
func (s *Store) objectKey(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("result key is required")
	}
	if strings.HasSuffix(trimmed, "/") {
		return "", fmt.Errorf("result key %q names a directory", key)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("result key %q escapes the bucket root", key)
	}
	return path.Join(s.root, cleaned), nil
}

func keyRoot(prefix string) string {
	root := path.Clean("/" + strings.TrimSpace(prefix))
	return strings.TrimPrefix(root, "/")
}

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".arrows", ".arrow":
		return contentTypeArrowStream
	case ".json":
		return contentTypeJSON
	default:
		return contentTypeBinary
	}
}

func dial(cfg config.ObjectStoreConfig) (*minioBucket, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store %q: %w", host, err)
	}
	return &minioBucket{client: client}, nil
}

// splitEndpoint accepts either a bare host:port or a URL. An https scheme
// forces TLS; otherwise useSSL decides.
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("object store endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse object store endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("object store endpoint %q has no host", raw)
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

type minioBucket struct {
	client *minio.Client
}

func (m *minioBucket) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	uploaded, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, notFoundOr(err)
	}
	return storage.ObjectInfo{
		Key:          uploaded.Key,
		Size:         uploaded.Size,
		ETag:         uploaded.ETag,
		LastModified: uploaded.LastModified,
	}, nil
}

// GetObject stats the object first so a missing key fails here instead of
// on the first read.
func (m *minioBucket) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, notFoundOr(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, notFoundOr(err)
	}
	return object, nil
}

func (m *minioBucket) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	return exists, notFoundOr(err)
}

func (m *minioBucket) MakeBucket(ctx context.Context, bucket, region string) error {
	return notFoundOr(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func notFoundOr(err error) error {
	if err == nil {
		return nil
	}
	response := minio.ToErrorResponse(err)
	switch {
	case response.Code == "NoSuchKey", response.Code == "NoSuchBucket", response.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, response.Message)
	}
	return err
}
