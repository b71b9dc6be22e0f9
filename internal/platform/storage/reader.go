// Package storage reads rule catalog documents from Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/homefit-remodel/api/internal/platform/config"
)

const defaultMaxObjectBytes = 4 << 20

var (
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errObjectTooLarge = errors.New("storage: object exceeds size limit")
)

type openFunc func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// Reader downloads whole objects. It satisfies catalog.ObjectReader.
type Reader struct {
	client   *gcs.Client
	open     openFunc
	maxBytes int64
}

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithMaxObjectBytes caps the object size ReadObject accepts.
func WithMaxObjectBytes(n int64) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// NewClient creates a Cloud Storage client, pointing at cfg.Endpoint without auth when set (fake-gcs-server).
func NewClient(ctx context.Context, cfg config.StorageConfig) (*gcs.Client, error) {
	var opts []option.ClientOption
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	return client, nil
}

// NewReader constructs a Reader backed by the provided Cloud Storage client.
func NewReader(client *gcs.Client, opts ...ReaderOption) (*Reader, error) {
	if client == nil {
		return nil, errors.New("storage reader: client is required")
	}
	r := &Reader{
		client: client,
		open: func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
			return client.Bucket(bucket).Object(object).NewReader(ctx)
		},
		maxBytes: defaultMaxObjectBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// ReadObject returns the full object body.
func (r *Reader) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	if r == nil || r.open == nil {
		return nil, errors.New("storage reader: not initialised")
	}
	b := strings.TrimSpace(bucket)
	if b == "" {
		return nil, errInvalidBucket
	}
	o := strings.TrimSpace(object)
	if o == "" {
		return nil, errInvalidObject
	}

	body, err := r.open(ctx, b, o)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read gs://%s/%s: %w", b, o, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: gs://%s/%s", errObjectTooLarge, b, o)
	}
	return data, nil
}

// Ping checks that the bucket is reachable.
func (r *Reader) Ping(ctx context.Context, bucket string) error {
	if r == nil || r.client == nil {
		return errors.New("storage reader: not initialised")
	}
	_, err := r.client.Bucket(bucket).Attrs(ctx)
	return err
}
