package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func fakeReader(body string, err error) *Reader {
	return &Reader{
		open: func(_ context.Context, bucket, object string) (io.ReadCloser, error) {
			if err != nil {
				return nil, err
			}
			return io.NopCloser(strings.NewReader(body)), nil
		},
		maxBytes: defaultMaxObjectBytes,
	}
}

func TestReadObjectReturnsBody(t *testing.T) {
	r := fakeReader("version: \"2026.10\"\n", nil)
	data, err := r.ReadObject(context.Background(), " homefit-catalog ", "catalog.yaml")
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if string(data) != "version: \"2026.10\"\n" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestReadObjectValidatesLocation(t *testing.T) {
	r := fakeReader("x", nil)
	if _, err := r.ReadObject(context.Background(), "", "catalog.yaml"); !errors.Is(err, errInvalidBucket) {
		t.Fatalf("expected bucket error, got %v", err)
	}
	if _, err := r.ReadObject(context.Background(), "homefit-catalog", " "); !errors.Is(err, errInvalidObject) {
		t.Fatalf("expected object error, got %v", err)
	}
}

func TestReadObjectEnforcesSizeLimit(t *testing.T) {
	r := fakeReader(strings.Repeat("a", 11), nil)
	WithMaxObjectBytes(10)(r)
	if _, err := r.ReadObject(context.Background(), "b", "o"); !errors.Is(err, errObjectTooLarge) {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestReadObjectPropagatesOpenErrors(t *testing.T) {
	want := errors.New("object doesn't exist")
	r := fakeReader("", want)
	if _, err := r.ReadObject(context.Background(), "b", "o"); !errors.Is(err, want) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewReaderRequiresClient(t *testing.T) {
	if _, err := NewReader(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
