// Package storage exposes the three logical object buckets (source videos,
// previews, thumbnails) behind one small interface with MinIO, S3 and
// in-memory implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrStorage = errors.New("storage failure")

// Bucket is one logical bucket of the object store.
type Bucket interface {
	Name() string
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	// GetInputStream reads length bytes starting at offset. A non-positive
	// length reads to the end of the object.
	GetInputStream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}

// Store hands out buckets by name and provisions them.
type Store interface {
	Bucket(name string) Bucket
	EnsureBuckets(ctx context.Context, names ...string) error
}

// Buckets groups the buckets the workers read from and write to.
type Buckets struct {
	Videos     Bucket
	Previews   Bucket
	Thumbnails Bucket
}

func NewBuckets(store Store, videos, previews, thumbnails string) Buckets {
	return Buckets{
		Videos:     store.Bucket(videos),
		Previews:   store.Bucket(previews),
		Thumbnails: store.Bucket(thumbnails),
	}
}

// SaveFile uploads the local file at path and returns its size.
func SaveFile(ctx context.Context, bucket Bucket, key, path, contentType string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, errors.Join(ErrStorage, fmt.Errorf("open %s: %w", path, err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, errors.Join(ErrStorage, fmt.Errorf("stat %s: %w", path, err))
	}
	if err := bucket.Save(ctx, key, file, info.Size(), contentType); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func storageErr(op, bucket, key string, err error) error {
	return errors.Join(ErrStorage, fmt.Errorf("%s %s/%s: %w", op, bucket, key, err))
}
