package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

type MinIOStore struct {
	client *minio.Client
}

func NewMinIOStore(client *minio.Client) *MinIOStore {
	return &MinIOStore{client: client}
}

func (s *MinIOStore) Bucket(name string) Bucket {
	return &minioBucket{client: s.client, name: name}
}

func (s *MinIOStore) EnsureBuckets(ctx context.Context, names ...string) error {
	for _, bucket := range names {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return storageErr("check bucket", bucket, "", err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return storageErr("create bucket", bucket, "", err)
		}
		zerolog.Ctx(ctx).Info().Str("bucket", bucket).Msg("created bucket")
	}
	return nil
}

type minioBucket struct {
	client *minio.Client
	name   string
}

func (b *minioBucket) Name() string {
	return b.name
}

func (b *minioBucket) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := b.client.PutObject(ctx, b.name, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return storageErr("put", b.name, key, err)
	}
	return nil
}

func (b *minioBucket) Delete(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.name, key, minio.RemoveObjectOptions{}); err != nil {
		return storageErr("remove", b.name, key, err)
	}
	return nil
}

func (b *minioBucket) GetInputStream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if length > 0 {
		if err := opts.SetRange(offset, offset+length-1); err != nil {
			return nil, storageErr("get", b.name, key, fmt.Errorf("range: %w", err))
		}
	} else if offset > 0 {
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, storageErr("get", b.name, key, fmt.Errorf("range: %w", err))
		}
	}
	object, err := b.client.GetObject(ctx, b.name, key, opts)
	if err != nil {
		return nil, storageErr("get", b.name, key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before staging starts.
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, storageErr("get", b.name, key, err)
	}
	return object, nil
}
