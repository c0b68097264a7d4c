package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

type S3Store struct {
	client *s3.Client
	region string
}

func NewS3Store(client *s3.Client, region string) *S3Store {
	return &S3Store{client: client, region: region}
}

func (s *S3Store) Bucket(name string) Bucket {
	return &s3Bucket{client: s.client, name: name}
}

func (s *S3Store) EnsureBuckets(ctx context.Context, names ...string) error {
	for _, bucket := range names {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err == nil {
			continue
		}
		var notFound *types.NotFound
		if !errors.As(err, &notFound) {
			return storageErr("check bucket", bucket, "", err)
		}

		input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
		if s.region != "" && s.region != "us-east-1" {
			input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
				LocationConstraint: types.BucketLocationConstraint(s.region),
			}
		}
		if _, err := s.client.CreateBucket(ctx, input); err != nil {
			return storageErr("create bucket", bucket, "", err)
		}
		zerolog.Ctx(ctx).Info().Str("bucket", bucket).Msg("created bucket")
	}
	return nil
}

type s3Bucket struct {
	client *s3.Client
	name   string
}

func (b *s3Bucket) Name() string {
	return b.name
}

func (b *s3Bucket) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return storageErr("put", b.name, key, err)
	}
	return nil
}

func (b *s3Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return storageErr("remove", b.name, key, err)
	}
	return nil
}

func (b *s3Bucket) GetInputStream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	}
	if rng := byteRange(offset, length); rng != "" {
		input.Range = aws.String(rng)
	}
	resp, err := b.client.GetObject(ctx, input)
	if err != nil {
		return nil, storageErr("get", b.name, key, err)
	}
	return resp.Body, nil
}

// byteRange renders an HTTP Range header value, or "" for the whole object.
func byteRange(offset, length int64) string {
	switch {
	case length > 0:
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	case offset > 0:
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return ""
}
