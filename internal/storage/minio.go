package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures a MinioStore.
type MinioOptions struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStore implements ObjectStore on a MinIO server.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the MinIO endpoint. It does not create the bucket.
func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("minio: endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

// Name identifies the backend.
func (s *MinioStore) Name() string { return "minio" }

// Put streams body to the bucket.
func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress ProgressFunc) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		if contentType, body, err = sniffContentType(body); err != nil {
			return nil, fmt.Errorf("minio: reading payload: %w", err)
		}
	}

	pr := newProgressReader(body, size, progress)
	info, err := s.client.PutObject(ctx, s.bucket, key, pr, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, translateMinioError(key, err)
	}
	pr.complete()

	return &Object{
		Key:          key,
		Size:         info.Size,
		ContentType:  contentType,
		LastModified: time.Now(),
	}, nil
}

// List returns the objects under prefix, most recent first.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var list []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("minio: list %q: %w", prefix, info.Err)
		}
		list = append(list, Object{
			Key:          info.Key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].LastModified.After(list[j].LastModified)
	})
	return list, nil
}

// Delete removes key.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return translateMinioError(key, err)
	}
	return nil
}

// URL returns a presigned GET URL valid for ttl.
func (s *MinioStore) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", translateMinioError(key, err)
	}
	return u.String(), nil
}

func translateMinioError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return fmt.Errorf("minio: %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("minio: %s: %w", key, err)
}
