package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
)

// OSSOptions configures an OSSStore.
type OSSOptions struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// OSSStore implements ObjectStore on Alibaba Cloud OSS.
type OSSStore struct {
	client *oss.Client
	bucket string
}

// NewOSSStore builds an OSS client with static credentials.
func NewOSSStore(opts OSSOptions) (*OSSStore, error) {
	if opts.Bucket == "" || opts.Region == "" {
		return nil, errors.New("oss: region and bucket are required")
	}
	cfg := oss.LoadDefaultConfig().
		WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")).
		WithRegion(opts.Region)
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint)
	}
	return &OSSStore{client: oss.NewClient(cfg), bucket: opts.Bucket}, nil
}

// Name identifies the backend.
func (s *OSSStore) Name() string { return "oss" }

// Put uploads body with PutObject, reporting progress through the SDK.
func (s *OSSStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress ProgressFunc) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		if contentType, body, err = sniffContentType(body); err != nil {
			return nil, fmt.Errorf("oss: reading payload: %w", err)
		}
	}

	throttle := newProgressThrottle(progress)
	_, err = s.client.PutObject(ctx, &oss.PutObjectRequest{
		Bucket:        oss.Ptr(s.bucket),
		Key:           oss.Ptr(key),
		Body:          body,
		ContentType:   oss.Ptr(contentType),
		ContentLength: oss.Ptr(size),
		ProgressFn: func(increment, transferred, total int64) {
			throttle.report(transferred, total)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oss: put %s: %w", key, err)
	}
	throttle.done(size)

	return &Object{
		Key:          key,
		Size:         size,
		ContentType:  contentType,
		LastModified: time.Now(),
	}, nil
}

// List pages through ListObjectsV2 under prefix, most recent first.
func (s *OSSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	p := s.client.NewListObjectsV2Paginator(&oss.ListObjectsV2Request{
		Bucket: oss.Ptr(s.bucket),
		Prefix: oss.Ptr(prefix),
	})

	var list []Object
	for p.HasNext() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("oss: list %q: %w", prefix, err)
		}
		for _, o := range page.Contents {
			list = append(list, Object{
				Key:          oss.ToString(o.Key),
				Size:         o.Size,
				LastModified: oss.ToTime(o.LastModified),
			})
		}
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].LastModified.After(list[j].LastModified)
	})
	return list, nil
}

// Delete removes key.
func (s *OSSStore) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &oss.DeleteObjectRequest{
		Bucket: oss.Ptr(s.bucket),
		Key:    oss.Ptr(key),
	})
	if err != nil {
		return fmt.Errorf("oss: delete %s: %w", key, err)
	}
	return nil
}

// URL returns a presigned GET URL valid for ttl.
func (s *OSSStore) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	res, err := s.client.Presign(ctx, &oss.GetObjectRequest{
		Bucket: oss.Ptr(s.bucket),
		Key:    oss.Ptr(key),
	}, oss.PresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("oss: presign %s: %w", key, err)
	}
	return res.URL, nil
}
