package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("imagepipe/storage")

// MinioConfig holds object storage connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	// PublicURL, when set, replaces the endpoint in returned URLs (CDN in
	// front of the bucket).
	PublicURL string
}

// MinioStore writes derivatives to an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	cfg    MinioConfig

	bucketOnce sync.Once
	bucketErr  error
}

// NewMinioStore creates the client. The bucket is checked lazily on first Put.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioStore{client: client, cfg: cfg}, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.bucketOnce.Do(func() {
		ctx, span := tracer.Start(ctx, "minio_ensure_bucket")
		defer span.End()
		span.SetAttributes(attribute.String("minio.bucket", s.cfg.Bucket))

		exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
		if err != nil {
			span.RecordError(err)
			s.bucketErr = fmt.Errorf("failed to check bucket existence: %w", err)
			return
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				span.RecordError(err)
				s.bucketErr = fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	})
	return s.bucketErr
}

// Put uploads data and returns its URL.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "minio_put_derivative")
	defer span.End()

	object := s.objectName(key)
	span.SetAttributes(
		attribute.String("minio.bucket", s.cfg.Bucket),
		attribute.String("minio.key", object),
		attribute.Int("minio.size", len(data)),
	)

	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to upload to MinIO: %w", err)
	}

	return s.ObjectURL(object), nil
}

// ObjectURL returns the public URL of an object name.
func (s *MinioStore) ObjectURL(object string) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + object
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket, object)
}

func (s *MinioStore) objectName(key string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
