package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

var errMissingBucket = errors.New("storage: bucket name required")

// ObjectStore is the object-storage contract the publish pipeline consumes:
// put bytes, derive a public URL, delete a batch of paths.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
	Delete(ctx context.Context, paths []string) error
}

// S3Config configures the S3-backed object store. Endpoint is optional and
// enables MinIO-style path addressing for local development.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	DisableSSL      bool
}

// S3Store implements ObjectStore against S3 or an S3-compatible endpoint.
type S3Store struct {
	api      *s3.S3
	bucket   string
	endpoint string
	region   string
	insecure bool
}

// NewS3Store establishes the AWS session once at process start; the store is
// shared by reference afterwards.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errMissingBucket
	}

	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
		awsConfig.DisableSSL = aws.Bool(cfg.DisableSSL)
	}

	awsSession, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create aws session: %w", err)
	}

	return &S3Store{
		api:      s3.New(awsSession),
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		region:   cfg.Region,
		insecure: cfg.DisableSSL,
	}, nil
}

// Put stores the object under the given path.
func (s *S3Store) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("storage: failed to upload %s: %w", path, err)
	}
	return nil
}

// PublicURL derives the externally reachable URL for a stored object.
func (s *S3Store) PublicURL(path string) string {
	if s.endpoint != "" && !strings.Contains(s.endpoint, "amazonaws.com") {
		scheme := "https"
		if s.insecure {
			scheme = "http"
		}
		host := strings.TrimPrefix(strings.TrimPrefix(s.endpoint, "https://"), "http://")
		return fmt.Sprintf("%s://%s/%s/%s", scheme, host, s.bucket, path)
	}
	region := s.region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, region, path)
}

// Delete removes the given paths, continuing past per-object failures and
// returning the first error encountered.
func (s *S3Store) Delete(ctx context.Context, paths []string) error {
	var firstErr error
	for _, path := range paths {
		_, err := s.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("storage: failed to delete %s: %w", path, err)
		}
	}
	return firstErr
}
