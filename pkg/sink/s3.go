package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

// S3Options configures an S3 sink.
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every object key.
	Prefix string
	UseSSL bool
}

// S3 stores artifacts as objects keyed {prefix}/{runID}/{path}. The bucket
// is created on first use if missing.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
	region string

	initOnce sync.Once
	initErr  error
}

// NewS3 validates opts and creates the client. No request is made until the
// first Put or Get.
func NewS3(opts S3Options) (*S3, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, apierrors.New(apierrors.ErrCodeConfigInvalid, "s3 endpoint is required")
	}
	access := strings.TrimSpace(opts.AccessKey)
	secret := strings.TrimSpace(opts.SecretKey)
	if access == "" || secret == "" {
		return nil, apierrors.New(apierrors.ErrCodeConfigInvalid, "s3 access key and secret key are required").
			WithRemediation("set ARTIFACT_S3_ACCESS_KEY and ARTIFACT_S3_SECRET_KEY")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, apierrors.New(apierrors.ErrCodeConfigInvalid, "s3 bucket is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeConfigInvalid, "init s3 client")
	}
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(opts.Prefix), "/"),
		region: region,
	}, nil
}

func (s *S3) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3) Put(ctx context.Context, runID, p string, content []byte) error {
	if strings.TrimSpace(p) == "" {
		return apierrors.New(apierrors.ErrCodeInvalidInput, "artifact path is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "ensure bucket").WithContext("bucket", s.bucket)
	}
	key := s.objectKey(runID, p)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType(p),
	})
	if err != nil {
		return apierrors.Wrap(err, apierrors.ErrCodeStorageWrite, "put artifact").WithContext("key", key)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, runID, p string) ([]byte, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "ensure bucket").WithContext("bucket", s.bucket)
	}
	key := s.objectKey(runID, p)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "get artifact").WithContext("key", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return nil, ErrNotFound
		}
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "read artifact").WithContext("key", key)
	}
	return data, nil
}

func (s *S3) Location(runID string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.objectKey(runID, ""))
}

func (s *S3) objectKey(runID, p string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{s.prefix, strings.Trim(strings.TrimSpace(runID), "/"), strings.TrimLeft(strings.TrimSpace(p), "/")} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "/")
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
