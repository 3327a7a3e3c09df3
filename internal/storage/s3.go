package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// S3Backend stores objects in an S3-compatible bucket. A custom
// endpoint covers gateway providers (Storj, MinIO) that speak the same
// API.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend creates a backend for the configured bucket.
func NewS3Backend(cfg Config) (*S3Backend, error) {
	awsCfg := aws.Config{
		Region: cfg.Region,
	}

	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: true,
					SigningRegion:     region,
				}, nil
			})
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != "" // path-style for gateway compatibility
	})

	logrus.WithFields(logrus.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Info("S3 storage backend initialized")

	return &S3Backend{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// List returns every object under prefix, following pagination.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]ObjectRecord, error) {
	var records []ObjectRecord

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, backendErr("list", prefix, err)
		}
		for _, obj := range page.Contents {
			rec := ObjectRecord{
				Key: aws.ToString(obj.Key),
			}
			if obj.Size != nil {
				rec.Size = *obj.Size
			}
			if obj.LastModified != nil {
				rec.LastModified = *obj.LastModified
			}
			records = append(records, rec)
		}
	}

	return records, nil
}

// Get returns the object bytes, or ErrNotFound.
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, backendErr("get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, backendErr("get", key, err)
	}
	return data, nil
}

// Put stores the object. A non-empty digest is passed as Content-MD5 so
// the service verifies integrity server-side.
func (b *S3Backend) Put(ctx context.Context, key string, data []byte, contentType, digest string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if digest != "" {
		raw, err := hex.DecodeString(digest)
		if err != nil {
			return backendErr("put", key, err)
		}
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(raw))
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return backendErr("put", key, err)
	}

	logrus.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Debug("Object stored in S3")

	return nil
}

// Remove deletes the object. S3 delete is idempotent, so an absent key
// is not an error.
func (b *S3Backend) Remove(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return backendErr("remove", key, err)
	}
	return nil
}

// Close is a no-op; the S3 client holds no local resources.
func (b *S3Backend) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
