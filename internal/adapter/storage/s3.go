package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of *s3.Client the persister uses.
type S3API interface {
	manager.UploadAPIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3 uploads assets to a bucket under an optional key prefix.
type S3 struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// NewS3 creates an S3 persister, creating the bucket if it does not exist.
func NewS3(ctx context.Context, client S3API, bucket, prefix string, logger *slog.Logger) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	switch {
	case err == nil:
	case isNotFound(err):
		logger.Info("creating bucket", "bucket", bucket)
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	default:
		return nil, fmt.Errorf("head bucket %s: %w", bucket, err)
	}

	return &S3{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		logger:   logger,
	}, nil
}

// Key returns the object key used for name.
func (p *S3) Key(name string) string {
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// Persist uploads r as the object for name.
func (p *S3) Persist(ctx context.Context, name string, r io.Reader) (int64, error) {
	key := p.Key(name)
	body := &countingReader{r: sourceReader{r: r}}

	_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		p.logger.Error("failed to upload asset", "key", key, "error", err)
		return body.n, fmt.Errorf("upload %s: %w", key, err)
	}

	p.logger.Debug("successfully uploaded asset", "key", key, "bytes", body.n)
	return body.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
