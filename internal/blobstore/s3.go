package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the settings for an S3-compatible blob backend.
type S3Config struct {
	// Endpoint overrides the S3 endpoint URL. Leave empty for AWS S3.
	Endpoint string
	// Region is the bucket region ("auto" works for most S3-compatibles).
	Region string
	// AccessKeyID and SecretAccessKey are static credentials; when empty the
	// SDK's default credential chain applies.
	AccessKeyID     string
	SecretAccessKey string
	// Bucket receives all blob objects.
	Bucket string
	// UsePathStyle enables path-style addressing, required by some
	// S3-compatible services and by gofakes3 in tests.
	UsePathStyle bool
}

// S3Store keeps blobs as objects in a single bucket, keyed by attachment id.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3 client from the configuration.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blobstore: s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// NewS3StoreFromClient wraps an existing S3 client; used by the test helper.
func NewS3StoreFromClient(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Put spools the stream to a size-capped temporary file and uploads it. The
// cap is enforced before any byte reaches the bucket, so an oversized or
// aborted upload never becomes an addressable object.
func (s *S3Store) Put(ctx context.Context, id string, reader io.Reader, maxBytes int64) (int64, error) {
	spool, err := os.CreateTemp("", "blob-upload-*")
	if err != nil {
		return 0, fmt.Errorf("blobstore: creating spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	written, err := copyCapped(spool, reader, maxBytes)
	if err != nil {
		return 0, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("blobstore: rewinding spool file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(id),
		Body:          spool,
		ContentLength: aws.Int64(written),
	})
	if err != nil {
		return 0, fmt.Errorf("blobstore: putting object %q: %w", id, err)
	}
	return written, nil
}

// Get streams the object body.
func (s *S3Store) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: getting object %q: %w", id, err)
	}
	return result.Body, nil
}

// Delete removes the object. S3 treats deleting an absent key as success,
// matching the Store contract.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("blobstore: deleting object %q: %w", id, err)
	}
	return nil
}
