package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Client wraps the AWS S3 client for source-photo downloads and result
// uploads.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Client creates an S3 client using the default AWS credential chain.
// bucket is the default bucket for uploads.
func NewS3Client(ctx context.Context, bucket string) (*S3Client, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &S3Client{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   bucket,
	}, nil
}

// ParseURL splits an s3://bucket/key URL.
func ParseURL(s3url string) (bucket, key string, err error) {
	p := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 || slash == len(p)-1 {
		return "", "", fmt.Errorf("invalid s3 url: %s", s3url)
	}
	return p[:slash], p[slash+1:], nil
}

// DownloadURL fetches an s3://bucket/key object into memory.
func (s *S3Client) DownloadURL(ctx context.Context, s3url string) ([]byte, error) {
	bucket, key, err := ParseURL(s3url)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", s3url, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object %s: %w", s3url, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Msg("downloaded s3 object")
	return data, nil
}

// Upload stores data under key in the default bucket and returns its s3 URL.
// Large results go through the upload manager so multipart handling is free.
func (s *S3Client) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.bucket == "" {
		return "", fmt.Errorf("upload: no bucket configured")
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}
	url := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	log.Info().Str("url", url).Int("size", len(data)).Msg("uploaded result to s3")
	return url, nil
}

// HeadBucket verifies the configured bucket is reachable (health checks).
func (s *S3Client) HeadBucket(ctx context.Context) error {
	if s.bucket == "" {
		return fmt.Errorf("no bucket configured")
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
