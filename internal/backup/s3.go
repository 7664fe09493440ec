package backup

import (
	"bytes"
	"context"
	"fmt"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates the backup bucket. Credentials come from the default AWS
// chain unless AccessKeyID is set.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional; for S3-compatible stores such as MinIO
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string // key prefix, e.g. "listings/"
}

// Uploader is the part of *s3.Client used for backups.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Target uploads snapshots to a bucket.
type S3Target struct {
	client Uploader
	bucket string
	prefix string
}

// NewS3Target builds an S3 client from cfg.
func NewS3Target(ctx context.Context, cfg S3Config) (*S3Target, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3TargetWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3TargetWithClient wraps an existing client.
func NewS3TargetWithClient(client Uploader, bucket, prefix string) *S3Target {
	return &S3Target{client: client, bucket: bucket, prefix: prefix}
}

// Upload snapshots st and puts it in the bucket under prefix + Name(now).
// The snapshot is buffered in memory; listing records are small.
func (t *S3Target) Upload(ctx context.Context, st any, now time.Time) (*Result, error) {
	snap, err := asSnapshotter(st)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	n, err := snap.WriteSnapshot(&buf)
	if err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	key := t.prefix + Name(now)
	_, err = t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(n),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload s3://%s/%s: %w", t.bucket, key, err)
	}
	return &Result{Location: fmt.Sprintf("s3://%s/%s", t.bucket, key), Bytes: n}, nil
}
