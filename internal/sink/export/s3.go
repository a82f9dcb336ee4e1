package export

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Mirror uploads parquet files to a single bucket under the exports/
// prefix, implementing the Uploader interface. Failures here are always
// treated as non-fatal by Sink.Write; the local file remains the durable
// artifact.
type S3Mirror struct {
	client *s3.Client
	bucket string
}

// S3Config names the bucket and how to reach it, mirroring the shape of the
// source system's client_s3 configuration. NewS3Mirror applies Region and
// Profile; it does not assume RoleARN, so credentials come from Profile or
// the default credential chain.
type S3Config struct {
	Bucket  string
	Region  string
	Profile string
	RoleARN string
}

// NewS3Mirror loads AWS credentials using cfg's Region and Profile and
// returns a ready Uploader. cfg.RoleARN is not used.
func NewS3Mirror(ctx context.Context, cfg S3Config) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("export: s3 bucket must not be empty")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("export: load aws config: %w", err)
	}

	return &S3Mirror{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
	}, nil
}

// Upload implements Uploader.
func (m *S3Mirror) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("export: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("export: put object %s: %w", key, err)
	}
	return nil
}
