package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "kryptometer/config"
	"kryptometer/logger"
)

// S3Archiver uploads flushed history files to a bucket.
type S3Archiver struct {
	config *appconfig.Config
	client *s3.Client
	log    *logger.Entry
}

func NewS3Archiver(cfg *appconfig.Config) (*S3Archiver, error) {
	log := logger.GetLogger().WithComponent("s3_archiver")
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.History.S3.Region),
	}
	if cfg.History.S3.AccessKeyID != "" && cfg.History.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.History.S3.AccessKeyID,
				cfg.History.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.History.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.History.S3.Endpoint)
		}
		o.UsePathStyle = cfg.History.S3.PathStyle
	})

	log.WithFields(logger.Fields{
		"bucket":     cfg.History.S3.Bucket,
		"region":     cfg.History.S3.Region,
		"endpoint":   cfg.History.S3.Endpoint,
		"path_style": cfg.History.S3.PathStyle,
	}).Info("s3 archiver initialized")

	return &S3Archiver{config: cfg, client: client, log: log}, nil
}

// Upload stores a local file under the configured prefix. The upload
// runs even during shutdown so a final flush is not lost.
func (a *S3Archiver) Upload(ctx context.Context, key, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	if prefix := a.config.History.S3.Prefix; prefix != "" {
		key = path.Join(prefix, key)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.History.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":        "parquet",
			"kryptometer-version": a.config.Kryptometer.Version,
		},
	}

	if _, err := a.client.PutObject(context.WithoutCancel(ctx), input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.config.History.S3.Bucket, err)
	}

	a.log.WithFields(logger.Fields{"key": key, "bytes": len(data)}).Info("history file archived")
	return nil
}
