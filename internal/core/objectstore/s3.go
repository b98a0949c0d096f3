// Package objectstore fetches document payloads referenced by storage URL
// instead of inline content. Only S3 (and S3-compatible virtual-hosted URLs)
// are supported.
package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/markdave123-py/ragline/internal/config"
)

// Fetcher resolves a storage URL to raw bytes.
type Fetcher interface {
	Fetch(ctx context.Context, storageURL string) ([]byte, error)
}

type S3Client struct {
	client *s3.Client
	logger *slog.Logger
}

func NewS3Client(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*S3Client, error) {
	if cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" {
		return nil, fmt.Errorf("AWS credentials not set")
	}
	if cfg.AwsRegion == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.AwsRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &S3Client{client: s3.NewFromConfig(awsCfg), logger: logger}, nil
}

// Fetch downloads the object behind an s3:// or virtual-hosted https:// URL.
func (c *S3Client) Fetch(ctx context.Context, storageURL string) ([]byte, error) {
	bucket, key, err := ParseStorageURL(storageURL)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	downloader := manager.NewDownloader(c.client)
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := downloader.Download(fetchCtx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, fmt.Errorf("s3 download %s: %w", storageURL, err)
	}

	c.logger.Debug("fetched object", "bucket", bucket, "key", key, "bytes", len(buf.Bytes()))
	return buf.Bytes(), nil
}

// ParseStorageURL extracts bucket and key from s3://bucket/key or a
// virtual-hosted-style URL like https://bucket.s3.region.amazonaws.com/key.
func ParseStorageURL(u string) (bucket, key string, err error) {
	switch {
	case strings.HasPrefix(u, "s3://"):
		rest := strings.TrimPrefix(u, "s3://")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("invalid s3 url: %s", u)
		}
		return parts[0], parts[1], nil
	case strings.HasPrefix(u, "https://"):
		hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
		host := hostPath[0]
		if len(hostPath) == 2 {
			key = hostPath[1]
		}
		parts := strings.Split(host, ".")
		if len(parts) < 3 || key == "" {
			return "", "", fmt.Errorf("invalid storage url: %s", u)
		}
		return parts[0], key, nil
	default:
		return "", "", fmt.Errorf("unsupported storage url scheme: %s", u)
	}
}
