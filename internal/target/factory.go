package target

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"jot-go/internal/config"
	"jot-go/internal/jot"
)

// Sync target ids. Each backend type has a fixed id; sync_items rows
// are keyed on it, so the numbers must never change.
const (
	TargetIDMemory     = 1
	TargetIDFilesystem = 2
	TargetIDS3         = 3
)

// NewTargetFromConfig creates a Target implementation based on the target config type.
func NewTargetFromConfig(cfg config.TargetConfig, clock jot.Clock) (jot.Target, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryTarget(TargetIDMemory, clock), nil
	case "filesystem":
		if cfg.Path == "" {
			return nil, fmt.Errorf("filesystem target requires path to be set")
		}
		return NewLocalFilesystemTarget(TargetIDFilesystem, cfg.Path, clock), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 target requires s3_bucket to be set")
		}
		client, err := newS3Client(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating s3 client: %w", err)
		}
		return NewS3Target(TargetIDS3, client, cfg.S3Bucket, cfg.S3Prefix, clock), nil
	default:
		return nil, fmt.Errorf("unknown target type: %s", cfg.Type)
	}
}

// newS3Client builds an S3 client from the target config. Credentials
// fall back to the SDK default chain when no static keys are set, and a
// custom endpoint switches to path-style addressing for S3-compatible
// services.
func newS3Client(cfg config.TargetConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
