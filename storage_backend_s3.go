package cytoqc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

// S3BackendConfig configures the S3 report backend.
type S3BackendConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // S3-compatible services such as MinIO
	// Prefer IAM roles or AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY over
	// static credentials.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	// CacheSize is the number of report blobs kept in memory. Default: 100.
	CacheSize int `yaml:"cache_size"`
	// MaxRetries bounds attempts per S3 call. Default: 3.
	MaxRetries int `yaml:"max_retries"`
}

// S3Backend stores report blobs in S3 or an S3-compatible service.
type S3Backend struct {
	client  *s3.Client
	config  S3BackendConfig
	cache   *lru.Cache[string, []byte]
	retryer *Retryer
}

// NewS3Backend creates an S3 backend using the default AWS credential chain
// unless static credentials are configured.
func NewS3Backend(ctx context.Context, cfg S3BackendConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, configError("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	return &S3Backend{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		cache:  cache,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           IsRetryable,
		}),
	}, nil
}

func (s *S3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	fullKey := s.config.Prefix + key
	if data, ok := s.cache.Get(fullKey); ok {
		return data, nil
	}

	data, result := RetryValue(ctx, s.retryer, func() ([]byte, error) {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			if isS3NotFound(err) {
				return nil, fmt.Errorf("s3 object %s: %w", fullKey, ErrBlobNotFound)
			}
			return nil, fmt.Errorf("S3 get object failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		return io.ReadAll(resp.Body)
	})
	if result.LastErr != nil {
		return nil, result.LastErr
	}
	s.cache.Add(fullKey, data)
	return data, nil
}

func (s *S3Backend) Write(ctx context.Context, key string, data []byte) error {
	fullKey := s.config.Prefix + key
	result := s.retryer.Do(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("S3 put object failed: %w", err)
		}
		return nil
	})
	if result.LastErr != nil {
		return result.LastErr
	}
	s.cache.Add(fullKey, data)
	return nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	fullKey := s.config.Prefix + key
	result := s.retryer.Do(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(fullKey),
		})
		if err != nil {
			return fmt.Errorf("S3 delete object failed: %w", err)
		}
		return nil
	})
	s.cache.Remove(fullKey)
	return result.LastErr
}

func (s *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.config.Prefix + prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 list objects failed: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.config.Prefix))
		}
	}
	return keys, nil
}

func (s *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	fullKey := s.config.Prefix + key
	if s.cache.Contains(fullKey) {
		return true, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("S3 head object failed: %w", err)
	}
	return true, nil
}

func (s *S3Backend) Close() error {
	s.cache.Purge()
	return nil
}

// isS3NotFound recognizes both NoSuchKey and the bare 404 HeadObject returns.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "StatusCode: 404")
}
