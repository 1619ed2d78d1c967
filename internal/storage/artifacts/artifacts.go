package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

var ErrOutsideRoot = errors.New("artifact path outside export directory")

// Store keeps finished export artifacts. Put takes a file written under the
// local export directory and returns the location to record in history.
type Store interface {
	Put(ctx context.Context, localPath string) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// LocalStore leaves artifacts where the exporter wrote them.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) Put(_ context.Context, localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}
	return localPath, nil
}

func (s *LocalStore) Open(_ context.Context, location string) (io.ReadCloser, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, err
	}
	path, err := filepath.Abs(location)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return nil, ErrOutsideRoot
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

// S3Store uploads artifacts and removes the local copy afterwards.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

func NewS3Store(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("Artifact storage on S3",
		zap.String("bucket", cfg.Bucket),
		zap.String("prefix", cfg.Prefix),
		zap.String("region", region),
	)

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

func (s *S3Store) key(localPath string) string {
	return strings.TrimSuffix(s.prefix, "/") + "/" + filepath.Base(localPath)
}

func (s *S3Store) Put(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	key := s.key(localPath)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	if err := os.Remove(localPath); err != nil {
		s.logger.Warn("Failed to remove uploaded artifact", zap.String("path", localPath), zap.Error(err))
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	key := strings.TrimPrefix(location, fmt.Sprintf("s3://%s/", s.bucket))
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact: %w", err)
	}
	return out.Body, nil
}

// New picks the backend named in configuration.
func New(ctx context.Context, backend, exportDir string, s3cfg S3Config, logger *zap.Logger) (Store, error) {
	switch backend {
	case "", "local":
		return NewLocalStore(exportDir), nil
	case "s3":
		return NewS3Store(ctx, s3cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
