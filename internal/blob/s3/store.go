package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"carbonproof/internal/blob"
	"carbonproof/pkg/platform/sentinel"
)

type putClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	// PathStyle is needed for MinIO and other S3-compatible stores.
	PathStyle bool
}

// Store writes blobs to S3 under their sha256 digest.
type Store struct {
	client putClient
	cfg    Config
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New loads AWS credentials from the default chain.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewWithClient(client, cfg, opts...), nil
}

func NewWithClient(client putClient, cfg Config, opts ...Option) *Store {
	s := &Store{client: client, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put writes data and returns an s3:// address. Identical content maps to
// the same key, so repeated puts overwrite with identical bytes.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", blob.ErrEmptyContent
	}
	digest := blob.Digest(data)
	key := s.key(digest)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(s.cfg.Bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(data),
		ContentType:    aws.String("application/json"),
		ContentLength:  aws.Int64(int64(len(data))),
		Metadata:       map[string]string{"sha256": digest},
	})
	if err != nil {
		return "", classify(err)
	}
	s.logger.DebugContext(ctx, "stored blob in s3", "bucket", s.cfg.Bucket, "key", key)
	return fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key), nil
}

func (s *Store) key(digest string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return digest + ".json"
	}
	return prefix + "/" + digest + ".json"
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("put object: %w", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("put object (%s): %w", apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("put object: %w: %w", sentinel.ErrUnavailable, err)
}
