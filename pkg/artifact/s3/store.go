// Package s3 implements artifact.Store on AWS S3 or S3-compatible storage.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/airlift/buildforge/pkg/artifact"
)

const filenameMetadataKey = "original-filename"

// Config configures the S3 artifact store.
type Config struct {
	// Bucket is the target bucket. Required.
	Bucket string

	// Prefix namespaces all artifact keys within the bucket.
	Prefix string

	// Region is the bucket region. Empty lets the SDK resolve it.
	Region string

	// Endpoint targets an S3-compatible store (MinIO etc.).
	Endpoint string

	// ForcePathStyle is required by most S3-compatible stores.
	ForcePathStyle bool

	// AccessKeyID/SecretAccessKey override the default credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// Validate checks the configuration for required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("s3 artifact store: bucket is required")
	}
	return nil
}

// Store persists artifacts as S3 objects.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ artifact.Store = (*Store)(nil)

// New creates an S3 artifact store.
//
// The store uses the SDK default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		},
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put stores data under a fresh reference.
func (s *Store) Put(ctx context.Context, filename string, data []byte) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "", fmt.Errorf("artifact filename is required")
	}

	ref := uuid.New().String()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(ref)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{filenameMetadataKey: filename},
	})
	if err != nil {
		return "", fmt.Errorf("put artifact: %w", err)
	}
	return ref, nil
}

// Get returns the stored bytes and original filename for ref.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", artifact.ErrNotFound
		}
		return nil, "", fmt.Errorf("get artifact: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact body: %w", err)
	}

	filename := out.Metadata[filenameMetadataKey]
	if filename == "" {
		filename = ref
	}
	return data, filename, nil
}

// Delete removes the artifact. S3 deletes are idempotent already.
func (s *Store) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *Store) key(ref string) string {
	if s.prefix == "" {
		return ref
	}
	return s.prefix + "/" + ref
}
