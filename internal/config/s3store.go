package config

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"
)

// S3Credentials optionally overrides the default AWS credential chain with
// a static access key pair, for fleets that inject credentials through
// their own secret store rather than the environment or an instance role.
type S3Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// s3API is the subset of the S3 client S3Store depends on, so tests can
// substitute a fake without talking to AWS.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store persists configuration as a single YAML object in an S3 bucket,
// for fleets that run many NOALBS processes against shared config.
type S3Store struct {
	client s3API
	bucket string
	key    string
}

// NewS3Store builds an S3Store. With a nil creds, the default AWS
// credential chain is used (environment, shared config, IMDS), resolved via
// aws-sdk-go-v2/config; otherwise the supplied static key pair is used.
func NewS3Store(ctx context.Context, bucket, key string, creds *S3Credentials) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if creds != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		key:    key,
	}, nil
}

// Load fetches and decodes the config object. Legacy-schema migration is
// not supported for S3-backed stores: fleets that adopt S3Store are
// expected to already be on the current schema.
func (s *S3Store) Load(ctx context.Context) (*Config, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", s.bucket, s.key, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing s3://%s/%s: %w", s.bucket, s.key, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return &cfg, nil
}

// Save writes cfg to a temporary key, copies it over the final key, then
// removes the temporary key — the same write-then-commit shape as
// FileStore's rename, adapted to S3's object model since S3 has no atomic
// overwrite-in-place primitive.
func (s *S3Store) Save(ctx context.Context, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	tmpKey := s.key + ".tmp"
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(tmpKey),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", s.bucket, tmpKey, err)
	}

	copySource := s.bucket + "/" + tmpKey
	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key),
		CopySource: aws.String(copySource),
	}); err != nil {
		return fmt.Errorf("copying s3://%s/%s to %s: %w", s.bucket, tmpKey, s.key, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(tmpKey),
	}); err != nil {
		return fmt.Errorf("deleting s3://%s/%s: %w", s.bucket, tmpKey, err)
	}

	return nil
}
