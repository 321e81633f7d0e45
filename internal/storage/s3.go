package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	evalhub_errors "evalhub/pkg/errors"
)

type S3Config struct {
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Endpoint     string
	UsePathStyle bool
}

// S3Backend stores objects in an S3 bucket. A custom endpoint plus path
// style covers MinIO and other S3-compatible stores.
type S3Backend struct {
	cfg S3Config
	s3  *s3.Client
}

func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.String()
		}
		opts = append(opts, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, SigningRegion: cfg.Region}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			}),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.UsePathStyle || cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &S3Backend{cfg: cfg, s3: s3Client}, nil
}

func (b *S3Backend) Store(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := b.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	return nil
}

func (b *S3Backend) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	out, err := b.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingObject(err) {
			return nil, fmt.Errorf("%w: object %s", evalhub_errors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: get %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	return data, nil
}

func (b *S3Backend) Stream(ctx context.Context, key string, chunkSize int) (io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	out, err := b.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingObject(err) {
			return nil, fmt.Errorf("%w: object %s", evalhub_errors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: get %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultStreamChunk
	}
	return &bodyStream{Reader: bufio.NewReaderSize(out.Body, chunkSize), body: out.Body}, nil
}

type bodyStream struct {
	*bufio.Reader
	body io.ReadCloser
}

func (s *bodyStream) Close() error {
	return s.body.Close()
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	// S3 DeleteObject succeeds for missing keys, which matches the
	// idempotency contract.
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := b.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	_, err := b.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingObject(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: head %s: %v", evalhub_errors.ErrStorage, key, err)
	}
	return true, nil
}

// AppendChunk is read-modify-write: S3 objects are immutable, and the
// Backend contract leaves same-key serialization to callers.
func (b *S3Backend) AppendChunk(ctx context.Context, key string, data []byte) error {
	existing, err := b.Retrieve(ctx, key)
	if err != nil && !errors.Is(err, evalhub_errors.ErrNotFound) {
		return err
	}
	return b.Store(ctx, key, append(existing, data...))
}

func isMissingObject(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
