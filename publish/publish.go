// Package publish uploads per-run measurement reports to S3-compatible
// object storage.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/weiihann/fetchsim/logging"
)

// ErrNoBucket is returned when publishing is requested without a bucket.
var ErrNoBucket = errors.New("publish bucket not configured")

// PutObjectAPI is the subset of *s3.Client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the destination.
type Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint     string
	UsePathStyle bool
}

// Publisher uploads report files under prefix/<invocation>/<size>/.
type Publisher struct {
	client     PutObjectAPI
	bucket     string
	prefix     string
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// New creates a Publisher backed by an S3 client built from the default
// AWS credential chain.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, ErrNoBucket
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), opts, logger), nil
}

// NewWithClient creates a Publisher with a pre-configured client.
func NewWithClient(client PutObjectAPI, opts Options, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:     client,
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
		logger:     logging.Component(logger, "publish"),
	}
}

// Key returns the object key of a report file.
func (p *Publisher) Key(invocation, size, name string) string {
	return path.Join(p.prefix, invocation, size, name)
}

// Publish uploads each report file and returns the object keys written.
// It stops at the first failed upload.
func (p *Publisher) Publish(ctx context.Context, invocation, size string, files []string) ([]string, error) {
	keys := make([]string, 0, len(files))

	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return keys, fmt.Errorf("read report: %w", err)
		}

		key := p.Key(invocation, size, filepath.Base(f))

		err = p.retryWithBackoff(ctx, func() error {
			_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(p.bucket),
				Key:         aws.String(key),
				Body:        bytes.NewReader(body),
				ContentType: aws.String("application/json"),
			})

			return err
		})
		if err != nil {
			return keys, fmt.Errorf("upload %s: %w", key, err)
		}

		p.logger.DebugContext(ctx, "report uploaded",
			slog.String("bucket", p.bucket),
			slog.String("key", key),
			slog.Int("bytes", len(body)),
		)

		keys = append(keys, key)
	}

	return keys, nil
}

func (p *Publisher) retryWithBackoff(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt < p.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff << attempt):
			}
		}
	}

	return lastErr
}
