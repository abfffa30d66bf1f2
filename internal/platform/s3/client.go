package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/imamik/osbastion/internal/bastion"
)

// Client wraps the S3 client for a single object.
type Client struct {
	s3     *s3.Client
	bucket string
	key    string
}

// Options configures NewClient. An empty Endpoint means AWS itself; any
// other endpoint is addressed path-style, which every S3-compatible store
// accepts. Empty keys fall back to the SDK's default credential chain.
type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Key       string
}

// NewClient creates a client for the object at opts.Bucket/opts.Key.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("%w: mirror bucket and key are required", bastion.ErrInvalidConfig)
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{s3: client, bucket: opts.Bucket, key: opts.Key}, nil
}

// Location returns the s3:// URL of the object.
func (c *Client) Location() string {
	return fmt.Sprintf("s3://%s/%s", c.bucket, c.key)
}

// Upload replaces the object with data.
func (c *Client) Upload(ctx context.Context, data []byte) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", c.Location(), err)
	}
	return nil
}

// Download returns the object. A missing object yields bastion.ErrNotFound.
func (c *Client) Download(ctx context.Context) ([]byte, error) {
	result, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%s: %w", c.Location(), bastion.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", c.Location(), err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return buf.Bytes(), nil
}

// isNotFoundError checks if the error is a not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	// Check for typed S3 errors first
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// Fall back to API error code checking for S3-compatible services
	// that may not return the exact SDK error types
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}

	return false
}
