package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/audioscore/api/internal/config"
)

// ArtifactStore defines the interface for artifact blob operations. Fetch
// and store failures of any kind (network, missing key, permission) surface
// as a *StoreError.
type ArtifactStore interface {
	FetchToFile(ctx context.Context, bucket, key, localPath string) error
	StoreFromFile(ctx context.Context, bucket, key, localPath string) error
	CommonBucket() string
	OutputBucket(isAuth bool) string
	PresignUpload(ctx context.Context, key string) (string, error)
	PresignDownload(ctx context.Context, key string, isAuth bool) (string, error)
}

// StoreError is the single error category for artifact store failures.
type StoreError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("artifact store %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// S3Store implements ArtifactStore for any S3-compatible backend, with one
// shared bucket for anonymous jobs and one for authenticated users.
type S3Store struct {
	s3Client     *s3.Client
	presigner    *s3.PresignClient
	commonBucket string
	authBucket   string
	expiry       time.Duration
}

// NewS3Store creates a new artifact store client
func NewS3Store(cfg *config.S3Config) (*S3Store, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3 configuration incomplete")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)

	return &S3Store{
		s3Client:     s3Client,
		presigner:    s3.NewPresignClient(s3Client),
		commonBucket: cfg.CommonBucket,
		authBucket:   cfg.AuthBucket,
		expiry:       time.Duration(cfg.PresignExpiry) * time.Minute,
	}, nil
}

// FetchToFile downloads an object into a local file
func (c *S3Store) FetchToFile(ctx context.Context, bucket, key, localPath string) error {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &StoreError{Op: "fetch", Bucket: bucket, Key: key, Err: err}
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return &StoreError{Op: "fetch", Bucket: bucket, Key: key, Err: err}
	}
	defer f.Close()

	if _, err := f.ReadFrom(out.Body); err != nil {
		return &StoreError{Op: "fetch", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

// StoreFromFile uploads a local file as an object
func (c *S3Store) StoreFromFile(ctx context.Context, bucket, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &StoreError{Op: "store", Bucket: bucket, Key: key, Err: err}
	}
	defer f.Close()

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return &StoreError{Op: "store", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

// CommonBucket returns the shared/anonymous bucket name
func (c *S3Store) CommonBucket() string {
	return c.commonBucket
}

// OutputBucket returns the bucket produced artifacts go to. Authenticated
// jobs save into the auth bucket, anonymous jobs into the shared one.
func (c *S3Store) OutputBucket(isAuth bool) string {
	if isAuth {
		return c.authBucket
	}
	return c.commonBucket
}

// PresignUpload generates a presigned PUT URL into the shared bucket
func (c *S3Store) PresignUpload(ctx context.Context, key string) (string, error) {
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.commonBucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return "", &StoreError{Op: "presign-put", Bucket: c.commonBucket, Key: key, Err: err}
	}
	return req.URL, nil
}

// PresignDownload generates a presigned GET URL for a produced artifact
func (c *S3Store) PresignDownload(ctx context.Context, key string, isAuth bool) (string, error) {
	bucket := c.OutputBucket(isAuth)
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return "", &StoreError{Op: "presign-get", Bucket: bucket, Key: key, Err: err}
	}
	return req.URL, nil
}
