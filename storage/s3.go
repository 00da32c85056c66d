package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/sealed-keymaster/interfaces"
)

// S3Backend keeps artifacts as private objects under [prefix/]folder/name in
// one bucket. Every keymaster needs credentials for that bucket.
type S3Backend struct {
	client *s3.S3
	bucket *string
	prefix string
	uri    string
	log    *slog.Logger
}

// NewS3Backend connects to bucket. Without an access key the default AWS
// credential chain is used. A custom endpoint (MinIO and the like) switches
// to path-style addressing.
func NewS3Backend(bucket, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	prefix = strings.Trim(prefix, "/")
	return &S3Backend{
		client: s3.New(sess),
		bucket: aws.String(bucket),
		prefix: prefix,
		uri:    s3LocationURI(bucket, prefix, region, endpoint, accessKey),
		log:    log.With("backend", "s3", "bucket", bucket),
	}, nil
}

// s3LocationURI renders the location with the secret key masked.
func s3LocationURI(bucket, prefix, region, endpoint, accessKey string) string {
	u := url.URL{Scheme: "s3", Host: bucket, Path: "/" + prefix}
	if accessKey != "" {
		u.User = url.UserPassword(accessKey, "***")
	}
	q := url.Values{}
	q.Set("region", region)
	if endpoint != "" {
		q.Set("endpoint", endpoint)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (b *S3Backend) objectKey(folder, name string) (*string, error) {
	if err := validateSegment(folder); err != nil {
		return nil, err
	}
	if err := validateSegment(name); err != nil {
		return nil, err
	}
	return aws.String(path.Join(b.prefix, folder, name)), nil
}

func (b *S3Backend) Exists(ctx context.Context, folder, name string) (bool, error) {
	key, err := b.objectKey(folder, name)
	if err != nil {
		return false, err
	}

	_, err = b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: b.bucket, Key: key})
	switch {
	case isS3NotFound(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return true, nil
}

func (b *S3Backend) Read(ctx context.Context, folder, name string) ([]byte, error) {
	key, err := b.objectKey(folder, name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: b.bucket, Key: key})
	if isS3NotFound(err) {
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrNotFound, folder, name)
	}
	if err != nil {
		b.log.Error("S3 GetObject failed", "key", *key, "err", err)
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", *b.bucket, *key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", *b.bucket, *key, err)
	}

	b.log.Debug("artifact read", "key", *key, "size", len(data), "duration", time.Since(start))
	return data, nil
}

// Write replaces the object with a single PUT, so readers see either the old
// or the new content.
func (b *S3Backend) Write(ctx context.Context, folder, name string, data []byte) error {
	key, err := b.objectKey(folder, name)
	if err != nil {
		return err
	}

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:               b.bucket,
		Key:                  key,
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("text/plain"),
		ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", *b.bucket, *key, err)
	}

	b.log.Debug("artifact written", "key", *key, "size", len(data))
	return nil
}

// Delete succeeds for a missing object.
func (b *S3Backend) Delete(ctx context.Context, folder, name string) error {
	key, err := b.objectKey(folder, name)
	if err != nil {
		return err
	}

	if _, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{Bucket: b.bucket, Key: key}); err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", *b.bucket, *key, err)
	}

	b.log.Debug("artifact deleted", "key", *key)
	return nil
}

func (b *S3Backend) Available(ctx context.Context) bool {
	if _, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: b.bucket}); err != nil {
		b.log.Warn("S3 bucket not reachable", "err", err)
		return false
	}
	return true
}

func (b *S3Backend) Name() string {
	return "s3-" + *b.bucket
}

func (b *S3Backend) LocationURI() string {
	return b.uri
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
}
