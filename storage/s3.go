package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

// S3Config configures an S3 backend.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	// AccessKey and SecretKey override the default AWS credential chain when set.
	AccessKey string
	SecretKey string
	// ForcePathStyle is needed by most S3-compatible services (MinIO, Ceph).
	ForcePathStyle bool
}

// S3Map implements a durable map using Amazon S3 or compatible services.
// Objects are private and keyed by prefix/hex(key).
type S3Map struct {
	mu          sync.Mutex
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Map creates a new S3 backend.
func NewS3Map(cfg S3Config, log *slog.Logger) (*S3Map, error) {
	// Format the URI for tracking
	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, cfg.Prefix, cfg.Region)
	if cfg.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", cfg.Endpoint)
	}

	awsCfg := aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Map{
		client:      s3.New(sess),
		bucketName:  cfg.Bucket,
		prefix:      strings.TrimSuffix(cfg.Prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Get retrieves the object stored under key.
func (b *S3Map) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return b.read(ctx, key)
}

func (b *S3Map) read(ctx context.Context, key []byte) ([]byte, bool, error) {
	start := time.Now()
	objectKey := b.getObjectKey(key)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, false, nil
		}

		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", objectKey),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, false, fmt.Errorf("%w: failed to get object from S3: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer result.Body.Close()

	// Read object body
	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read object body: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Fetched object from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, true, nil
}

// Insert overwrites the object under key. PutObject is atomic per object;
// the previous value is read first within this process only.
func (b *S3Map) Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous, found, err := b.read(ctx, key)
	if err != nil {
		return nil, false, err
	}

	objectKey := b.getObjectKey(key)
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(value),
		ACL:    aws.String(s3.ObjectCannedACLPrivate),
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to upload object to S3: %v", interfaces.ErrStoreUnavailable, err)
	}

	b.log.Debug("Stored object in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey))

	return previous, found, nil
}

// Available checks if the S3 backend is accessible by attempting to head the bucket.
func (b *S3Map) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable", slog.String("bucket", b.bucketName), "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *S3Map) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this backend.
func (b *S3Map) LocationURI() string {
	return b.locationURI
}

func (b *S3Map) Close() error {
	return nil
}

// getObjectKey generates an S3 object key for a map key.
func (b *S3Map) getObjectKey(key []byte) string {
	idStr := hex.EncodeToString(key)
	if b.prefix == "" {
		return idStr
	}
	return path.Join(b.prefix, idStr)
}
