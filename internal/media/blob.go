// Package media provides the collaborators the upload pipeline uses to read
// originals and derive artifacts from them: an S3 blob store, an EXIF
// metadata extractor, and a fixed-width JPEG thumbnail renderer.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// ErrObjectNotFound is returned by BlobStore.Get when the object is absent.
var ErrObjectNotFound = errors.New("object not found")

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=photo-contest"

// BlobStore reads originals and writes derived objects.
type BlobStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// S3API is the subset of the S3 client used by S3BlobStore.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3BlobStore implements BlobStore on Amazon S3.
type S3BlobStore struct {
	client S3API
}

var _ BlobStore = (*S3BlobStore)(nil)

// NewS3BlobStore creates a blob store backed by the given S3 client.
func NewS3BlobStore(client S3API) *S3BlobStore {
	return &S3BlobStore{client: client}
}

// Get downloads an object into memory. Contest photos are bounded in size
// by the upload policy, so buffering is acceptable.
func (s *S3BlobStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	start := time.Now()
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("S3 GetObject s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Object downloaded from S3")
	return data, nil
}

// Put uploads data, tagging it for cost allocation.
func (s *S3BlobStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Msg("Object uploaded to S3")
	return nil
}

// isNotFound reports whether err is S3's way of saying the key does not exist.
// GetObject returns NoSuchKey; S3-compatible endpoints sometimes only set
// the error code on a generic API error.
func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
