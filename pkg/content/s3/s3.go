// Package s3 implements content.Store on Amazon S3 or any S3-compatible
// object store (MinIO, Localstack, Ceph RGW).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/marmos91/siafuse/pkg/content"
)

// Client is the subset of the S3 API used by the store. *s3.Client
// satisfies it; tests substitute an in-memory fake.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// MaxObjectSize is the largest object a single PutObject accepts.
const MaxObjectSize uint64 = 5 << 30

// S3ContentStoreConfig configures an S3ContentStore.
type S3ContentStoreConfig struct {
	// Client is the S3 client (required)
	Client Client

	// Bucket is the bucket name (required)
	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "siafuse/"
	KeyPrefix string
}

// S3ContentStore stores one object per blob.
//
// S3 objects are immutable, so WriteAt and Truncate are read-modify-write
// cycles on the whole object. That is acceptable for the small and medium
// files this backend targets; the inode content lock guarantees that no two
// writers race on the same object.
//
// Reads use ranged GETs and never download more than requested.
type S3ContentStore struct {
	client    Client
	bucket    string
	keyPrefix string
}

// NewS3ContentStore creates an S3 content store and verifies that the
// bucket is reachable.
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, errors.New("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *S3ContentStore) getObjectKey(id content.ID) string {
	return s.keyPrefix + string(id)
}

// isNotFound reports whether err is an S3 missing-object error. GetObject
// reports NoSuchKey while HeadObject reports a bare NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// size returns the object length.
func (s *S3ContentStore) size(ctx context.Context, id content.ID) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, content.NotFound(id)
		}
		return 0, fmt.Errorf("failed to head object: %w", err)
	}

	return aws.ToInt64(out.ContentLength), nil
}

// get downloads an object, optionally limited to an HTTP byte range.
func (s *S3ContentStore) get(ctx context.Context, id content.ID, byteRange string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
	}
	if byteRange != "" {
		input.Range = aws.String(byteRange)
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, content.NotFound(id)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return data, nil
}

// put uploads data as the whole object.
func (s *S3ContentStore) put(ctx context.Context, id content.ID, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.getObjectKey(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object to S3: %w", err)
	}
	return nil
}

// ============================================================================
// content.Store Implementation
// ============================================================================

// Create uploads an empty object under a random UUID.
func (s *S3ContentStore) Create(ctx context.Context) (content.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := content.ID(uuid.NewString())
	if err := s.put(ctx, id, nil); err != nil {
		return "", err
	}

	return id, nil
}

// ReadAt issues a ranged GET clamped to the object length.
func (s *S3ContentStore) ReadAt(ctx context.Context, id content.ID, offset int64, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := content.ValidateOffset(id, offset); err != nil {
		return nil, err
	}

	size, err := s.size(ctx, id)
	if err != nil {
		return nil, err
	}

	// S3 answers 416 for ranges starting at or past the end.
	if offset >= size || length <= 0 {
		return []byte{}, nil
	}

	end := min(offset+int64(length), size) - 1
	return s.get(ctx, id, fmt.Sprintf("bytes=%d-%d", offset, end))
}

// WriteAt downloads the object, patches it and uploads it again.
func (s *S3ContentStore) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateOffset(id, offset); err != nil {
		return 0, err
	}

	end := offset + int64(len(data))
	if uint64(end) > MaxObjectSize {
		return 0, content.TooLarge(id, uint64(end))
	}

	existing, err := s.get(ctx, id, "")
	if err != nil {
		return 0, err
	}

	if end > int64(len(existing)) {
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:], data)

	if err := s.put(ctx, id, existing); err != nil {
		return 0, err
	}

	return len(data), nil
}

// Truncate downloads the object, resizes it and uploads it again.
func (s *S3ContentStore) Truncate(ctx context.Context, id content.ID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if size > MaxObjectSize {
		return content.TooLarge(id, size)
	}

	existing, err := s.get(ctx, id, "")
	if err != nil {
		return err
	}

	if uint64(len(existing)) == size {
		return nil
	}

	resized := make([]byte, size)
	copy(resized, existing)

	return s.put(ctx, id, resized)
}

// Destroy deletes the object. S3 deletes are idempotent.
func (s *S3ContentStore) Destroy(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}

	return nil
}

// ============================================================================
// Optional Interfaces
// ============================================================================

// walk pages through every object under the key prefix.
func (s *S3ContentStore) walk(ctx context.Context, fn func(obj types.Object)) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			fn(obj)
		}
	}

	return nil
}

// List returns the IDs of every object under the key prefix.
func (s *S3ContentStore) List(ctx context.Context) ([]content.ID, error) {
	var ids []content.ID
	err := s.walk(ctx, func(obj types.Object) {
		key := aws.ToString(obj.Key)
		if id, ok := strings.CutPrefix(key, s.keyPrefix); ok && id != "" {
			ids = append(ids, content.ID(id))
		}
	})

	return ids, err
}

// Stats sums the sizes of every object under the key prefix.
func (s *S3ContentStore) Stats(ctx context.Context) (*content.Stats, error) {
	stats := &content.Stats{Backend: "s3"}
	err := s.walk(ctx, func(obj types.Object) {
		stats.UsedSize += uint64(aws.ToInt64(obj.Size))
		stats.ContentCount++
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}
