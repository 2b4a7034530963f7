package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

// ObjectSnapshotRepository keeps snapshots as objects in an S3-compatible
// bucket.
type ObjectSnapshotRepository struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectSnapshotRepository stores objects under prefix inside bucket.
func NewObjectSnapshotRepository(client *minio.Client, bucket, prefix string) *ObjectSnapshotRepository {
	return &ObjectSnapshotRepository{client: client, bucket: bucket, prefix: prefix}
}

// Get returns the raw snapshot stored for key.
func (r *ObjectSnapshotRepository) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := r.client.GetObject(ctx, r.bucket, r.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, r.mapError(key, "get", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, r.mapError(key, "read", err)
	}
	return data, nil
}

// Set replaces the snapshot stored for key.
func (r *ObjectSnapshotRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.client.PutObject(ctx, r.bucket, r.objectName(key), bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *ObjectSnapshotRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.RemoveObject(ctx, r.bucket, r.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// List returns the keys starting with prefix, sorted.
func (r *ObjectSnapshotRepository) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{Prefix: r.objectName(prefix), Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, r.prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *ObjectSnapshotRepository) objectName(key string) string {
	return r.prefix + key
}

func (r *ObjectSnapshotRepository) mapError(key, op string, err error) error {
	if isMissingObject(err) {
		return appErrors.ErrCacheMiss
	}
	return fmt.Errorf("%s object %s: %w", op, key, err)
}

func isMissingObject(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
