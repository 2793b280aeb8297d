// Package minio provides a MinIO / S3 implementation of filestore.Store.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin", "vault")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	rc, err := store.OpenRange(ctx, key, 0, 1024)
package minio

import (
	"context"
	"io"
	"strings"

	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/filestore"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Driver is a MinIO implementation of filestore.Store bound to one bucket.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	bucket string
	region string
}

// New connects to MinIO using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	opts := &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = miniogo.BucketLookupPath
	}

	client, err := miniogo.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnavailable, "failed to create minio client", err)
	}

	d := &Driver{client: client, bucket: cfg.Bucket, region: cfg.Region}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// --- filestore.Store implementation ---

// Ping verifies the MinIO server is reachable and the credentials work.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.BucketExists(ctx, d.bucket); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op for MinIO; the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// EnsureBucket creates the configured bucket if it is missing.
func (d *Driver) EnsureBucket(ctx context.Context) error {
	exists, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return mapError(err, "failed to check bucket")
	}
	if exists {
		return nil
	}
	err = d.client.MakeBucket(ctx, d.bucket, miniogo.MakeBucketOptions{Region: d.region})
	if err != nil {
		// Lost a race with another instance creating the same bucket.
		if resp := miniogo.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return mapError(err, "failed to create bucket")
	}
	return nil
}

// Stat returns metadata for key without downloading its content.
func (d *Driver) Stat(ctx context.Context, key string) (*filestore.ObjectInfo, error) {
	stat, err := d.client.StatObject(ctx, d.bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}
	return toObjectInfo(stat), nil
}

// OpenRange opens a reader over [offset, offset+length) of key.
// A negative length reads to the end of the object.
func (d *Driver) OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "negative range offset")
	}
	if length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}

	opts := miniogo.GetObjectOptions{}
	switch {
	case length > 0:
		if err := opts.SetRange(offset, offset+length-1); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid range", err)
		}
	case offset > 0:
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid range", err)
		}
	}

	obj, err := d.client.GetObject(ctx, d.bucket, key, opts)
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}
	return &object{obj: obj}, nil
}

// Put uploads size bytes from r under key.
func (d *Driver) Put(ctx context.Context, key string, r io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	info, err := d.client.PutObject(ctx, d.bucket, key, r, size, miniogo.PutObjectOptions{
		ContentType:  opts.ContentTypeOrDefault(),
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}

	return &filestore.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  opts.ContentTypeOrDefault(),
		ETag:         info.ETag,
		LastModified: info.LastModified,
		Metadata:     filestore.NormalizeMetadata(opts.Metadata),
	}, nil
}

// Remove deletes key. S3 semantics make removing a missing key a no-op.
func (d *Driver) Remove(ctx context.Context, key string) error {
	if err := d.client.RemoveObject(ctx, d.bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return mapError(err, "failed to remove object")
	}
	return nil
}

// --- internal types ---

// object adapts a lazily fetched *miniogo.Object. GetObject defers the
// request until the first Read, so errors surface there and are mapped.
type object struct {
	obj *miniogo.Object
}

func (o *object) Read(p []byte) (int, error) {
	n, err := o.obj.Read(p)
	if err != nil && err != io.EOF {
		return n, mapError(err, "failed to read object")
	}
	return n, err
}

func (o *object) Close() error {
	return o.obj.Close()
}

func toObjectInfo(stat miniogo.ObjectInfo) *filestore.ObjectInfo {
	return &filestore.ObjectInfo{
		Key:          stat.Key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		ETag:         stat.ETag,
		LastModified: stat.LastModified,
		Metadata:     filestore.NormalizeMetadata(stat.UserMetadata),
	}
}

var _ filestore.Store = (*Driver)(nil)
