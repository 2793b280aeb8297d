// Package filestore defines the object-store gateway used by the vault.
//
// All providers (MinIO/S3, local filesystem) implement the Store interface.
// Callers depend only on this package, never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin", "vault")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	info, err := store.Stat(ctx, "1700000000000-clip.mp4")
package filestore

import (
	"context"
	"io"
)

// Store is the single interface all object-store providers implement.
// A Store is bound to one bucket (see Config.Bucket).
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// EnsureBucket creates the configured bucket when it does not exist yet.
	EnsureBucket(ctx context.Context) error

	// Stat returns fresh metadata for key. A missing key yields an
	// errs.ErrKindNotFound error.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// OpenRange opens a sequential reader over length bytes of key starting
	// at offset. A negative length reads to the end of the object.
	// The caller MUST Close the returned reader.
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Put writes size bytes from r under key. The object becomes readable
	// only if the whole write succeeds.
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Writer is the subset of Store needed to commit an upload.
type Writer interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)
}
