// Package localfs implements filestore.Store on a local directory tree.
// It backs single-node deployments and tests; writes are made atomic by
// staging into a temp file and renaming into place.
//
// Layout under the root:
//
//	objects/<key>        object bytes
//	meta/<key>.json      content type and user metadata
//	tmp/                 in-flight writes
package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/filestore"
)

// Store is a filestore.Store rooted at a directory.
type Store struct {
	root string
}

type sidecar struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// New creates the directory layout under root.
func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "local store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "resolve local store root", err)
	}
	s := &Store{root: abs}
	if err := s.EnsureBucket(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping checks that the root is still a directory.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.FromContext(err, "ping")
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return mapError(err, "stat local store root")
	}
	if !info.IsDir() {
		return errs.New(errs.ErrKindStorageFailure, "local store root is not a directory")
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// EnsureBucket creates the directory layout.
func (s *Store) EnsureBucket(_ context.Context) error {
	for _, dir := range []string{"objects", "meta", "tmp"} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return mapError(err, "create local store layout")
		}
	}
	return nil
}

// Stat returns metadata for key.
func (s *Store) Stat(ctx context.Context, key string) (*filestore.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.FromContext(err, "stat object")
	}
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dataPath)
	if err != nil {
		return nil, keyError(err, "stat object")
	}

	var meta sidecar
	raw, err := os.ReadFile(metaPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, errs.Wrap(errs.ErrKindStorageFailure, "decode object metadata", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		meta.ContentType = filestore.DefaultContentType
	default:
		return nil, mapError(err, "read object metadata")
	}

	return &filestore.ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		ContentType:  meta.ContentType,
		ETag:         etag(info),
		LastModified: info.ModTime().UTC(),
		Metadata:     filestore.NormalizeMetadata(meta.Metadata),
	}, nil
}

// OpenRange opens [offset, offset+length) of key; a negative length reads
// to the end.
func (s *Store) OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.FromContext(err, "open object")
	}
	if offset < 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "negative range offset")
	}
	dataPath, _, err := s.paths(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, keyError(err, "open object")
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, mapError(err, "seek object")
		}
	}
	if length < 0 {
		return f, nil
	}
	return &limitedFile{Reader: io.LimitReader(f, length), f: f}, nil
}

// Put writes r to a temp file and renames it into place once complete.
// When size >= 0 the number of bytes read must match it exactly.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	if r == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "reader is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.FromContext(err, "put object")
	}
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "put-*")
	if err != nil {
		return nil, mapError(err, "create temp object")
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		if ctxErr := errs.FromContext(err, "put object"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, mapError(err, "write temp object")
	}
	if size >= 0 && n != size {
		cleanup()
		return nil, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("object size mismatch: declared %d, read %d", size, n))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, mapError(err, "sync temp object")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, mapError(err, "close temp object")
	}

	meta := sidecar{ContentType: opts.ContentTypeOrDefault(), Metadata: opts.Metadata}
	if err := writeSidecar(metaPath, meta); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return nil, mapError(err, "create object directory")
	}
	if err := os.Rename(tmpPath, dataPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, mapError(err, "commit object")
	}

	return s.Stat(ctx, key)
}

// Remove deletes key and its metadata. Missing files are ignored.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return errs.FromContext(err, "remove object")
	}
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return err
	}
	for _, p := range []string{dataPath, metaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return mapError(err, "remove object")
		}
	}
	return nil
}

func (s *Store) paths(key string) (data string, meta string, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", errs.New(errs.ErrKindInvalidInput, "object key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", "", errs.New(errs.ErrKindInvalidInput, "object key must be relative")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", errs.New(errs.ErrKindInvalidInput, "invalid object key")
	}
	return filepath.Join(s.root, "objects", clean), filepath.Join(s.root, "meta", clean+".json"), nil
}

func writeSidecar(path string, meta sidecar) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return errs.Wrap(errs.ErrKindStorageFailure, "encode object metadata", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mapError(err, "create metadata directory")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return mapError(err, "write object metadata")
	}
	return nil
}

func etag(info fs.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

// mapError reports a filesystem failure. A missing directory or a
// permission problem is a broken store, not a missing object.
func mapError(err error, msg string) error {
	return errs.Wrap(errs.ErrKindStorageFailure, msg, err)
}

// keyError is mapError for lookups of an object's data file, the one place
// a missing path means a missing key.
func keyError(err error, msg string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}
	return mapError(err, msg)
}

type limitedFile struct {
	io.Reader
	f *os.File
}

func (l *limitedFile) Close() error {
	return l.f.Close()
}

// contextReader stops a copy once ctx ends.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ filestore.Store = (*Store)(nil)
