// Package staging buffers inbound uploads on local disk before they are
// committed to the object store.
//
// Staging gives the store an exact byte count up front and a source that
// can be rewound when a transient store error calls for another attempt.
// A staged file never outlives the upload that created it: Commit and
// Discard both remove it, and Sweep collects files orphaned by a crash.
package staging

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/filestore"
	"github.com/koustreak/mediavault/internal/iopool"
	"github.com/koustreak/mediavault/internal/logger"
	"github.com/zeebo/blake3"
)

const filePrefix = "upload-"

// Config controls where and how uploads are staged.
type Config struct {
	// Dir holds staged files. Empty means os.TempDir()/mediavault-staging.
	Dir string `yaml:"dir"`

	// MaxBytes rejects uploads larger than this. 0 disables the limit.
	MaxBytes int64 `yaml:"max_bytes"`

	// CommitAttempts is the total number of Put attempts on transient
	// store errors. Values < 1 mean a single attempt.
	CommitAttempts int `yaml:"commit_attempts"`

	// RetryBackoff is the delay before the second attempt; it doubles for
	// each further attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig returns the defaults used by the server.
func DefaultConfig() *Config {
	return &Config{
		Dir:            filepath.Join(os.TempDir(), "mediavault-staging"),
		MaxBytes:       0,
		CommitAttempts: 3,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// Upload is a payload fully written to local disk.
type Upload struct {
	Path   string
	Size   int64
	Digest string // hex BLAKE3-256 of the content
}

// Stager writes uploads to disk and commits them to a store.
type Stager struct {
	dir      string
	maxBytes int64
	attempts int
	backoff  time.Duration
	pool     *iopool.Pool
	log      *logger.Logger
}

// New creates the staging directory. pool may be nil, in which case disk
// work runs on the caller's goroutine.
func New(cfg *Config, pool *iopool.Pool, log *logger.Logger) (*Stager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = DefaultConfig().Dir
	}
	if cfg.MaxBytes < 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "staging max_bytes must not be negative")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.ErrKindStorageFailure, "create staging dir", err)
	}
	attempts := cfg.CommitAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Stager{
		dir:      dir,
		maxBytes: cfg.MaxBytes,
		attempts: attempts,
		backoff:  cfg.RetryBackoff,
		pool:     pool,
		log:      log.Component("staging"),
	}, nil
}

// Dir returns the staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage copies r to a new temp file. On any failure the partial file is
// removed and no Upload is returned.
func (s *Stager) Stage(ctx context.Context, r io.Reader) (*Upload, error) {
	if r == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "upload body is required")
	}
	return call(ctx, s.pool, func(ctx context.Context) (*Upload, error) {
		return s.stage(ctx, r)
	})
}

func (s *Stager) stage(ctx context.Context, r io.Reader) (*Upload, error) {
	f, err := os.CreateTemp(s.dir, filePrefix+"*")
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindStorageFailure, "create staging file", err)
	}
	path := f.Name()
	fail := func(err error) (*Upload, error) {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}

	src := io.Reader(ctxReader{ctx: ctx, r: r})
	if s.maxBytes > 0 {
		// One extra byte tells an exact-limit upload from an oversized one.
		src = io.LimitReader(src, s.maxBytes+1)
	}

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if err != nil {
		if ctxErr := errs.FromContext(err, "staging upload"); ctxErr != nil {
			return fail(ctxErr)
		}
		var se sourceError
		if errors.As(err, &se) {
			if errs.KindOf(se.err) != errs.ErrKindUnknown {
				return fail(se.err)
			}
			return fail(errs.Wrap(errs.ErrKindInvalidInput, "read upload body", se.err))
		}
		return fail(errs.Wrap(errs.ErrKindStorageFailure, "write staging file", err))
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return fail(errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("upload exceeds %d bytes", s.maxBytes)))
	}
	if err := f.Sync(); err != nil {
		return fail(errs.Wrap(errs.ErrKindStorageFailure, "sync staging file", err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, errs.Wrap(errs.ErrKindStorageFailure, "close staging file", err)
	}

	s.log.Debug().Str("path", path).Int64("size", n).Msg("upload staged")
	return &Upload{Path: path, Size: n, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// Commit writes up to dst under key. A transient store error
// (errs.ErrKindUnavailable) is retried from the start of the staged file
// with exponential backoff. The staged file is removed when Commit returns,
// whatever the outcome.
func (s *Stager) Commit(ctx context.Context, up *Upload, key string, opts filestore.PutOptions, dst filestore.Writer) (*filestore.ObjectInfo, error) {
	if up == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "nothing staged")
	}
	defer s.Discard(up)

	return call(ctx, s.pool, func(ctx context.Context) (*filestore.ObjectInfo, error) {
		return s.commit(ctx, up, key, opts, dst)
	})
}

func (s *Stager) commit(ctx context.Context, up *Upload, key string, opts filestore.PutOptions, dst filestore.Writer) (*filestore.ObjectInfo, error) {
	f, err := os.Open(up.Path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindStorageFailure, "open staging file", err)
	}
	defer f.Close()

	delay := s.backoff
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return nil, errs.Wrap(errs.ErrKindStorageFailure, "rewind staging file", err)
			}
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}

		info, err := dst.Put(ctx, key, f, up.Size, opts)
		if err == nil {
			return info, nil
		}
		lastErr = err
		if !errs.IsUnavailable(err) {
			return nil, err
		}
		s.log.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("transient store error")
	}
	return nil, lastErr
}

// Discard removes the staged file. It is safe to call more than once.
func (s *Stager) Discard(up *Upload) {
	if up == nil || up.Path == "" {
		return
	}
	if err := os.Remove(up.Path); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("path", up.Path).Msg("failed to remove staging file")
	}
}

// Sweep removes staged files last modified before now-olderThan and
// returns how many were removed.
func (s *Stager) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errs.Wrap(errs.ErrKindStorageFailure, "read staging dir", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("swept orphaned staging files")
	}
	return removed, nil
}

func call[T any](ctx context.Context, pool *iopool.Pool, fn func(context.Context) (T, error)) (T, error) {
	if pool == nil {
		return fn(ctx)
	}
	return iopool.Call(ctx, pool, fn)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errs.FromContext(ctx.Err(), "waiting to retry commit")
	case <-t.C:
		return nil
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

// Read marks errors coming from the wrapped reader so that a broken body
// can be told apart from a failing staging disk.
func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		err = sourceError{err}
	}
	return n, err
}

type sourceError struct{ err error }

func (e sourceError) Error() string { return e.err.Error() }
func (e sourceError) Unwrap() error { return e.err }
