// Package vault coordinates uploads and ranged downloads.
//
// Upload stages the body on disk, names it, commits it to the object store
// and announces it. Download stats the object, resolves the Range header,
// opens exactly the requested byte window and hands back a consumer-paced
// stream together with the response metadata. Events are emitted only
// after the success point of each operation and never affect its outcome.
package vault

import (
	"context"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/koustreak/mediavault/internal/byterange"
	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/filestore"
	"github.com/koustreak/mediavault/internal/iopool"
	"github.com/koustreak/mediavault/internal/keyname"
	"github.com/koustreak/mediavault/internal/logger"
	"github.com/koustreak/mediavault/internal/notify"
	"github.com/koustreak/mediavault/internal/staging"
	"github.com/koustreak/mediavault/internal/stream"
)

// Notifier accepts events for asynchronous delivery. Notify must not block.
type Notifier interface {
	Notify(ev notify.Event) bool
}

// Status tells a full response from a partial one.
type Status int

const (
	StatusFull Status = iota
	StatusPartial
)

// HTTPCode returns 200 or 206.
func (s Status) HTTPCode() int {
	if s == StatusPartial {
		return 206
	}
	return 200
}

// Receipt describes a committed upload.
type Receipt struct {
	Key       string
	Filename  string
	Size      int64
	Digest    string
	ETag      string
	Published bool // the uploaded event was accepted for delivery
}

// Descriptor is everything needed to answer a download before the first
// byte is sent. The caller owns Body and must drain or Close it.
type Descriptor struct {
	Body          *stream.Stream
	Key           string
	ContentLength int64
	TotalSize     int64
	Status        Status
	ContentRange  string
	ContentType   string
	Filename      string
	ETag          string

	offset int64
}

// Service is the vault's entry point. It is safe for concurrent use;
// concurrent requests share no per-request state.
type Service struct {
	store     filestore.Store
	stager    *staging.Stager
	notifier  Notifier
	namer     *keyname.Namer
	pool      *iopool.Pool
	chunkSize int
	log       *logger.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithNamer replaces the wall-clock key namer.
func WithNamer(n *keyname.Namer) Option { return func(s *Service) { s.namer = n } }

// WithPool runs stat, open and chunk reads on p.
func WithPool(p *iopool.Pool) Option { return func(s *Service) { s.pool = p } }

// WithChunkSize sets the download chunk size.
func WithChunkSize(n int) Option { return func(s *Service) { s.chunkSize = n } }

// WithLogger sets the service logger.
func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.log = l } }

// New builds a Service. A nil notifier drops every event.
func New(store filestore.Store, stager *staging.Stager, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:     store,
		stager:    stager,
		notifier:  notifier,
		namer:     keyname.New(),
		chunkSize: stream.DefaultChunkSize,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = dropAll{}
	}
	s.log = s.log.Component("vault")
	return s
}

// Upload stores the body read from r under a new key derived from
// filename. The staged copy is removed on every path. On failure nothing
// is announced.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (Receipt, error) {
	if strings.TrimSpace(filename) == "" {
		return Receipt{}, errs.New(errs.ErrKindInvalidInput, "filename is required")
	}
	if r == nil {
		return Receipt{}, errs.New(errs.ErrKindInvalidInput, "upload body is required")
	}

	up, err := s.stager.Stage(ctx, r)
	if err != nil {
		return Receipt{}, err
	}
	defer s.stager.Discard(up)

	key := s.namer.Name(filename).String()

	_, err = s.stat(ctx, key)
	switch {
	case err == nil:
		return Receipt{}, errs.New(errs.ErrKindConflict, "object key already exists: "+key)
	case !errs.IsNotFound(err):
		return Receipt{}, lookupError(err, "check object key")
	}

	info, err := s.stager.Commit(ctx, up, key, filestore.PutOptions{
		ContentType: filestore.DefaultContentType,
		Metadata:    map[string]string{filestore.MetaFilename: encodeFilename(filename)},
	}, s.store)
	if err != nil {
		err = storeError(err, "commit upload")
		s.log.WarnWith("upload failed", err, map[string]any{"key": key, "filename": filename})
		return Receipt{}, err
	}

	rcpt := Receipt{Key: key, Filename: filename, Size: up.Size, Digest: up.Digest}
	if info != nil {
		rcpt.ETag = info.ETag
	}
	rcpt.Published = s.notifier.Notify(notify.Uploaded(key, filename, up.Size, up.Digest))

	s.log.Info().
		Str("key", key).
		Str("filename", filename).
		Int64("size", up.Size).
		Msg("object uploaded")
	return rcpt, nil
}

// Describe resolves key and rawRange into response metadata without
// opening the object. It backs HEAD requests.
func (s *Service) Describe(ctx context.Context, key, rawRange string) (*Descriptor, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "object key is required")
	}
	info, err := s.stat(ctx, key)
	if err != nil {
		return nil, lookupError(err, "stat object")
	}

	res := byterange.Resolve(rawRange, info.Size)
	filename := decodeFilename(info.Filename())
	if filename == "" {
		filename = keyname.BaseName(key)
	}

	d := &Descriptor{
		Key:           key,
		ContentLength: res.Length,
		TotalSize:     info.Size,
		Status:        StatusFull,
		ContentType:   contentType(info.ContentType, filename),
		Filename:      filename,
		ETag:          info.ETag,
		offset:        res.Offset,
	}
	if res.Partial {
		d.Status = StatusPartial
		d.ContentRange = res.ContentRange
	}
	return d, nil
}

// Download opens the resolved byte window of key. A malformed or
// unsatisfiable range yields the whole object. The downloaded event is
// emitted only if the consumer drains Body to the end.
func (s *Service) Download(ctx context.Context, key, rawRange string) (*Descriptor, error) {
	d, err := s.Describe(ctx, key, rawRange)
	if err != nil {
		return nil, err
	}

	src, err := s.open(ctx, key, d.offset, d.ContentLength)
	if err != nil {
		return nil, lookupError(err, "open object")
	}

	filename, length := d.Filename, d.ContentLength
	opts := []stream.Option{
		stream.WithChunkSize(s.chunkSize),
		stream.WithExpectedLength(length),
		stream.WithOnComplete(func() {
			s.notifier.Notify(notify.Downloaded(key, filename, length))
		}),
	}
	if s.pool != nil {
		opts = append(opts, stream.WithPool(s.pool))
	}
	d.Body = stream.Pump(src, opts...)
	return d, nil
}

// storeError reports a store failure as ErrKindStorageFailure whatever kind
// the driver chose, so that bucket or credential trouble never reaches a
// caller as NotFound or Unauthorized. Transient and context kinds survive.
func storeError(err error, msg string) error {
	switch errs.KindOf(err) {
	case errs.ErrKindStorageFailure, errs.ErrKindUnavailable, errs.ErrKindCanceled, errs.ErrKindTimeout:
		return err
	}
	return errs.Wrap(errs.ErrKindStorageFailure, msg, err)
}

// lookupError is storeError for reads by key. A missing or malformed key is
// the caller's problem and keeps its kind.
func lookupError(err error, msg string) error {
	if errs.IsNotFound(err) || errs.IsInvalidInput(err) {
		return err
	}
	return storeError(err, msg)
}

func (s *Service) stat(ctx context.Context, key string) (*filestore.ObjectInfo, error) {
	if s.pool == nil {
		return s.store.Stat(ctx, key)
	}
	return iopool.Call(ctx, s.pool, func(ctx context.Context) (*filestore.ObjectInfo, error) {
		return s.store.Stat(ctx, key)
	})
}

func (s *Service) open(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if s.pool == nil {
		return s.store.OpenRange(ctx, key, offset, length)
	}
	return iopool.Call(ctx, s.pool, func(ctx context.Context) (io.ReadCloser, error) {
		return s.store.OpenRange(ctx, key, offset, length)
	})
}

// mediaTypes covers extensions the vault commonly serves that are missing
// from Go's builtin MIME table.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".txt":  "text/plain; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".zip":  "application/zip",
}

// contentType keeps a specific stored type and otherwise guesses from the
// filename extension.
func contentType(stored, filename string) string {
	switch strings.ToLower(strings.TrimSpace(stored)) {
	case "", filestore.DefaultContentType, "binary/octet-stream":
		ext := strings.ToLower(path.Ext(filename))
		if t, ok := mediaTypes[ext]; ok {
			return t
		}
		if guess := mime.TypeByExtension(ext); guess != "" {
			return guess
		}
		return filestore.DefaultContentType
	}
	return stored
}

// Object-store user metadata travels as HTTP headers, so the original
// filename is stored percent-encoded.
func encodeFilename(name string) string {
	return url.PathEscape(name)
}

func decodeFilename(raw string) string {
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

type dropAll struct{}

func (dropAll) Notify(notify.Event) bool { return false }
