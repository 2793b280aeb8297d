// Package stream turns a sequential byte source into a consumer-paced
// sequence of bounded chunks.
//
// A Stream reads exactly one chunk per call to Next, never ahead of the
// consumer, into a single reusable buffer. The underlying source is closed
// exactly once, whichever comes first: exhaustion, a read error, context
// cancellation, or an explicit Close.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/iopool"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 64 * 1024

// State is the lifecycle position of a Stream.
type State int

const (
	StateStreaming State = iota
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Option configures a Stream.
type Option func(*Stream)

// WithChunkSize sets the maximum chunk size. Values <= 0 are ignored.
func WithChunkSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithPool dispatches each blocking read to p instead of a free goroutine.
func WithPool(p *iopool.Pool) Option {
	return func(s *Stream) { s.pool = p }
}

// WithOnComplete registers fn to run once, on the consumer's goroutine,
// when the stream reaches StateCompleted. It never runs on failure or
// cancellation. fn must not block.
func WithOnComplete(fn func()) Option {
	return func(s *Stream) { s.onComplete = fn }
}

// WithExpectedLength makes the stream fail with ErrKindStorageFailure when
// the source ends after a different number of bytes than n. Negative values
// disable the check.
func WithExpectedLength(n int64) Option {
	return func(s *Stream) { s.expected = n }
}

// Stream is a lazy, finite, non-restartable chunk sequence. Next must be
// called from a single goroutine; Close may be called from any goroutine.
type Stream struct {
	src        io.ReadCloser
	chunkSize  int
	pool       *iopool.Pool
	onComplete func()
	expected   int64

	buf       []byte
	sawEOF    bool
	delivered int64

	mu    sync.Mutex
	state State
	err   error

	closeOnce sync.Once
	closeErr  error
}

// Pump wraps src. The returned Stream owns src from this point on.
func Pump(src io.ReadCloser, opts ...Option) *Stream {
	s := &Stream{src: src, chunkSize: DefaultChunkSize, expected: -1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type readResult struct {
	n   int
	err error
}

// Next returns the next chunk. The slice is only valid until the following
// call to Next. At the end of the sequence Next returns (nil, io.EOF); after
// a failure or cancellation it keeps returning the same terminal error.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if st, err := s.terminal(); st != StateStreaming {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, s.cancel(err)
	}
	if s.sawEOF {
		return nil, s.finish()
	}

	if s.buf == nil {
		s.buf = make([]byte, s.chunkSize)
	}

	res, err := s.read(ctx)
	if err != nil {
		return nil, s.cancel(err)
	}
	// A concurrent Close wins over whatever the interrupted read returned.
	if st, err := s.terminal(); st != StateStreaming {
		return nil, err
	}

	switch {
	case res.err == nil:
	case errors.Is(res.err, io.EOF) && res.n == 0:
		return nil, s.finish()
	case errors.Is(res.err, io.ErrUnexpectedEOF), errors.Is(res.err, io.EOF):
		s.sawEOF = true
	default:
		return nil, s.fail(res.err)
	}

	s.delivered += int64(res.n)
	return s.buf[:res.n], nil
}

// read performs one blocking fill of s.buf off the consumer's goroutine and
// waits for it, unless ctx ends first. On cancellation the source is closed
// to unblock the read, and read waits for the reader to let go of s.buf.
func (s *Stream) read(ctx context.Context) (readResult, error) {
	done := make(chan readResult, 1)
	fill := func() {
		n, err := io.ReadFull(s.src, s.buf)
		done <- readResult{n: n, err: err}
	}

	if s.pool != nil {
		if err := s.pool.Go(ctx, fill); err != nil {
			return readResult{}, err
		}
	} else {
		go fill()
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		s.release()
		<-done
		return readResult{}, ctx.Err()
	}
}

// Close abandons the stream and releases the source. It is safe to call
// more than once and after the stream has ended; only the first release
// reaches the source.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.state == StateStreaming {
		s.state = StateCancelled
		s.err = errs.New(errs.ErrKindCanceled, "stream closed by consumer")
	}
	s.mu.Unlock()
	return s.release()
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Delivered returns the number of bytes handed to the consumer so far.
func (s *Stream) Delivered() int64 {
	return s.delivered
}

// WriteTo drains the stream into w, flushing after every chunk when w is an
// http.Flusher. A write failure (typically a disconnected client) closes the
// stream and is returned as ErrKindCanceled.
func (s *Stream) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	flusher, _ := w.(http.Flusher)
	var written int64
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		n, werr := w.Write(chunk)
		written += int64(n)
		if werr != nil {
			_ = s.Close()
			return written, errs.Wrap(errs.ErrKindCanceled, "write chunk to consumer", werr)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Stream) terminal() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// transition moves the stream out of StateStreaming. It reports false when
// another path already ended the stream.
func (s *Stream) transition(to State, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return false
	}
	s.state = to
	s.err = err
	return true
}

// finish ends the sequence at source exhaustion. A source that ran short of
// the expected length is a failure, not a completion.
func (s *Stream) finish() error {
	if s.expected >= 0 && s.delivered != s.expected {
		return s.fail(fmt.Errorf("source ended after %d of %d bytes: %w", s.delivered, s.expected, io.ErrUnexpectedEOF))
	}
	return s.complete()
}

func (s *Stream) complete() error {
	if !s.transition(StateCompleted, io.EOF) {
		_, err := s.terminal()
		return err
	}
	_ = s.release()
	if s.onComplete != nil {
		s.onComplete()
	}
	return io.EOF
}

func (s *Stream) fail(cause error) error {
	s.transition(StateFailed, errs.Wrap(errs.ErrKindStorageFailure, "read object chunk", cause))
	_ = s.release()
	_, err := s.terminal()
	return err
}

func (s *Stream) cancel(cause error) error {
	wrapped := errs.FromContext(cause, "stream cancelled")
	if wrapped == nil {
		wrapped = errs.Wrap(errs.ErrKindCanceled, "stream cancelled", cause)
	}
	s.transition(StateCancelled, wrapped)
	_ = s.release()
	_, err := s.terminal()
	return err
}

func (s *Stream) release() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}
