package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koustreak/mediavault/internal/auth"
	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/filestore/localfs"
	"github.com/koustreak/mediavault/internal/notify"
	"github.com/koustreak/mediavault/internal/notify/journal"
	"github.com/koustreak/mediavault/internal/staging"
	"github.com/koustreak/mediavault/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ev notify.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeEventLog struct {
	kind   notify.Kind
	limit  int
	offset int
	err    error
}

func (f *fakeEventLog) Recent(_ context.Context, kind notify.Kind, limit, offset int) ([]journal.Entry, error) {
	f.kind, f.limit, f.offset = kind, limit, offset
	if f.err != nil {
		return nil, f.err
	}
	return []journal.Entry{{Channel: "file.uploaded", Event: notify.Uploaded("1-a.txt", "a.txt", 3, "")}}, nil
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type harness struct {
	srv      *Server
	handler  http.Handler
	notifier *recorder
	stageDir string
	token    string
}

func newHarness(t *testing.T, maxStage int64, opts ...Option) *harness {
	t.Helper()

	store, err := localfs.New(t.TempDir())
	require.NoError(t, err)

	stageDir := t.TempDir()
	stager, err := staging.New(&staging.Config{Dir: stageDir, MaxBytes: maxStage, CommitAttempts: 1}, nil, nil)
	require.NoError(t, err)

	rec := &recorder{}
	svc := vault.New(store, stager, rec)

	hashed, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	gate, err := auth.New(&auth.Config{
		Secret: testSecret,
		Issuer: "mediavault",
		TTL:    time.Hour,
		Users:  []auth.User{{Username: "omar", PasswordHash: string(hashed), Roles: []string{"USER"}}},
	})
	require.NoError(t, err)
	tok, err := gate.Issue("omar")
	require.NoError(t, err)

	opts = append([]Option{WithReadiness(store)}, opts...)
	srv := New(nil, svc, gate, opts...)
	return &harness{srv: srv, handler: srv.Handler(), notifier: rec, stageDir: stageDir, token: tok.Value}
}

func (h *harness) do(req *http.Request, authed bool) *httptest.ResponseRecorder {
	if authed {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (h *harness) upload(t *testing.T, filename string, content []byte) uploadResponse {
	t.Helper()
	body, ctype := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ctype)
	rec := h.do(req, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "/api/files/"+resp.ObjectName, rec.Header().Get("Location"))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t, 0)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil), false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = h.do(httptest.NewRequest(http.MethodGet, "/ready", nil), false)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newHarness(t, 0, WithReadiness(pingFunc(func(context.Context) error {
		return errs.New(errs.ErrKindUnavailable, "minio unreachable")
	})))
	rec = down.do(httptest.NewRequest(http.MethodGet, "/ready", nil), false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeError(t, rec).Code)
}

func TestRequestIDPropagated(t *testing.T) {
	h := newHarness(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := h.do(req, false)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestLogin(t *testing.T) {
	h := newHarness(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"omar","password":"correct horse"}`))
	rec := h.do(req, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok auth.Token
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tok))
	assert.NotEmpty(t, tok.Value)

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"omar","password":"nope"}`))
	rec = h.do(req, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, rec).Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":`))
	rec = h.do(req, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	h := newHarness(t, 0)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/files/anything", nil), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.Equal(t, "unauthenticated", decodeError(t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/files/anything", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = h.do(req, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadThenDownload(t *testing.T) {
	h := newHarness(t, 0)
	content := bytes.Repeat([]byte("0123456789"), 1000)

	up := h.upload(t, "my clip.mp4", content)
	assert.True(t, strings.HasSuffix(up.ObjectName, "-my_clip.mp4"), up.ObjectName)
	assert.Equal(t, "my clip.mp4", up.Filename)
	assert.Equal(t, int64(len(content)), up.Size)
	assert.Len(t, up.Digest, 64)
	assert.True(t, up.MessagePublished)

	staged, err := os.ReadDir(h.stageDir)
	require.NoError(t, err)
	assert.Empty(t, staged, "staging file left behind")

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/files/"+up.ObjectName, nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, "10000", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Range"))
	assert.Equal(t, `attachment; filename="my clip.mp4"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("ETag"), `"`))

	assert.Equal(t, []notify.Kind{notify.KindUploaded, notify.KindDownloaded}, h.notifier.kinds())
}

func TestRangedDownload(t *testing.T) {
	h := newHarness(t, 0)
	content := bytes.Repeat([]byte("abcdefghij"), 100)
	up := h.upload(t, "notes.txt", content)

	tests := []struct {
		name         string
		rangeHeader  string
		status       int
		contentRange string
		body         []byte
	}{
		{"first ten", "bytes=0-9", http.StatusPartialContent, "bytes 0-9/1000", content[:10]},
		{"open ended", "bytes=990-", http.StatusPartialContent, "bytes 990-999/1000", content[990:]},
		{"suffix", "bytes=-5", http.StatusPartialContent, "bytes 995-999/1000", content[995:]},
		{"clamped end", "bytes=995-5000", http.StatusPartialContent, "bytes 995-999/1000", content[995:]},
		{"malformed", "bytes=oops", http.StatusOK, "", content},
		{"unsatisfiable", "bytes=5000-6000", http.StatusOK, "", content},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/files/"+up.ObjectName, nil)
			req.Header.Set("Range", tt.rangeHeader)
			rec := h.do(req, true)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.contentRange, rec.Header().Get("Content-Range"))
			assert.Equal(t, tt.body, rec.Body.Bytes())
		})
	}
}

func TestHead(t *testing.T) {
	h := newHarness(t, 0)
	up := h.upload(t, "a.txt", []byte("hello world"))

	req := httptest.NewRequest(http.MethodHead, "/api/files/"+up.ObjectName, nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := h.do(req, true)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 0-4/11", rec.Header().Get("Content-Range"))
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, []notify.Kind{notify.KindUploaded}, h.notifier.kinds(), "HEAD must not emit a download event")

	rec = h.do(httptest.NewRequest(http.MethodHead, "/api/files/missing", nil), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestDownloadMissing(t *testing.T) {
	h := newHarness(t, 0)
	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/files/nope.bin", nil), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)
	assert.Empty(t, h.notifier.kinds())
}

func TestUploadRejects(t *testing.T) {
	h := newHarness(t, 10)

	body, ctype := multipartBody(t, "other", "a.txt", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ctype)
	rec := h.do(req, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rec).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec = h.do(req, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ctype = multipartBody(t, "file", "big.bin", bytes.Repeat([]byte("x"), 100))
	req = httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", ctype)
	rec = h.do(req, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	staged, err := os.ReadDir(h.stageDir)
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.Empty(t, h.notifier.kinds())
}

func TestEvents(t *testing.T) {
	h := newHarness(t, 0)
	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/events", nil), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	log := &fakeEventLog{}
	h = newHarness(t, 0, WithEventLog(log))

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/events?limit=5&offset=10&kind=uploaded", nil), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, notify.KindUploaded, log.kind)
	assert.Equal(t, 5, log.limit)
	assert.Equal(t, 10, log.offset)

	var body struct {
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "file.uploaded", body.Events[0]["channel"])
	assert.Equal(t, "FILE_UPLOADED", body.Events[0]["event"])

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/events?limit=-1", nil), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/events?kind=deleted", nil), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	for _, q := range []string{"offset=-3", "offset=next"} {
		rec = h.do(httptest.NewRequest(http.MethodGet, "/api/events?"+q, nil), true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/events", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, log.offset, "absent offset means the first page")

	log.err = errs.New(errs.ErrKindUnavailable, "db down")
	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/events", nil), true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerErrorsHideCause(t *testing.T) {
	const cause = "open /var/lib/mediavault/objects/1-a.txt: input/output error"
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{errs.Wrap(errs.ErrKindStorageFailure, "query events", errors.New(cause)), http.StatusBadGateway, "storage_failure"},
		{errs.Wrap(errs.ErrKindUnavailable, "query events", errors.New(cause)), http.StatusServiceUnavailable, "unavailable"},
		{errs.Wrap(errs.ErrKindTimeout, "query events", errors.New(cause)), http.StatusGatewayTimeout, "timeout"},
		{errors.New(cause), http.StatusInternalServerError, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := newHarness(t, 0, WithEventLog(&fakeEventLog{err: tt.err}))
			rec := h.do(httptest.NewRequest(http.MethodGet, "/api/events", nil), true)
			require.Equal(t, tt.status, rec.Code)

			detail := decodeError(t, rec)
			assert.Equal(t, tt.code, detail.Code)
			assert.NotEmpty(t, detail.Message)
			assert.NotContains(t, detail.Message, "/var/lib")
			assert.NotContains(t, detail.Message, "query events")
		})
	}

	h := newHarness(t, 0, WithEventLog(&fakeEventLog{err: errs.New(errs.ErrKindInvalidInput, "invalid limit")}))
	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/events", nil), true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "invalid limit", "client errors keep their message")
}

func TestUploadTruncatedBody(t *testing.T) {
	h := newHarness(t, 0)

	body, ctype := multipartBody(t, "file", "clip.mp4", bytes.Repeat([]byte("x"), 1000))
	cut := bytes.NewReader(body.Bytes()[:body.Len()-200])
	req := httptest.NewRequest(http.MethodPost, "/api/files", cut)
	req.Header.Set("Content-Type", ctype)
	rec := h.do(req, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "invalid_input", decodeError(t, rec).Code)
	staged, err := os.ReadDir(h.stageDir)
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.Empty(t, h.notifier.kinds())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.New(errs.ErrKindNotFound, ""), 404},
		{errs.New(errs.ErrKindInvalidInput, ""), 400},
		{errs.New(errs.ErrKindStorageFailure, ""), 502},
		{errs.New(errs.ErrKindUnavailable, ""), 503},
		{errs.New(errs.ErrKindConflict, ""), 409},
		{errs.New(errs.ErrKindUnauthenticated, ""), 401},
		{errs.New(errs.ErrKindUnauthorized, ""), 403},
		{errs.New(errs.ErrKindCanceled, ""), 499},
		{errs.New(errs.ErrKindTimeout, ""), 504},
		{io.ErrUnexpectedEOF, 500},
		{errs.Wrap(errs.ErrKindStorageFailure, "read", &http.MaxBytesError{Limit: 1}), 413},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
