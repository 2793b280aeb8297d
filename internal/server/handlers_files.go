package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/vault"
)

const (
	uploadFormField = "file"
	// multipartOverhead leaves room for boundaries and part headers on top
	// of the configured upload limit.
	multipartOverhead = 1 << 20
)

type uploadResponse struct {
	ObjectName       string `json:"objectName"`
	Filename         string `json:"filename"`
	Size             int64  `json:"size"`
	Digest           string `json:"digest"`
	MessagePublished bool   `json:"messagePublished"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, errs.Wrap(errs.ErrKindInvalidInput, "expected a multipart/form-data body", err))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.writeError(w, r, errs.New(errs.ErrKindInvalidInput, `multipart field "file" is required`))
			return
		}
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				s.writeError(w, r, err)
				return
			}
			s.writeError(w, r, errs.Wrap(errs.ErrKindInvalidInput, "read multipart body", err))
			return
		}
		if part.FormName() != uploadFormField {
			_ = part.Close()
			continue
		}

		filename := part.FileName()
		if filename == "" {
			_ = part.Close()
			s.writeError(w, r, errs.New(errs.ErrKindInvalidInput, `multipart field "file" has no filename`))
			return
		}

		rcpt, err := s.files.Upload(r.Context(), filename, part)
		_ = part.Close()
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		w.Header().Set("Location", "/api/files/"+url.PathEscape(rcpt.Key))
		if rcpt.ETag != "" {
			w.Header().Set("ETag", quoteETag(rcpt.ETag))
		}
		s.writeJSON(w, r, http.StatusCreated, uploadResponse{
			ObjectName:       rcpt.Key,
			Filename:         rcpt.Filename,
			Size:             rcpt.Size,
			Digest:           rcpt.Digest,
			MessagePublished: rcpt.Published,
		})
		return
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	d, err := s.files.Download(r.Context(), key, r.Header.Get("Range"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer d.Body.Close()

	setObjectHeaders(w.Header(), d)
	w.WriteHeader(d.Status.HTTPCode())

	n, err := d.Body.WriteTo(r.Context(), w)
	if err != nil {
		// Headers are already on the wire; all that is left is to log.
		ev := s.requestLog(r).Warn()
		if errs.IsCanceled(err) || errs.IsTimeout(err) {
			ev = s.requestLog(r).Debug()
		}
		ev.Err(err).
			Str("key", key).
			Int64("sent", n).
			Int64("expected", d.ContentLength).
			Msg("download interrupted")
	}
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.files.Describe(r.Context(), key, r.Header.Get("Range"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	setObjectHeaders(w.Header(), d)
	w.WriteHeader(d.Status.HTTPCode())
}

func pathKey(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "key")
	key, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(key) == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "invalid object key")
	}
	return key, nil
}

func setObjectHeaders(h http.Header, d *vault.Descriptor) {
	h.Set("Content-Type", d.ContentType)
	h.Set("Content-Length", strconv.FormatInt(d.ContentLength, 10))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Disposition", contentDisposition(d.Filename))
	if d.ContentRange != "" {
		h.Set("Content-Range", d.ContentRange)
	}
	if d.ETag != "" {
		h.Set("ETag", quoteETag(d.ETag))
	}
}

// contentDisposition falls back to RFC 2231 encoding for non-ASCII names.
func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}
