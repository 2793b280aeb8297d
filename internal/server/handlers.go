package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/notify"
)

const (
	loginJSONMaxBody = 16 << 10
	// statusClientClosed is the de facto status for a client that went away.
	statusClientClosed = 499
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	switch errs.KindOf(err) {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindStorageFailure:
		return http.StatusBadGateway
	case errs.ErrKindUnavailable:
		return http.StatusServiceUnavailable
	case errs.ErrKindConflict:
		return http.StatusConflict
	case errs.ErrKindUnauthenticated:
		return http.StatusUnauthorized
	case errs.ErrKindUnauthorized:
		return http.StatusForbidden
	case errs.ErrKindCanceled:
		return statusClientClosed
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(status int, err error) string {
	if status == http.StatusRequestEntityTooLarge {
		return "request_too_large"
	}
	return errs.KindOf(err).String()
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := codeFor(status, err)
	message := err.Error()

	log := s.requestLog(r)
	fields := map[string]any{
		"status": status,
		"code":   code,
		"method": r.Method,
		"path":   r.URL.Path,
	}
	switch {
	case status >= 500:
		log.ErrorWith("request error", err, fields)
		message = serverErrorMessage(status)
	case status == statusClientClosed:
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("client went away")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		log.WarnWith("request rejected", err, fields)
	default:
		log.Debug().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request rejected")
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mediavault"`)
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	s.writeJSON(w, r, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// serverErrorMessage is what a client sees for a 5xx; the cause stays in
// the log because it can carry paths, endpoints or driver text.
func serverErrorMessage(status int) string {
	switch status {
	case http.StatusBadGateway:
		return "storage backend failure"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusGatewayTimeout:
		return "request timed out"
	default:
		return "internal error"
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.requestLog(r).Error().Err(err).Int("status", status).Msg("write json response")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return errs.Wrap(errs.ErrKindInvalidInput, "invalid json body", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, p := range s.ready {
		if err := p.Ping(r.Context()); err != nil {
			s.writeError(w, r, errs.Wrap(errs.ErrKindUnavailable, "dependency not ready", err))
			return
		}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, loginJSONMaxBody, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.requestLog(r).Info().Str("username", strings.ToLower(strings.TrimSpace(req.Username))).Msg("login")
	s.writeJSON(w, r, http.StatusOK, tok)
}

type eventsResponse struct {
	Events any `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, r, errs.New(errs.ErrKindNotFound, "event journal is not configured"))
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, err := s.events.Recent(r.Context(), kind, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		s.writeJSON(w, r, http.StatusOK, eventsResponse{Events: []any{}})
		return
	}
	s.writeJSON(w, r, http.StatusOK, eventsResponse{Events: entries})
}

// queryInt reads a non-negative integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return n, nil
}

func parseKind(raw string) (notify.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case "uploaded", strings.ToLower(string(notify.KindUploaded)):
		return notify.KindUploaded, nil
	case "downloaded", strings.ToLower(string(notify.KindDownloaded)):
		return notify.KindDownloaded, nil
	}
	return "", errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown event kind %q", raw))
}
