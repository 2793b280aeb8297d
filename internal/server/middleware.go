package server

import (
	"net/http"

	"github.com/koustreak/mediavault/internal/auth"
)

// requireAuth rejects requests without a valid bearer token and stores the
// caller's principal in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth.Verify(auth.TokenFromRequest(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}
