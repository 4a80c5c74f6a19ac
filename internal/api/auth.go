package api

import (
	"net/http"

	"github.com/mattjoyce/ductile-ci/internal/auth"
)

// authMiddleware requires the configured bearer token. It is only installed
// when a token is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Authenticate(r, s.config.Token); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ductile-ci"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
