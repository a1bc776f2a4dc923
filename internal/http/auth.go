package httpserver

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/calinst/internal/config"
)

// requireToken enforces bearer-token authentication against the
// configured bcrypt hash. With no hash configured the middleware passes
// everything through; config.Load warns about that at startup.
func requireToken(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.API.TokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok || bcrypt.CompareHashAndPassword([]byte(cfg.API.TokenHash), []byte(token)) != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="calinst"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
