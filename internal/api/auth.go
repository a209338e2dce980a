package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/rflorenc/state-handoff/internal/models"
)

type senderKey struct{}

// basicAuth authenticates the caller against the configured accounts and
// records the account name as the sender of the request.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, password, ok := r.BasicAuth()
		if !ok || !s.checkPassword(name, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="handoff"`)
			writeError(w, http.StatusUnauthorized, "valid credentials required")
			return
		}
		ctx := context.WithValue(r.Context(), senderKey{}, models.Addr(name))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) checkPassword(name, password string) bool {
	match := 0
	for _, a := range s.Accounts {
		nameOK := subtle.ConstantTimeCompare([]byte(a.Name), []byte(name))
		passOK := subtle.ConstantTimeCompare([]byte(a.Password), []byte(password))
		match |= nameOK & passOK
	}
	return match == 1
}

func senderFrom(ctx context.Context) models.Addr {
	addr, _ := ctx.Value(senderKey{}).(models.Addr)
	return addr
}
