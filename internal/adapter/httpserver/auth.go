package httpserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/vidforge/vidforge/internal/domain"
)

type userIDKey struct{}

// UserIDFrom returns the authenticated user id, or empty when the request
// was not authenticated.
func UserIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}

// APIKeyAuth authenticates requests by static API key. The key is accepted
// as "Authorization: Bearer <key>" or in the X-API-Key header. Comparison is
// constant time per candidate key.
func (s *Server) APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		if key == "" {
			s.writeError(w, r, domain.ErrUnauthenticated, "missing API key")
			return
		}
		userID, ok := s.lookupKey(key)
		if !ok {
			s.writeError(w, r, domain.ErrUnauthenticated, "unknown API key")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) lookupKey(candidate string) (string, bool) {
	var userID string
	found := false
	for key, uid := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			userID = uid
			found = true
		}
	}
	return userID, found
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// requireOwner enforces that the resource belongs to the caller. Unknown
// callers were already rejected by APIKeyAuth.
func requireOwner(ctx context.Context, resourceUserID string) error {
	if UserIDFrom(ctx) != resourceUserID {
		return domain.ErrForbidden
	}
	return nil
}
