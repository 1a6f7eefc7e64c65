package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	// KeyHeader carries the operator key.
	KeyHeader = "X-Api-Key"

	keyQueryParam = "api-key"
)

type ctxKey struct{}

// OperatorFrom returns the operator name stored by Middleware, or "" when the
// service is open.
func OperatorFrom(ctx context.Context) string {
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}

// Middleware rejects requests without a valid operator key with 401. The key
// is taken from the X-Api-Key header or the api-key query parameter.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpen() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(KeyHeader)
		if key == "" {
			key = r.URL.Query().Get(keyQueryParam)
		}
		if name, ok := s.Verify(key); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, name)))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "UNAUTHORIZED",
			"message": "operator key required",
		})
	})
}
