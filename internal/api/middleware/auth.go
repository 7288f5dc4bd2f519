package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/api/response"
)

// Auth returns a middleware that accepts a request when the SHA-256 digest
// of its X-API-Key header matches one of keyHashes. Keys may also be sent
// as a bearer token.
func Auth(keyHashes []string) func(http.Handler) http.Handler {
	digests := make([][]byte, 0, len(keyHashes))
	for _, h := range keyHashes {
		if d, err := hex.DecodeString(strings.TrimSpace(h)); err == nil && len(d) == sha256.Size {
			digests = append(digests, d)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = extractAPIKey(r)
			}
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			sum := sha256.Sum256([]byte(key))
			for _, d := range digests {
				if subtle.ConstantTimeCompare(sum[:], d) == 1 {
					zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
						return c.Str("api_key", hex.EncodeToString(sum[:4]))
					})
					next.ServeHTTP(w, r)
					return
				}
			}
			response.WriteError(w, http.StatusUnauthorized, "invalid API key")
		})
	}
}

func extractAPIKey(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// HashKey returns the hex SHA-256 digest stored for key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
