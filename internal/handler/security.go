package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/tallyhq/pos-core/internal/domain/auth"
)

// APIKeyMiddleware authenticates requests via HMAC-SHA256 hashed API keys
// carried in the X-API-Key header.
type APIKeyMiddleware struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAPIKeyMiddleware creates the middleware with the given API key
// repository and HMAC pepper.
func NewAPIKeyMiddleware(apikeys auth.Repository, pepper []byte) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Wrap authenticates and authorizes the request before passing it to next.
// The provided key is HMAC-hashed, looked up, and compared in constant time
// to prevent timing side-channels; the key's scopes must then cover the API
// area the request targets.
func (m *APIKeyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get("X-API-Key")
		if secret == "" {
			respond(w, r, http.StatusUnauthorized, errorResponse{Code: 401, Message: "unauthorized"})
			return
		}

		mac := hmac.New(sha256.New, m.pepper)
		mac.Write([]byte(secret))
		hash := mac.Sum(nil)

		key, err := m.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			respond(w, r, http.StatusUnauthorized, errorResponse{Code: 401, Message: "unauthorized"})
			return
		}

		storedBytes, err := hex.DecodeString(key.Hash)
		if err != nil || subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
			respond(w, r, http.StatusUnauthorized, errorResponse{Code: 401, Message: "unauthorized"})
			return
		}

		if !key.Allows(scopeForPath(r.URL.Path)) {
			respond(w, r, http.StatusForbidden, errorResponse{Code: 403, Message: "forbidden"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// scopeForPath maps an API path to the scope guarding it: /v1/orders/... is
// the "orders" scope, /v1/payments/... is "payments", and so on.
func scopeForPath(path string) string {
	rest := strings.TrimPrefix(path, "/v1/")
	if i := strings.IndexByte(rest, '/'); i > 0 {
		return rest[:i]
	}
	return rest
}
