package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authenticator checks bearer API keys on mutating routes. An empty key
// set disables authentication, which is only appropriate in development.
type Authenticator struct {
	keys []string
}

func NewAuthenticator(keys []string) *Authenticator {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return &Authenticator{keys: cleaned}
}

func (a *Authenticator) Enabled() bool {
	return len(a.keys) > 0
}

// PresentedKey returns the bearer token on the request, or empty.
func (a *Authenticator) PresentedKey(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// Authorize reports whether the request carries a valid bearer key.
func (a *Authenticator) Authorize(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	for _, key := range a.keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorize(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing or invalid API key"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
