package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/deciframe-hq/deciframe/internal/identity"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

type traceKey struct{}

// withRequestID assigns every request a correlation id. An incoming
// W3C traceparent header wins so the id lines up with upstream traces.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := traceIDFromTraceparent(r.Header.Get("traceparent"))
		if id == "" {
			buf := make([]byte, 16)
			_, _ = rand.Read(buf)
			id = hex.EncodeToString(buf)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, id)))
	})
}

// traceIDFromTraceparent extracts the 32-hex trace-id field from a
// "00-<trace-id>-<span-id>-<flags>" header. Malformed values yield "".
func traceIDFromTraceparent(h string) string {
	parts := strings.Split(strings.TrimSpace(h), "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	if _, err := hex.DecodeString(parts[1]); err != nil {
		return ""
	}
	return parts[1]
}

func traceID(r *http.Request) string {
	if id, ok := r.Context().Value(traceKey{}).(string); ok {
		return id
	}
	return ""
}

const contentSecurityPolicy = "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'"

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Embedder-Policy", "require-corp")
		next.ServeHTTP(w, r)
	})
}

// withSession resolves the session cookie into a tenant context. An
// absent or invalid cookie leaves the request anonymous; the authz
// gate decides whether that matters.
func withSession(ident *identity.Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(identity.SessionCookie)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		tc, err := ident.Resolve(r.Context(), cookie.Value)
		if err != nil {
			// Expired or tampered cookie. Treat as anonymous.
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.With(r.Context(), tc)))
	})
}

func currentTenant(ctx context.Context) (tenant.Context, bool) {
	return tenant.From(ctx)
}
