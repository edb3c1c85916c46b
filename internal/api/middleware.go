// Package api implements the Runebook remote document store REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type ctxKey struct{}

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry "Authorization: Bearer <token>"
// with a token present in tokens; its identity is stored in the context.
func AuthMiddleware(enabled bool, tokens map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			identity, ok := tokens[strings.TrimPrefix(auth, "Bearer ")]
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, identity)))
		})
	}
}

// IdentityFromContext returns the identity authenticated by AuthMiddleware.
func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// RequireIdentity rejects requests whose {identity} path parameter differs
// from the authenticated identity. Unauthenticated (disabled mode) requests
// pass through.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authed, ok := IdentityFromContext(r.Context()); ok && authed != chi.URLParam(r, "identity") {
			writeJSON(w, http.StatusForbidden, errorBody("forbidden"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
