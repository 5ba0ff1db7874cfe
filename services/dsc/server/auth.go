package server

import (
	"context"
	"net/http"
	"strings"
)

type authContextKey struct{}

func markAuthenticated(ctx context.Context) context.Context {
	return context.WithValue(ctx, authContextKey{}, true)
}

func isAuthenticated(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	value, ok := ctx.Value(authContextKey{}).(bool)
	return ok && value
}

// authenticator accepts requests presenting one of the configured API tokens
// either as a bearer token or in the X-API-Token header.
type authenticator struct {
	tokens map[string]struct{}
}

func newAuthenticator(apiTokens []string) *authenticator {
	tokens := make(map[string]struct{})
	for _, token := range apiTokens {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			continue
		}
		tokens[trimmed] = struct{}{}
	}
	return &authenticator{tokens: tokens}
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.tokens) == 0 {
			writeJSONError(w, http.StatusForbidden, "authentication is not configured", "unauthenticated")
			return
		}
		if !a.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="dsc"`)
			writeJSONError(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(markAuthenticated(r.Context())))
	})
}

func (a *authenticator) authenticate(r *http.Request) bool {
	for _, header := range r.Header.Values("Authorization") {
		if token := parseBearerToken(header); token != "" {
			if _, exists := a.tokens[token]; exists {
				return true
			}
		}
	}
	for _, token := range r.Header.Values("X-API-Token") {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			continue
		}
		if _, exists := a.tokens[trimmed]; exists {
			return true
		}
	}
	return false
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
