// Package auth implements the shared-secret access gate.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Gate admits requests carrying the configured secret.
type Gate struct {
	secret string
}

// NewGate returns a gate for secret. An empty secret allows every request.
func NewGate(secret string) *Gate {
	return &Gate{secret: secret}
}

// Enabled reports whether a secret is configured.
func (g *Gate) Enabled() bool {
	return g != nil && g.secret != ""
}

// Allow reports whether token matches the secret exactly.
func (g *Gate) Allow(token string) bool {
	if !g.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.secret)) == 1
}

// AllowRequest checks the secret query parameter, then a bearer token.
func (g *Gate) AllowRequest(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}
	if token, ok := r.URL.Query()["secret"]; ok && len(token) > 0 {
		return g.Allow(token[0])
	}
	return g.Allow(BearerToken(r))
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
