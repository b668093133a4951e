// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken returns middleware that validates the Authorization header
// carries a Bearer token matching one of the accepted values. tokens is a
// comma-separated list so a new token can be rolled out before the old one
// is retired; blank entries are ignored. Every candidate is compared in
// constant time.
func BearerToken(tokens string) func(http.Handler) http.Handler {
	var accepted [][]byte
	for _, t := range strings.Split(tokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			accepted = append(accepted, []byte(t))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			match := 0
			for _, want := range accepted {
				match |= subtle.ConstantTimeCompare(got, want)
			}
			if match != 1 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
