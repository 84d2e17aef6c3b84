package entity

import "net/http"

// BodyLimit returns middleware that limits the maximum request body size.
// Reading past maxBytes fails with *http.MaxBytesError, which ErrorStatus
// maps to 413 Request Entity Too Large.
func BodyLimit(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
