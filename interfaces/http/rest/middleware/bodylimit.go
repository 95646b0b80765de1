package middleware

import "net/http"

// MaxBytes caps request bodies at n bytes. Reads past the cap fail
// with *http.MaxBytesError, which handlers surface as a 413.
func MaxBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
