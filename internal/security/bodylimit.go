package security

import "net/http"

// BodySizeLimit caps request bodies at max bytes. A non-positive max disables
// the limit. Oversized reads surface as http.MaxBytesError downstream.
func BodySizeLimit(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if max > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
