package httpmw

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader is the request header clients present credentials in.
const APIKeyHeader = "X-Api-Key"

// RequireAPIKey returns middleware that rejects requests whose X-Api-Key
// header does not match key. An empty key disables the check entirely,
// for local development against a scratch dataset.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		want := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(APIKeyHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid or missing api key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
