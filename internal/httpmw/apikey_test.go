package httpmw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAPIKey(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		presented  string
		wantStatus int
	}{
		{"matching key passes", "s3cret", "s3cret", http.StatusOK},
		{"missing key rejected", "s3cret", "", http.StatusUnauthorized},
		{"wrong key rejected", "s3cret", "nope", http.StatusUnauthorized},
		{"empty config disables check", "", "", http.StatusOK},
		{"empty config ignores presented key", "", "anything", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/stops", http.NoBody)
			if tt.presented != "" {
				r.Header.Set(APIKeyHeader, tt.presented)
			}

			rec := httptest.NewRecorder()
			RequireAPIKey(tt.configured)(handler).ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("401 body should be JSON: %v", err)
				}
				if body["error"] == "" {
					t.Fatal("401 body should carry an error message")
				}
			}
		})
	}
}
