package stopshttp

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusResponse is the root endpoint payload: a quick liveness signal
// for humans, not a health probe.
type StatusResponse struct {
	Msg     string `json:"msg"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime"`
}

// StatusHandler serves GET / with the API name, version, and uptime in
// seconds.
func StatusHandler(name, version string, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Msg:     "API status",
			Name:    name,
			Version: version,
			Uptime:  int64(time.Since(startedAt).Seconds()),
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
