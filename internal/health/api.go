package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// API exposes probe endpoints on a chi router. Liveness covers "is the
// process answering", readiness covers "can we actually serve traffic"
// (dataset loaded, not draining).
type API struct {
	Healthy Probe
	Ready   Probe
}

func NewAPI(healthy, ready Probe) *API {
	return &API{Healthy: healthy, Ready: ready}
}

// RegisterRoutes attaches /-/ping, /-/healthy, /-/ready.
func (api *API) RegisterRoutes(r chi.Router) {
	// super-dumb liveness: "is the process up and answering?"
	r.Method(http.MethodGet, "/-/ping",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("pong\n"))
		}),
	)

	r.Method(http.MethodGet, "/-/healthy",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if api.Healthy != nil {
				if err := api.Healthy.Check(r.Context()); err != nil {
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write([]byte("unhealthy: " + err.Error() + "\n"))
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		}),
	)

	r.Method(http.MethodGet, "/-/ready",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if api.Ready != nil {
				if err := api.Ready.Check(r.Context()); err != nil {
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write([]byte("not ready: " + err.Error() + "\n"))
					return
				}
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
		}),
	)
}
