package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/metrolabs/busstop-api/internal/health"
	"github.com/metrolabs/busstop-api/internal/httpmw"
	"github.com/metrolabs/busstop-api/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func(method, route string)
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// APIKey guards everything mounted via APIRoutes. Empty disables the
	// guard (local development). Status and the probe endpoints are
	// always unauthenticated.
	APIKey    string
	Status    http.HandlerFunc
	APIRoutes func(chi.Router)

	Health    health.Probe
	Readiness health.Probe
}
