// Package stopshttp exposes the stop dataset over HTTP: listing, code
// lookups, and nearby-stop queries.
package stopshttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/metrolabs/busstop-api/internal/log"
	"github.com/metrolabs/busstop-api/internal/stops"
)

// Query parameter bounds, matching the published API contract.
const (
	defaultListLimit = 50
	maxListLimit     = 1000

	defaultNearbyLimit  = 20
	maxNearbyLimit      = 200
	defaultNearbyRadius = 100.0
)

// StopReader is the store subset the list and code endpoints need.
type StopReader interface {
	List(ctx context.Context, name string, limit, offset int) ([]stops.Stop, error)
	ByCode(ctx context.Context, code int64) ([]stops.StopDetail, error)
}

// NearbyResolver answers nearby queries; satisfied by stops.Resolver.
type NearbyResolver interface {
	NearbyByName(ctx context.Context, pattern string, radiusM float64, limit int) (*stops.ReferenceStop, []stops.DistanceResult, error)
	NearbyByCoords(ctx context.Context, lat, lon, radiusM float64, limit int) ([]stops.DistanceResult, error)
}

// QueryMetrics receives per-query outcome counts. Satisfied by
// metrics.ServerMetrics; nil disables counting.
type QueryMetrics interface {
	IncNearbyQuery(mode, outcome string)
}

// API implements the stop endpoints.
type API struct {
	store    StopReader
	resolver NearbyResolver
	logger   log.Logger
	metrics  QueryMetrics
}

// NewAPI creates the stops API handler.
func NewAPI(store StopReader, resolver NearbyResolver, logger log.Logger, m QueryMetrics) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{store: store, resolver: resolver, logger: logger, metrics: m}
}

// RegisterRoutes attaches the stop endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/stops", func(r chi.Router) {
		r.Get("/", api.HandleList)
		r.Get("/code/{stopCode}", api.HandleByCode)
		r.Get("/nearby/by-name", api.HandleNearbyByName)
		r.Get("/nearby/by-coords", api.HandleNearbyByCoords)
	})
}

// ListResponse wraps paginated stop rows.
type ListResponse struct {
	Count   int          `json:"count"`
	Results []stops.Stop `json:"results"`
}

// CodeResponse carries every row sharing a stop code; the source dataset
// has duplicates and callers want all of them.
type CodeResponse struct {
	Count   int                `json:"count"`
	Results []stops.StopDetail `json:"results"`
}

// NearbyByNameResponse reports the resolved reference stop alongside the
// in-radius results.
type NearbyByNameResponse struct {
	ReferenceStop *stops.ReferenceStop    `json:"reference_stop"`
	RadiusM       float64                 `json:"radius_m"`
	Count         int                     `json:"count"`
	Results       []stops.DistanceResult  `json:"results"`
}

// Coords echoes the caller-supplied reference point.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type NearbyByCoordsResponse struct {
	ReferenceCoords Coords                 `json:"reference_coords"`
	RadiusM         float64                `json:"radius_m"`
	Count           int                    `json:"count"`
	Results         []stops.DistanceResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleList serves GET /stops with pagination and an optional partial
// name filter.
func (api *API) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
		return
	}
	offset, err := intParam(q.Get("offset"), 0, 0, int(^uint(0)>>1))
	if err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	rows, err := api.store.List(ctx, q.Get("name"), limit, offset)
	if err != nil {
		api.writeStoreError(ctx, w, err)
		return
	}
	if rows == nil {
		rows = []stops.Stop{}
	}

	api.writeJSON(ctx, w, http.StatusOK, ListResponse{Count: len(rows), Results: rows})
}

// HandleByCode serves GET /stops/code/{stopCode}. Duplicate rows are all
// returned; missing codes are a 404.
func (api *API) HandleByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code, err := strconv.ParseInt(chi.URLParam(r, "stopCode"), 10, 64)
	if err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "stop code must be an integer")
		return
	}

	rows, err := api.store.ByCode(ctx, code)
	if err != nil {
		api.writeStoreError(ctx, w, err)
		return
	}

	api.writeJSON(ctx, w, http.StatusOK, CodeResponse{Count: len(rows), Results: rows})
}

// HandleNearbyByName serves GET /stops/nearby/by-name.
func (api *API) HandleNearbyByName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	pattern := q.Get("stop_name")
	if pattern == "" {
		api.writeError(ctx, w, http.StatusBadRequest, "stop_name is required")
		return
	}
	radiusM, limit, ok := api.nearbyParams(ctx, w, q.Get("radius_m"), q.Get("limit"))
	if !ok {
		return
	}

	ref, results, err := api.resolver.NearbyByName(ctx, pattern, radiusM, limit)
	if err != nil {
		api.countNearby("by_name", outcomeFor(err))
		api.writeStoreError(ctx, w, err)
		return
	}
	api.countNearby("by_name", "ok")

	if results == nil {
		results = []stops.DistanceResult{}
	}
	api.writeJSON(ctx, w, http.StatusOK, NearbyByNameResponse{
		ReferenceStop: ref,
		RadiusM:       radiusM,
		Count:         len(results),
		Results:       results,
	})
}

// HandleNearbyByCoords serves GET /stops/nearby/by-coords.
func (api *API) HandleNearbyByCoords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	lat, err := floatParam(q.Get("lat"))
	if err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "lat is required and must be a number")
		return
	}
	lon, err := floatParam(q.Get("lon"))
	if err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "lon is required and must be a number")
		return
	}
	radiusM, limit, ok := api.nearbyParams(ctx, w, q.Get("radius_m"), q.Get("limit"))
	if !ok {
		return
	}

	results, err := api.resolver.NearbyByCoords(ctx, lat, lon, radiusM, limit)
	if err != nil {
		api.countNearby("by_coords", outcomeFor(err))
		api.writeStoreError(ctx, w, err)
		return
	}
	api.countNearby("by_coords", "ok")

	if results == nil {
		results = []stops.DistanceResult{}
	}
	api.writeJSON(ctx, w, http.StatusOK, NearbyByCoordsResponse{
		ReferenceCoords: Coords{Latitude: lat, Longitude: lon},
		RadiusM:         radiusM,
		Count:           len(results),
		Results:         results,
	})
}

// nearbyParams parses the shared radius_m and limit parameters, writing a
// 400 and returning ok=false on bad input.
func (api *API) nearbyParams(ctx context.Context, w http.ResponseWriter, radiusRaw, limitRaw string) (radiusM float64, limit int, ok bool) {
	radiusM = defaultNearbyRadius
	if radiusRaw != "" {
		var err error
		radiusM, err = strconv.ParseFloat(radiusRaw, 64)
		if err != nil || radiusM < 0 {
			api.writeError(ctx, w, http.StatusBadRequest, "radius_m must be a non-negative number")
			return 0, 0, false
		}
	}

	limit, err := intParam(limitRaw, defaultNearbyLimit, 1, maxNearbyLimit)
	if err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "limit must be an integer between 1 and 200")
		return 0, 0, false
	}
	return radiusM, limit, true
}

func intParam(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, errors.New("out of range")
	}
	return v, nil
}

func floatParam(raw string) (float64, error) {
	if raw == "" {
		return 0, errors.New("missing")
	}
	return strconv.ParseFloat(raw, 64)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, stops.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (api *API) countNearby(mode, outcome string) {
	if api.metrics != nil {
		api.metrics.IncNearbyQuery(mode, outcome)
	}
}

// writeStoreError maps the store error taxonomy onto HTTP statuses.
func (api *API) writeStoreError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stops.ErrNotFound):
		api.writeError(ctx, w, http.StatusNotFound, err.Error())
	case errors.Is(err, stops.ErrUnavailable):
		api.logger.Error(ctx, err, "dataset unavailable")
		api.writeError(ctx, w, http.StatusServiceUnavailable, "dataset unavailable")
	default:
		api.logger.Error(ctx, err, "stop query failed")
		api.writeError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	api.writeJSON(ctx, w, status, errorResponse{Error: msg})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
