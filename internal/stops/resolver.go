package stops

import (
	"context"

	"github.com/metrolabs/busstop-api/internal/geo"
	"github.com/metrolabs/busstop-api/internal/log"
)

// Resolver answers nearby-stop queries against a Store. It is read-only
// and stateless between calls; concurrent calls are independent.
type Resolver struct {
	store  Store
	logger log.Logger
}

func NewResolver(store Store, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{store: store, logger: logger}
}

// NearbyByName resolves a reference point from the first stop whose name
// matches pattern (case-insensitive substring, lowest stop_code wins),
// then returns the stops within radiusM meters of it, closest first.
//
// The store truncates to limit before the radius filter runs, so the
// result can be smaller than limit even when more in-radius stops exist
// beyond the limit'th-closest row. That trade bounds query cost and is
// kept deliberately.
func (r *Resolver) NearbyByName(ctx context.Context, pattern string, radiusM float64, limit int) (*ReferenceStop, []DistanceResult, error) {
	ref, err := r.store.FirstByName(ctx, pattern)
	if err != nil {
		return nil, nil, err
	}

	nearby, err := r.nearby(ctx, geo.Point{Lat: ref.Lat, Lon: ref.Lon}, radiusM, limit)
	if err != nil {
		return nil, nil, err
	}

	r.logger.Debug(ctx, "resolved nearby stops by name",
		"pattern", pattern,
		"reference_code", ref.Code,
		"radius_m", radiusM,
		"count", len(nearby),
	)
	return ref, nearby, nil
}

// NearbyByCoords is NearbyByName without the resolution step: the caller
// supplies the reference point directly, so it never fails with NotFound.
func (r *Resolver) NearbyByCoords(ctx context.Context, lat, lon, radiusM float64, limit int) ([]DistanceResult, error) {
	nearby, err := r.nearby(ctx, geo.Point{Lat: lat, Lon: lon}, radiusM, limit)
	if err != nil {
		return nil, err
	}

	r.logger.Debug(ctx, "resolved nearby stops by coords",
		"lat", lat,
		"lon", lon,
		"radius_m", radiusM,
		"count", len(nearby),
	)
	return nearby, nil
}

// nearby fetches the limit closest rows from the store and keeps those
// within the radius. The boundary is inclusive: a row exactly at radiusM
// stays. Zero and negative radii need no special casing - zero keeps only
// exact-zero distances and negative keeps nothing, both falling out of
// the plain <= comparison.
func (r *Resolver) nearby(ctx context.Context, ref geo.Point, radiusM float64, limit int) ([]DistanceResult, error) {
	candidates, err := r.store.NearestStops(ctx, ref, limit)
	if err != nil {
		return nil, err
	}

	out := make([]DistanceResult, 0, len(candidates))
	for _, c := range candidates {
		if c.DistanceM <= radiusM {
			out = append(out, c)
		}
	}
	return out, nil
}
