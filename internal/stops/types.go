// Package stops holds the bus stop domain model: the dataset-backed store
// and the nearby-stop resolver.
package stops

// Stop is one row of the stops dataset as exposed by the API. Rows are
// immutable; they are read from the backing store per query and never
// mutated in process.
type Stop struct {
	Code          int64   `json:"stop_code"`
	Name          string  `json:"stop_name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ParentStation *string `json:"parent_station"`
}

// StopDetail is a Stop plus the optional planar coordinates, returned only
// by code lookups.
type StopDetail struct {
	Stop
	XMeters *float64 `json:"x_meters"`
	YMeters *float64 `json:"y_meters"`
}

// DistanceResult is a Stop augmented with its great-circle distance in
// meters from a reference point. Produced per query and discarded after
// the response is written.
type DistanceResult struct {
	Stop
	DistanceM float64 `json:"distance_m"`
}

// ReferenceStop is the stop a by-name nearby query resolved its reference
// point from.
type ReferenceStop struct {
	Code int64   `json:"stop_code"`
	Name string  `json:"stop_name"`
	Lat  float64 `json:"stop_lat"`
	Lon  float64 `json:"stop_lon"`
}
