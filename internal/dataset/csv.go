package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/metrolabs/busstop-api/internal/stops"
	"github.com/metrolabs/busstop-api/internal/xerrors"
)

// required CSV columns; parent_station, x_meters, y_meters are optional.
var requiredColumns = []string{"stop_code", "stop_name", "latitude", "longitude"}

// ParseCSV reads stop rows from a header-addressed CSV stream.
func ParseCSV(r io.Reader) ([]stops.StopDetail, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, xerrors.Wrap(err, "read csv header")
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, xerrors.Newf("csv missing required column %q", col)
		}
	}

	var out []stops.StopDetail
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, xerrors.Wrapf(err, "read csv line %d", line)
		}

		code, err := strconv.ParseInt(rec[idx["stop_code"]], 10, 64)
		if err != nil {
			return nil, xerrors.Wrapf(err, "line %d: stop_code", line)
		}
		lat, err := strconv.ParseFloat(rec[idx["latitude"]], 64)
		if err != nil {
			return nil, xerrors.Wrapf(err, "line %d: latitude", line)
		}
		lon, err := strconv.ParseFloat(rec[idx["longitude"]], 64)
		if err != nil {
			return nil, xerrors.Wrapf(err, "line %d: longitude", line)
		}

		detail := stops.StopDetail{
			Stop: stops.Stop{
				Code:      code,
				Name:      rec[idx["stop_name"]],
				Latitude:  lat,
				Longitude: lon,
			},
		}

		if i, ok := idx["parent_station"]; ok && i < len(rec) && rec[i] != "" {
			v := rec[i]
			detail.ParentStation = &v
		}
		if i, ok := idx["x_meters"]; ok && i < len(rec) && rec[i] != "" {
			x, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, xerrors.Wrapf(err, "line %d: x_meters", line)
			}
			detail.XMeters = &x
		}
		if i, ok := idx["y_meters"]; ok && i < len(rec) && rec[i] != "" {
			y, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, xerrors.Wrapf(err, "line %d: y_meters", line)
			}
			detail.YMeters = &y
		}

		out = append(out, detail)
	}

	return out, nil
}

// LoadCSVFile parses path and replaces the store contents with its rows.
// Returns the number of rows loaded.
func LoadCSVFile(ctx context.Context, store *stops.SQLStore, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, xerrors.Wrapf(err, "open dataset csv %s", path)
	}
	defer f.Close()

	rows, err := ParseCSV(f)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, xerrors.Newf("dataset csv %s has no rows", path)
	}

	if err := store.ReplaceAll(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
