package stops

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/metrolabs/busstop-api/internal/geo"
	"github.com/metrolabs/busstop-api/internal/xerrors"
)

const driverLibsql = "libsql"

// Store is the tabular capability interface the resolver and the HTTP
// layer consume: a nearest-neighbors query against a point (distance
// computed and ordered by the store, truncated to limit), a name-substring
// lookup, and the plain passthrough queries. Hiding the query dialect here
// keeps the resolver's contract independent of the backing store.
type Store interface {
	// NearestStops returns up to limit rows ordered by ascending
	// great-circle distance from ref.
	NearestStops(ctx context.Context, ref geo.Point, limit int) ([]DistanceResult, error)

	// FirstByName returns the first stop (by ascending stop_code) whose
	// name contains pattern case-insensitively, or ErrNotFound.
	FirstByName(ctx context.Context, pattern string) (*ReferenceStop, error)

	// List returns stops ordered by stop_code with limit/offset paging,
	// optionally filtered by a case-insensitive name substring.
	List(ctx context.Context, name string, limit, offset int) ([]Stop, error)

	// ByCode returns every row with the given stop code (duplicates are
	// returned as-is), or ErrNotFound when there are none.
	ByCode(ctx context.Context, code int64) ([]StopDetail, error)
}

// SQLStore serves the stops dataset from a local libsql database.
type SQLStore struct {
	db *sql.DB
}

// Open opens (creating parent directories if needed) the stops database.
// A ping failure is reported as ErrUnavailable since it means the dataset
// cannot be reached at all.
func Open(ctx context.Context, path string) (*SQLStore, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, xerrors.Wrapf(err, "create store dir %s", dir)
			}
		}
		dsn = "file:" + filepath.Clean(path)
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open stops store %s: %v: %w", path, err, ErrUnavailable)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping stops store %s: %v: %w", path, err, ErrUnavailable)
	}
	return &SQLStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ready reports whether the dataset is loaded and queryable; used by the
// readiness probe.
func (s *SQLStore) Ready(ctx context.Context) error {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops`).Scan(&n)
	if err != nil {
		return fmt.Errorf("stops table not queryable: %v: %w", err, ErrUnavailable)
	}
	if n == 0 {
		return xerrors.New("stops dataset is empty")
	}
	return nil
}

// Count returns the number of rows currently loaded.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stops: %v: %w", err, ErrQuery)
	}
	return n, nil
}

const stopColumns = `stop_code, UPPER(stop_name), latitude, longitude, parent_station`

// NearestStops selects candidate rows and evaluates the haversine distance
// from ref for every one of them, then orders ascending and truncates to
// limit. Ties keep stop_code order from the scan.
func (s *SQLStore) NearestStops(ctx context.Context, ref geo.Point, limit int) ([]DistanceResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stopColumns+` FROM stops ORDER BY stop_code`)
	if err != nil {
		return nil, fmt.Errorf("nearest stops scan: %v: %w", err, ErrQuery)
	}
	defer rows.Close()

	var out []DistanceResult
	for rows.Next() {
		var st Stop
		var parent sql.NullString
		if err := rows.Scan(&st.Code, &st.Name, &st.Latitude, &st.Longitude, &parent); err != nil {
			return nil, fmt.Errorf("nearest stops scan row: %v: %w", err, ErrQuery)
		}
		if parent.Valid {
			st.ParentStation = &parent.String
		}
		d := geo.Distance(ref, geo.Point{Lat: st.Latitude, Lon: st.Longitude})
		out = append(out, DistanceResult{Stop: st, DistanceM: d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("nearest stops rows: %v: %w", err, ErrQuery)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FirstByName resolves the reference stop for a name pattern: first match
// by ascending stop_code of a case-insensitive substring search.
func (s *SQLStore) FirstByName(ctx context.Context, pattern string) (*ReferenceStop, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT stop_code, UPPER(stop_name), latitude, longitude
		 FROM stops
		 WHERE UPPER(stop_name) LIKE ?
		 ORDER BY stop_code
		 LIMIT 1`,
		"%"+strings.ToUpper(pattern)+"%",
	)

	var ref ReferenceStop
	err := row.Scan(&ref.Code, &ref.Name, &ref.Lat, &ref.Lon)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no stop found with name like %q: %w", pattern, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("first stop by name %q: %v: %w", pattern, err, ErrQuery)
	}
	return &ref, nil
}

// List returns a page of stops ordered by stop_code, optionally filtered
// by a case-insensitive name substring.
func (s *SQLStore) List(ctx context.Context, name string, limit, offset int) ([]Stop, error) {
	q := `SELECT ` + stopColumns + ` FROM stops`
	args := make([]any, 0, 3)
	if name != "" {
		q += ` WHERE UPPER(stop_name) LIKE ?`
		args = append(args, "%"+strings.ToUpper(name)+"%")
	}
	q += ` ORDER BY stop_code LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list stops: %v: %w", err, ErrQuery)
	}
	defer rows.Close()

	out := make([]Stop, 0, limit)
	for rows.Next() {
		var st Stop
		var parent sql.NullString
		if err := rows.Scan(&st.Code, &st.Name, &st.Latitude, &st.Longitude, &parent); err != nil {
			return nil, fmt.Errorf("list stops scan: %v: %w", err, ErrQuery)
		}
		if parent.Valid {
			st.ParentStation = &parent.String
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stops rows: %v: %w", err, ErrQuery)
	}
	return out, nil
}

// ByCode returns the full detail rows for a stop code. Duplicate codes in
// the dataset all come back; zero rows is ErrNotFound, not an empty page.
func (s *SQLStore) ByCode(ctx context.Context, code int64) ([]StopDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stopColumns+`, x_meters, y_meters
		 FROM stops
		 WHERE stop_code = ?
		 ORDER BY stop_code`,
		code,
	)
	if err != nil {
		return nil, fmt.Errorf("stop by code %d: %v: %w", code, err, ErrQuery)
	}
	defer rows.Close()

	var out []StopDetail
	for rows.Next() {
		var st StopDetail
		var parent sql.NullString
		var x, y sql.NullFloat64
		if err := rows.Scan(&st.Code, &st.Name, &st.Latitude, &st.Longitude, &parent, &x, &y); err != nil {
			return nil, fmt.Errorf("stop by code scan: %v: %w", err, ErrQuery)
		}
		if parent.Valid {
			st.ParentStation = &parent.String
		}
		if x.Valid {
			st.XMeters = &x.Float64
		}
		if y.Valid {
			st.YMeters = &y.Float64
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stop by code rows: %v: %w", err, ErrQuery)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("stop code %d not found: %w", code, ErrNotFound)
	}
	return out, nil
}

// ReplaceAll swaps the dataset contents in one transaction: the schema is
// created if missing, existing rows are dropped, and rows are inserted.
// Readers keep seeing the old rows until commit.
func (s *SQLStore) ReplaceAll(ctx context.Context, records []StopDetail) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dataset load: %v: %w", err, ErrUnavailable)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stops (
			stop_code      INTEGER NOT NULL,
			stop_name      TEXT NOT NULL,
			latitude       REAL NOT NULL,
			longitude      REAL NOT NULL,
			parent_station TEXT,
			x_meters       REAL,
			y_meters       REAL
		)`); err != nil {
		return fmt.Errorf("create stops table: %v: %w", err, ErrQuery)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stops`); err != nil {
		return fmt.Errorf("clear stops table: %v: %w", err, ErrQuery)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stops (stop_code, stop_name, latitude, longitude, parent_station, x_meters, y_meters)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare stops insert: %v: %w", err, ErrQuery)
	}
	defer stmt.Close()

	for _, r := range records {
		var parent any
		if r.ParentStation != nil {
			parent = *r.ParentStation
		}
		var x, y any
		if r.XMeters != nil {
			x = *r.XMeters
		}
		if r.YMeters != nil {
			y = *r.YMeters
		}
		if _, err := stmt.ExecContext(ctx, r.Code, r.Name, r.Latitude, r.Longitude, parent, x, y); err != nil {
			return fmt.Errorf("insert stop %d: %v: %w", r.Code, err, ErrQuery)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dataset load: %v: %w", err, ErrUnavailable)
	}
	return nil
}
