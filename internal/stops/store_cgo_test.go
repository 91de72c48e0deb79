//go:build cgo

package stops

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/metrolabs/busstop-api/internal/geo"
)

func ptr[T any](v T) *T { return &v }

func openSeededStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()

	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	seed := []StopDetail{
		{Stop: Stop{Code: 100, Name: "Stop Albert St", Latitude: -36.8400, Longitude: 174.7600}},
		{Stop: Stop{Code: 200, Name: "Victoria St West", Latitude: -36.8405, Longitude: 174.7600, ParentStation: ptr("P1")},
			XMeters: ptr(1757000.5), YMeters: ptr(5920000.25)},
		{Stop: Stop{Code: 300, Name: "Albert Park", Latitude: -36.8500, Longitude: 174.7700}},
		// duplicate code, as the source dataset sometimes carries
		{Stop: Stop{Code: 200, Name: "Victoria St West B", Latitude: -36.8406, Longitude: 174.7601}},
	}
	if err := s.ReplaceAll(ctx, seed); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

func TestSQLStore_ReadyAfterLoad(t *testing.T) {
	s := openSeededStore(t)
	if err := s.Ready(context.Background()); err != nil {
		t.Fatalf("store should be ready after load: %v", err)
	}
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}
}

func TestSQLStore_ReadyFailsOnEmptyTable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.ReplaceAll(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Ready(ctx); err == nil {
		t.Fatal("empty dataset should fail readiness")
	}
}

func TestSQLStore_FirstByName(t *testing.T) {
	s := openSeededStore(t)
	ctx := context.Background()

	ref, err := s.FirstByName(ctx, "albert")
	if err != nil {
		t.Fatal(err)
	}
	// both 100 and 300 match; lowest stop_code wins
	if ref.Code != 100 {
		t.Fatalf("ref code = %d, want 100", ref.Code)
	}
	if ref.Name != "STOP ALBERT ST" {
		t.Fatalf("ref name = %q, want upper-cased", ref.Name)
	}

	_, err = s.FirstByName(ctx, "no-such-stop")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "no-such-stop") {
		t.Fatalf("error should carry the pattern, got %q", err.Error())
	}
}

func TestSQLStore_NearestStopsOrderAndLimit(t *testing.T) {
	s := openSeededStore(t)
	ctx := context.Background()

	ref := geo.Point{Lat: -36.8400, Lon: 174.7600}
	got, err := s.NearestStops(ctx, ref, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want limit 2", len(got))
	}
	if got[0].Code != 100 || got[0].DistanceM != 0 {
		t.Fatalf("closest should be stop 100 at 0 m, got %d at %v", got[0].Code, got[0].DistanceM)
	}
	if got[1].DistanceM < got[0].DistanceM {
		t.Fatal("rows must be distance-ascending")
	}
}

func TestSQLStore_List(t *testing.T) {
	s := openSeededStore(t)
	ctx := context.Background()

	all, err := s.List(ctx, "", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("list all = %d rows, want 4", len(all))
	}
	// ordered by stop_code
	for i := 1; i < len(all); i++ {
		if all[i].Code < all[i-1].Code {
			t.Fatal("list must be ordered by stop_code")
		}
	}
	// names come back upper-cased
	if all[0].Name != strings.ToUpper(all[0].Name) {
		t.Fatalf("names should be upper-cased, got %q", all[0].Name)
	}

	// paging
	page, err := s.List(ctx, "", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Code != 200 {
		t.Fatalf("offset paging wrong: %+v", page)
	}

	// name filter, case-insensitive substring
	filtered, err := s.List(ctx, "victoria", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 {
		t.Fatalf("filter = %d rows, want 2", len(filtered))
	}
}

func TestSQLStore_ByCode(t *testing.T) {
	s := openSeededStore(t)
	ctx := context.Background()

	rows, err := s.ByCode(ctx, 200)
	if err != nil {
		t.Fatal(err)
	}
	// duplicates are returned as-is
	if len(rows) != 2 {
		t.Fatalf("got %d rows for duplicated code, want 2", len(rows))
	}
	var withPlanar *StopDetail
	for i := range rows {
		if rows[i].XMeters != nil {
			withPlanar = &rows[i]
		}
	}
	if withPlanar == nil || *withPlanar.XMeters != 1757000.5 {
		t.Fatal("planar coordinates should round-trip on code lookups")
	}

	_, err = s.ByCode(ctx, 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing code: err = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_ReplaceAllSwapsContents(t *testing.T) {
	s := openSeededStore(t)
	ctx := context.Background()

	next := []StopDetail{
		{Stop: Stop{Code: 1, Name: "Only Stop", Latitude: 0, Longitude: 0}},
	}
	if err := s.ReplaceAll(ctx, next); err != nil {
		t.Fatal(err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count after reload = %d, want 1", n)
	}
}
