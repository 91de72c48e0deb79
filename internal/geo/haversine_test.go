package geo

import (
	"math"
	"testing"
)

func TestDistance_SamePointIsZero(t *testing.T) {
	p := Point{Lat: -36.84, Lon: 174.76}
	if d := Distance(p, p); d != 0 {
		t.Fatalf("distance from a point to itself = %v, want exactly 0", d)
	}
}

func TestDistance_Symmetric(t *testing.T) {
	a := Point{Lat: -36.84, Lon: 174.76}
	b := Point{Lat: -36.85, Lon: 174.77}
	if da, db := Distance(a, b), Distance(b, a); da != db {
		t.Fatalf("distance not symmetric: %v vs %v", da, db)
	}
}

func TestDistance_OneDegreeLatitude(t *testing.T) {
	// one degree of latitude on the 6371 km sphere is ~111195 m
	a := Point{Lat: 0, Lon: 0}
	b := Point{Lat: 1, Lon: 0}
	const want = 111194.9
	if d := Distance(a, b); math.Abs(d-want) > 1 {
		t.Fatalf("one degree latitude = %v m, want %v within 1 m", d, want)
	}
}

func TestDistance_KnownPairs(t *testing.T) {
	cases := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{
			// Britomart to Aotea, central Auckland
			name: "short city hop",
			a:    Point{Lat: -36.8442, Lon: 174.7672},
			b:    Point{Lat: -36.8520, Lon: 174.7633},
			want: 928,
			tol:  15,
		},
		{
			name: "equator quarter turn",
			a:    Point{Lat: 0, Lon: 0},
			b:    Point{Lat: 0, Lon: 90},
			want: math.Pi / 2 * EarthRadiusMeters,
			tol:  0.001,
		},
		{
			name: "antipodal",
			a:    Point{Lat: 0, Lon: 0},
			b:    Point{Lat: 0, Lon: 180},
			want: math.Pi * EarthRadiusMeters,
			tol:  0.001,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := Distance(tc.a, tc.b); math.Abs(d-tc.want) > tc.tol {
				t.Fatalf("Distance = %v, want %v within %v", d, tc.want, tc.tol)
			}
		})
	}
}
