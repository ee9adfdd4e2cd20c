// Package geocode resolves a German postal code (or, failing that, a
// free-text place name) to a latitude/longitude pair and computes
// great-circle distances between two points. It backs the scrape
// pipeline's optional radius post-filter. Modelled on the small,
// self-contained numeric-helper style of the teacher's
// internal/utils/utils.go — the teacher has no geo code of its own, so
// this package is new but keeps that file's terse, single-purpose
// function style.
package geocode

import "math"

// Point IS A RESOLVED LATITUDE/LONGITUDE
type Point struct {
	Lat float64
	Lng float64
}

// Gazetteer IS AN IN-MEMORY POSTAL-CODE TABLE. A PRODUCTION DEPLOYMENT WOULD LOAD THIS
// FROM A CSV/SQLITE EXTRACT OF THE OFFICIAL GERMAN ZIP GAZETTEER; THIS SMALL SEED TABLE
// SERVES LOOKUPS BY EXACT ZIP AND BY CASE-INSENSITIVE CITY NAME.
type Gazetteer struct {
	byZip  map[string]Point
	byCity map[string]Point
}

// NewGazetteer BUILDS A GAZETTEER FROM ZIP/CITY/LAT/LNG ROWS
func NewGazetteer(rows []Row) *Gazetteer {
	g := &Gazetteer{
		byZip:  make(map[string]Point, len(rows)),
		byCity: make(map[string]Point, len(rows)),
	}
	for _, r := range rows {
		p := Point{Lat: r.Lat, Lng: r.Lng}
		if r.Zip != "" {
			g.byZip[r.Zip] = p
		}
		if r.City != "" {
			g.byCity[normalizeCity(r.City)] = p
		}
	}
	return g
}

// Row IS ONE GAZETTEER ENTRY
type Row struct {
	Zip  string
	City string
	Lat  float64
	Lng  float64
}

// Resolve LOOKS UP zip FIRST, THEN FALLS BACK TO A FREE-TEXT city LOOKUP
func (g *Gazetteer) Resolve(zip, city string) (Point, bool) {
	if zip != "" {
		if p, ok := g.byZip[zip]; ok {
			return p, true
		}
	}
	if city != "" {
		if p, ok := g.byCity[normalizeCity(city)]; ok {
			return p, true
		}
	}
	return Point{}, false
}

func normalizeCity(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

const earthRadiusKM = 6371.0

// HaversineKM RETURNS THE GREAT-CIRCLE DISTANCE BETWEEN TWO POINTS IN KILOMETRES
func HaversineKM(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKM * c
}

// WithinRadius REPORTS WHETHER b IS WITHIN radiusKM OF a
func WithinRadius(a, b Point, radiusKM float64) bool {
	return HaversineKM(a, b) <= radiusKM
}
