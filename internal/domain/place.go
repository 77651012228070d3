package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/biter777/countries"
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// coordinatePrecision is the number of decimal places lat/lon values are
// rounded to, so the same place always hashes the same way.
const coordinatePrecision = 6

// Place is a resolved location.
type Place struct {
	Name      string       `json:"name"`
	ID        string       `json:"id"`
	Scale     string       `json:"scale,omitempty"`
	Country   string       `json:"country,omitempty"`
	CountryID string       `json:"country_id,omitempty"`
	Admin1    string       `json:"admin1,omitempty"`
	Admin1ID  string       `json:"admin1_id,omitempty"`
	Admin2    string       `json:"admin2,omitempty"`
	Admin2ID  string       `json:"admin2_id,omitempty"`
	BBox      []float64    `json:"bbox,omitempty"` // [west, south, east, north]
	Poly      [][2]float64 `json:"poly,omitempty"` // closed ring of [lon, lat]
}

// LocationResolver looks up places by free text or provider ID. Results are
// ordered by relevance, best first.
type LocationResolver interface {
	LookupPlaces(ctx context.Context, query string) ([]Place, error)
}

// ChainResolver asks each resolver in turn and returns the first non-empty
// answer. An error from any resolver stops the chain.
type ChainResolver []LocationResolver

func (c ChainResolver) LookupPlaces(ctx context.Context, query string) ([]Place, error) {
	for _, r := range c {
		places, err := r.LookupPlaces(ctx, query)
		if err != nil {
			return nil, err
		}
		if len(places) > 0 {
			return places, nil
		}
	}
	return nil, nil
}

// ErrInvalidBBox is returned for bounding boxes that are not [w, s, e, n]
// within valid coordinate ranges.
var ErrInvalidBBox = errors.New("invalid bounding box")

// BBoxRing returns the closed 5-point [lon, lat] ring of a bounding box,
// starting at the south-west corner and going clockwise.
func BBoxRing(bbox []float64) ([][2]float64, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("%w: expected 4 values, got %d", ErrInvalidBBox, len(bbox))
	}
	w, s, e, n := bbox[0], bbox[1], bbox[2], bbox[3]
	rect := s2.Rect{
		Lat: r1.Interval{Lo: radians(s), Hi: radians(n)},
		Lng: s1.IntervalFromEndpoints(radians(w), radians(e)),
	}
	if !rect.IsValid() || rect.IsEmpty() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBBox, bbox)
	}

	// s2 vertices run counter-clockwise from the south-west corner.
	order := []int{0, 3, 2, 1, 0}
	ring := make([][2]float64, 0, len(order))
	for _, k := range order {
		v := rect.Vertex(k)
		ring = append(ring, [2]float64{round(v.Lng.Degrees()), round(v.Lat.Degrees())})
	}
	return ring, nil
}

// RoundBBox rounds bbox coordinates to the precision used for hashing.
func RoundBBox(bbox []float64) []float64 {
	if bbox == nil {
		return nil
	}
	out := make([]float64, len(bbox))
	for i, v := range bbox {
		out[i] = round(v)
	}
	return out
}

// WithGeometry returns p with its bbox rounded and its polygon derived from
// the bbox. Places without a bbox are returned unchanged.
func (p Place) WithGeometry() (Place, error) {
	if len(p.BBox) == 0 {
		return p, nil
	}
	p.BBox = RoundBBox(p.BBox)
	ring, err := BBoxRing(p.BBox)
	if err != nil {
		return Place{}, err
	}
	p.Poly = ring
	return p, nil
}

// CountryPlace resolves a country-scale place from an ISO code or a name
// without calling a geocoder. The code is tried first. The place always
// carries the canonical country name and the alpha-3 code as its ID, so every
// spelling of one country resolves to the same place.
func CountryPlace(name, code string) (Place, error) {
	c := countries.Unknown
	if code != "" {
		c = lookupCountry(code)
	}
	if c == countries.Unknown && name != "" {
		c = lookupCountry(name)
	}
	if c == countries.Unknown {
		query := code
		if query == "" {
			query = name
		}
		return Place{}, fmt.Errorf("%w: no country matches %q", ErrPlaceNotFound, query)
	}
	return Place{
		Name:      c.String(),
		ID:        c.Alpha3(),
		Scale:     "country",
		Country:   c.String(),
		CountryID: c.Alpha3(),
	}, nil
}

// CountryISO3 returns the ISO 3166 alpha-3 code of a country name, or "" if
// the name is not recognised.
func CountryISO3(name string) string {
	c := lookupCountry(name)
	if c == countries.Unknown {
		return ""
	}
	return c.Alpha3()
}

// lookupCountry matches names such as "The Gambia" with and without the
// leading article.
func lookupCountry(name string) countries.CountryCode {
	name = strings.TrimSpace(name)
	if c := countries.ByName(name); c != countries.Unknown {
		return c
	}
	if trimmed, ok := cutArticle(name); ok {
		return countries.ByName(trimmed)
	}
	return countries.Unknown
}

func cutArticle(name string) (string, bool) {
	if len(name) > 4 && strings.EqualFold(name[:4], "the ") {
		return name[4:], true
	}
	return name, false
}

func radians(deg float64) float64 {
	return (s1.Angle(deg) * s1.Degree).Radians()
}

func round(v float64) float64 {
	p := math.Pow(10, coordinatePrecision)
	return math.Round(v*p) / p
}
