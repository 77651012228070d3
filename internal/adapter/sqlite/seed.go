package sqlite

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
)

//go:embed seed.json
var seedJSON []byte

// SeedData is the set of predefined measures and precalculated locations.
type SeedData struct {
	Measures  []domain.Measure `json:"measures"`
	Locations []domain.Place   `json:"locations"`
}

// DefaultSeed returns the built-in seed data.
func DefaultSeed() (SeedData, error) {
	return ParseSeed(seedJSON)
}

// ParseSeed decodes seed data.
func ParseSeed(b []byte) (SeedData, error) {
	var s SeedData
	if err := json.Unmarshal(b, &s); err != nil {
		return SeedData{}, fmt.Errorf("parse seed: %w", err)
	}
	return s, nil
}

// Seed upserts the seed measures and locations.
func (d *DB) Seed(ctx context.Context, s SeedData) error {
	if err := d.Measures().Upsert(ctx, s.Measures); err != nil {
		return err
	}
	return d.Locations().Upsert(ctx, s.Locations)
}
