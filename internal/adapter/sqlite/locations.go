package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
)

// LocationStore holds locations with precalculated results. It implements
// domain.LocationResolver for exact name or ID matches.
type LocationStore struct {
	db *sql.DB
}

const locationColumns = `name, id, scale, country, country_id, admin1, admin1_id, admin2, admin2_id, bbox`

// LookupPlaces returns the location whose name matches query (case
// insensitively), falling back to one whose ID matches. It returns no places,
// and no error, when nothing matches.
func (s *LocationStore) LookupPlaces(ctx context.Context, query string) ([]domain.Place, error) {
	for _, q := range []string{
		`SELECT ` + locationColumns + ` FROM locations WHERE name = ? COLLATE NOCASE`,
		`SELECT ` + locationColumns + ` FROM locations WHERE id = ?`,
	} {
		places, err := s.query(ctx, q, query)
		if err != nil {
			return nil, err
		}
		if len(places) > 0 {
			return places, nil
		}
	}
	return nil, nil
}

// All returns every stored location ordered by name.
func (s *LocationStore) All(ctx context.Context) ([]domain.Place, error) {
	places, err := s.query(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	if places == nil {
		places = []domain.Place{}
	}
	return places, nil
}

func (s *LocationStore) query(ctx context.Context, query string, args ...any) ([]domain.Place, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var out []domain.Place
	for rows.Next() {
		var (
			p    domain.Place
			cols [7]sql.NullString
			bbox sql.NullString
		)
		if err := rows.Scan(&p.Name, &p.ID, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6], &bbox); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		p.Scale, p.Country, p.CountryID = cols[0].String, cols[1].String, cols[2].String
		p.Admin1, p.Admin1ID, p.Admin2, p.Admin2ID = cols[3].String, cols[4].String, cols[5].String, cols[6].String
		if bbox.Valid && bbox.String != "" {
			if err := json.Unmarshal([]byte(bbox.String), &p.BBox); err != nil {
				return nil, fmt.Errorf("location %s bbox: %w", p.Name, err)
			}
		}
		g, err := p.WithGeometry()
		if err != nil {
			return nil, fmt.Errorf("location %s: %w", p.Name, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces locations by name.
func (s *LocationStore) Upsert(ctx context.Context, places []domain.Place) error {
	return transaction(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO locations (`+locationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare location upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range places {
			var bbox sql.NullString
			if len(p.BBox) > 0 {
				b, err := json.Marshal(domain.RoundBBox(p.BBox))
				if err != nil {
					return fmt.Errorf("location %s bbox: %w", p.Name, err)
				}
				bbox = sql.NullString{String: string(b), Valid: true}
			}
			_, err := stmt.ExecContext(ctx, p.Name, p.ID, nullString(p.Scale), nullString(p.Country),
				nullString(p.CountryID), nullString(p.Admin1), nullString(p.Admin1ID),
				nullString(p.Admin2), nullString(p.Admin2ID), bbox)
			if err != nil {
				return fmt.Errorf("upsert location %s: %w", p.Name, err)
			}
		}
		return nil
	})
}
