package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
)

// MeasureStore holds adaptation measures.
type MeasureStore struct {
	db *sql.DB
}

const measureColumns = `id, name, slug, description, hazard_type, exposure_type, cost_type, cost,
	annual_upkeep, priority, percentage_coverage, percentage_effectiveness, is_coastal,
	max_distance_from_coast, hazard_cutoff, return_period_cutoff, hazard_change_multiplier,
	hazard_change_constant, cobenefits, units_currency, units_hazard, units_distance, user_generated`

// Defaults lists the predefined (not user-generated) measures matching f,
// ordered by ID.
func (s *MeasureStore) Defaults(ctx context.Context, f domain.MeasureFilter) ([]domain.Measure, error) {
	where := []string{"user_generated = 0"}
	var args []any
	if f.ID != 0 {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.Slug != "" {
		where = append(where, "slug = ?")
		args = append(args, f.Slug)
	}
	if f.HazardType != "" {
		where = append(where, "hazard_type = ?")
		args = append(args, f.HazardType)
	}
	if f.ExposureType != "" {
		where = append(where, "exposure_type = ?")
		args = append(args, f.ExposureType)
	}

	query := `SELECT ` + measureColumns + ` FROM measures WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list measures: %w", err)
	}
	defer rows.Close()

	out := []domain.Measure{}
	for rows.Next() {
		m, err := scanMeasure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMeasure(row rowScanner) (domain.Measure, error) {
	var (
		m                        domain.Measure
		slug, desc, exposure     sql.NullString
		maxDist, cutoff, rpCut   sql.NullFloat64
		multiplier, constant     sql.NullFloat64
		cobenefits               string
		isCoastal, userGenerated bool
	)
	err := row.Scan(&m.ID, &m.Name, &slug, &desc, &m.HazardType, &exposure, &m.CostType, &m.Cost,
		&m.AnnualUpkeep, &m.Priority, &m.PercentageCoverage, &m.PercentageEffectiveness, &isCoastal,
		&maxDist, &cutoff, &rpCut, &multiplier,
		&constant, &cobenefits, &m.UnitsCurrency, &m.UnitsHazard, &m.UnitsDistance, &userGenerated)
	if err != nil {
		return domain.Measure{}, fmt.Errorf("scan measure: %w", err)
	}
	m.Slug, m.Description, m.ExposureType = slug.String, desc.String, exposure.String
	m.IsCoastal, m.UserGenerated = isCoastal, userGenerated
	m.MaxDistanceFromCoast = nullFloat(maxDist)
	m.HazardCutoff = nullFloat(cutoff)
	m.ReturnPeriodCutoff = nullFloat(rpCut)
	m.HazardChangeMultiplier = nullFloat(multiplier)
	m.HazardChangeConstant = nullFloat(constant)
	if err := json.Unmarshal([]byte(cobenefits), &m.Cobenefits); err != nil {
		return domain.Measure{}, fmt.Errorf("measure %d cobenefits: %w", m.ID, err)
	}
	if m.Cobenefits == nil {
		m.Cobenefits = []string{}
	}
	return m, nil
}

// Upsert inserts or replaces measures by ID.
func (s *MeasureStore) Upsert(ctx context.Context, measures []domain.Measure) error {
	return transaction(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO measures (`+measureColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare measure upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range measures {
			cobenefits := m.Cobenefits
			if cobenefits == nil {
				cobenefits = []string{}
			}
			cb, err := json.Marshal(cobenefits)
			if err != nil {
				return fmt.Errorf("measure %d cobenefits: %w", m.ID, err)
			}
			_, err = stmt.ExecContext(ctx, m.ID, m.Name, nullString(m.Slug), nullString(m.Description),
				m.HazardType, nullString(m.ExposureType), m.CostType, m.Cost,
				m.AnnualUpkeep, m.Priority, m.PercentageCoverage, m.PercentageEffectiveness, m.IsCoastal,
				floatArg(m.MaxDistanceFromCoast), floatArg(m.HazardCutoff), floatArg(m.ReturnPeriodCutoff),
				floatArg(m.HazardChangeMultiplier), floatArg(m.HazardChangeConstant), string(cb),
				m.UnitsCurrency, m.UnitsHazard, m.UnitsDistance, m.UserGenerated)
			if err != nil {
				return fmt.Errorf("upsert measure %d: %w", m.ID, err)
			}
		}
		return nil
	})
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func floatArg(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
