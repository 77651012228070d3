package domain

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/couchcryptid/climate-risk-api/internal/options"
	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *units.Registry {
	t.Helper()
	doc, err := options.Load()
	require.NoError(t, err)
	reg, err := units.NewRegistry(doc, nil)
	require.NoError(t, err)
	return reg
}

func testConverter(t *testing.T) *units.Converter {
	t.Helper()
	return units.NewConverter(testRegistry(t), units.StaticRates{
		Base: "USD",
		Rates: map[string]decimal.Decimal{
			"EUR": decimal.RequireFromString("0.9"),
			"CHF": decimal.RequireFromString("0.8"),
			"GBP": decimal.RequireFromString("0.75"),
		},
	})
}

// nativeTargets returns the native unit of every dimension with overrides applied.
func nativeTargets(t *testing.T, overrides units.Targets) units.Targets {
	t.Helper()
	targets := testRegistry(t).Natives()
	for dim, unit := range overrides {
		targets[dim] = unit
	}
	return targets
}

func ptr[T any](v T) *T { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeResolver answers lookups from a fixed table keyed by query.
type fakeResolver struct {
	places  map[string][]Place
	queries []string
	err     error
}

func (f *fakeResolver) LookupPlaces(_ context.Context, query string) ([]Place, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.places[query], nil
}
