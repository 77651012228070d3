package units_test

import (
	"context"
	"math"
	"testing"

	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-9

func fixedRates() units.StaticRates {
	return units.StaticRates{
		Base: "USD",
		Rates: map[string]decimal.Decimal{
			"EUR": decimal.RequireFromString("0.9"),
			"CHF": decimal.RequireFromString("0.8"),
			"GBP": decimal.RequireFromString("0.75"),
		},
	}
}

func testConverter(t *testing.T) *units.Converter {
	t.Helper()
	return units.NewConverter(testRegistry(t), fixedRates())
}

func mustMake(t *testing.T, c *units.Converter, from, to string) units.Func {
	t.Helper()
	fn, err := c.Make(context.Background(), from, to)
	require.NoError(t, err)
	return fn
}

func TestConverter_Make_KnownValues(t *testing.T) {
	c := testConverter(t)

	tests := []struct {
		from, to string
		in, want float64
	}{
		{"degC", "degF", 100, 212},
		{"celsius", "fahrenheit", -40, -40},
		{"degF", "degC", 32, 0},
		{"m/s", "km/h", 10, 36},
		{"knots", "m/s", 1, 1852.0 / 3600.0},
		{"kilometres", "miles", 1.609344, 1},
		{"square_kilometres", "hectares", 1, 100},
		{"USD", "EUR", 1000, 900},
		{"EUR", "USD", 900, 1000},
		{"GBP", "CHF", 75, 80},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			fn := mustMake(t, c, tt.from, tt.to)
			assert.InDelta(t, tt.want, fn(tt.in), 1e-9*math.Max(1, math.Abs(tt.want)))
		})
	}
}

func TestConverter_Make_Identity(t *testing.T) {
	c := testConverter(t)
	for _, pair := range [][2]string{
		{"degC", "celsius"},
		{"percent", "%"},
		{"person-days", "person-days"},
		{"people", "people"},
	} {
		fn := mustMake(t, c, pair[0], pair[1])
		assert.Equal(t, 42.5, fn(42.5))
	}
}

func TestConverter_Make_Errors(t *testing.T) {
	c := testConverter(t)

	tests := []struct {
		name     string
		from, to string
	}{
		{"different unconvertible labels", "person-days", "percent"},
		{"different dimensions", "degC", "m/s"},
		{"unknown unit", "parsecs", "degC"},
		{"unknown target", "degC", "parsecs"},
		{"currency to non-currency", "USD", "people"},
		{"unconvertible to convertible", "years", "kilometres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Make(context.Background(), tt.from, tt.to)
			require.ErrorIs(t, err, units.ErrConversion)
		})
	}
}

func TestConverter_Make_NoRateSource(t *testing.T) {
	c := units.NewConverter(testRegistry(t), nil)
	_, err := c.Make(context.Background(), "USD", "EUR")
	require.ErrorIs(t, err, units.ErrConversion)

	// Non-currency conversions never need a rate source.
	fn := mustMake(t, c, "metres", "kilometres")
	assert.InDelta(t, 1.5, fn(1500), tolerance)
}

func TestConverter_Composability(t *testing.T) {
	c := testConverter(t)
	chains := [][3]string{
		{"degC", "degF", "degC"},
		{"m/s", "km/h", "mph"},
		{"knots", "mph", "km/h"},
		{"kilometres", "metres", "miles"},
		{"square_kilometres", "hectares", "square_miles"},
		{"USD", "EUR", "GBP"},
		{"CHF", "USD", "EUR"},
	}
	inputs := []float64{-40, 0, 0.5, 1, 37.2, 1e6}

	for _, chain := range chains {
		t.Run(chain[0]+"->"+chain[1]+"->"+chain[2], func(t *testing.T) {
			ab := mustMake(t, c, chain[0], chain[1])
			bc := mustMake(t, c, chain[1], chain[2])
			ac := mustMake(t, c, chain[0], chain[2])
			for _, x := range inputs {
				want := ac(x)
				got := bc(ab(x))
				assert.InDelta(t, want, got, tolerance*math.Max(1, math.Abs(want)), "x=%v", x)
			}
		})
	}
}

func TestConverter_RoundTrip(t *testing.T) {
	c := testConverter(t)
	reg := c.Registry()

	for _, dim := range []units.Dimension{units.Temperature, units.Speed, units.Distance, units.Area, units.Currency} {
		choices := reg.ValidUnits(dim)
		for _, a := range choices {
			for _, b := range choices {
				there := mustMake(t, c, a, b)
				back := mustMake(t, c, b, a)
				for _, x := range []float64{-12.5, 0, 1, 273.15, 9999} {
					assert.InDelta(t, x, back(there(x)), tolerance*math.Max(1, math.Abs(x)), "%s->%s->%s x=%v", a, b, a, x)
				}
			}
		}
	}
}

func TestConverter_MakeDelta(t *testing.T) {
	c := testConverter(t)

	fn, err := c.MakeDelta(context.Background(), "degC", "degF")
	require.NoError(t, err)
	assert.InDelta(t, 1.8, fn(1), tolerance)
	assert.InDelta(t, 0, fn(0), tolerance)

	fn, err = c.MakeDelta(context.Background(), "m/s", "km/h")
	require.NoError(t, err)
	assert.InDelta(t, 3.6, fn(1), tolerance)
}

func TestConverter_Factor(t *testing.T) {
	c := testConverter(t)
	ctx := context.Background()

	f, err := c.Factor(ctx, "kilometres", "metres")
	require.NoError(t, err)
	assert.InDelta(t, 1000, f, tolerance)

	f, err = c.Factor(ctx, "USD", "CHF")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, f, tolerance)

	f, err = c.Factor(ctx, "person-days", "person-days")
	require.NoError(t, err)
	assert.Equal(t, 1.0, f)

	_, err = c.Factor(ctx, "degC", "degF")
	require.ErrorIs(t, err, units.ErrConversion)
}

func TestConverter_Ratio(t *testing.T) {
	c := testConverter(t)
	ctx := context.Background()

	num := mustMake(t, c, "m/s", "km/h")
	den := mustMake(t, c, "USD", "EUR")

	got, err := c.Ratio(ctx, "m/s", "km/h", "USD", "EUR")
	require.NoError(t, err)
	assert.InDelta(t, num(1)/den(1), got, tolerance)

	_, err = c.Ratio(ctx, "people", "people", "degC", "degF")
	require.ErrorIs(t, err, units.ErrConversion)
}

func TestConverter_CurrencyNaN(t *testing.T) {
	c := testConverter(t)
	fn := mustMake(t, c, "USD", "EUR")
	assert.True(t, math.IsNaN(fn(math.NaN())))
	assert.True(t, math.IsInf(fn(math.Inf(1)), 1))
}
