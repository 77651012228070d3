package units

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// definition expresses a unit against its dimension's base unit:
// base = x*scale + offset.
type definition struct {
	scale  float64
	offset float64
}

func (d definition) affine() bool { return d.offset != 0 }

// definitions covers every convertible, non-currency unit the options
// document may list. Base units: kelvin, metres per second, metres, square metres.
var definitions = map[string]definition{
	"K":    {scale: 1},
	"degC": {scale: 1, offset: 273.15},
	"degF": {scale: 5.0 / 9.0, offset: 273.15 - 32*5.0/9.0},

	"m/s":   {scale: 1},
	"km/h":  {scale: 1 / 3.6},
	"mph":   {scale: 0.44704},
	"knots": {scale: 1852.0 / 3600.0},

	"metres":     {scale: 1},
	"kilometres": {scale: 1000},
	"miles":      {scale: 1609.344},

	"square_kilometres": {scale: 1e6},
	"hectares":          {scale: 1e4},
	"square_miles":      {scale: 2589988.110336},
}

// Func rescales a single value.
type Func func(float64) float64

func identity(x float64) float64 { return x }

// RateSource provides exchange rates between currencies.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Converter builds scalar conversion functions between registered units.
// It is safe for concurrent use.
type Converter struct {
	reg   *Registry
	rates RateSource
}

// NewConverter creates a Converter. rates may be nil when no currency
// conversion is needed; currency conversions then fail.
func NewConverter(reg *Registry, rates RateSource) *Converter {
	return &Converter{reg: reg, rates: rates}
}

// Registry returns the registry the converter resolves units against.
func (c *Converter) Registry() *Registry {
	return c.reg
}

// Make returns a function converting absolute values from one unit to another.
func (c *Converter) Make(ctx context.Context, from, to string) (Func, error) {
	return c.make(ctx, from, to, false)
}

// MakeDelta returns a function converting differences between values, such
// as a change in temperature. Offsets cancel, so only the scale applies.
func (c *Converter) MakeDelta(ctx context.Context, from, to string) (Func, error) {
	return c.make(ctx, from, to, true)
}

// Factor returns the multiplicative factor between two units. Affine
// conversions have no single factor and fail.
func (c *Converter) Factor(ctx context.Context, from, to string) (float64, error) {
	from, to = c.reg.Canonical(from), c.reg.Canonical(to)
	if from == to {
		return 1, nil
	}
	if c.isCurrencyPair(from, to) {
		rate, err := c.rate(ctx, from, to)
		if err != nil {
			return 0, err
		}
		return rate.InexactFloat64(), nil
	}
	df, dt, err := c.linearPair(from, to)
	if err != nil {
		return 0, err
	}
	if df.affine() || dt.affine() {
		return 0, fmt.Errorf("%w: %s to %s is affine and has no single scale factor", ErrConversion, from, to)
	}
	return df.scale / dt.scale, nil
}

func (c *Converter) make(ctx context.Context, from, to string, delta bool) (Func, error) {
	from, to = c.reg.Canonical(from), c.reg.Canonical(to)
	if from == to {
		return identity, nil
	}
	if c.reg.IsUnconvertible(from) && c.reg.IsUnconvertible(to) {
		return nil, fmt.Errorf("%w: %s is not convertible to %s", ErrConversion, from, to)
	}

	if c.isCurrencyPair(from, to) {
		rate, err := c.rate(ctx, from, to)
		if err != nil {
			return nil, err
		}
		f := rate.InexactFloat64()
		return func(x float64) float64 {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return x * f
			}
			return decimal.NewFromFloat(x).Mul(rate).InexactFloat64()
		}, nil
	}

	df, dt, err := c.linearPair(from, to)
	if err != nil {
		return nil, err
	}
	if delta {
		k := df.scale / dt.scale
		return func(x float64) float64 { return x * k }, nil
	}
	return func(x float64) float64 {
		return (x*df.scale + df.offset - dt.offset) / dt.scale
	}, nil
}

func (c *Converter) isCurrencyPair(from, to string) bool {
	fromDim, errFrom := c.reg.DimensionOf(from)
	toDim, errTo := c.reg.DimensionOf(to)
	return (errFrom == nil && fromDim == Currency) || (errTo == nil && toDim == Currency)
}

func (c *Converter) rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	fromDim, _ := c.reg.DimensionOf(from)
	toDim, _ := c.reg.DimensionOf(to)
	if fromDim != Currency || toDim != Currency {
		return decimal.Decimal{}, fmt.Errorf("%w: unable to convert %s to %s: not both listed currencies", ErrConversion, from, to)
	}
	if c.rates == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: no exchange rate source configured", ErrConversion)
	}
	rate, err := c.rates.Rate(ctx, from, to)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: rate %s/%s: %w", ErrConversion, from, to, err)
	}
	return rate, nil
}

func (c *Converter) linearPair(from, to string) (definition, definition, error) {
	fromDim, err := c.reg.DimensionOf(from)
	if err != nil {
		return definition{}, definition{}, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	toDim, err := c.reg.DimensionOf(to)
	if err != nil {
		return definition{}, definition{}, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	if fromDim != toDim {
		return definition{}, definition{}, fmt.Errorf("%w: %s (%s) and %s (%s) are different dimensions", ErrConversion, from, fromDim, to, toDim)
	}
	df, okFrom := definitions[from]
	dt, okTo := definitions[to]
	if !okFrom || !okTo || c.reg.IsUnconvertible(from) || c.reg.IsUnconvertible(to) {
		return definition{}, definition{}, fmt.Errorf("%w: %s is not convertible to %s", ErrConversion, from, to)
	}
	return df, dt, nil
}

// Ratio returns the factor a numerator-per-denominator quantity is rescaled
// by when both of its component units change: num(1)/den(1).
func (c *Converter) Ratio(ctx context.Context, numFrom, numTo, denFrom, denTo string) (float64, error) {
	num, err := c.Factor(ctx, numFrom, numTo)
	if err != nil {
		return 0, err
	}
	den, err := c.Factor(ctx, denFrom, denTo)
	if err != nil {
		return 0, err
	}
	if den == 0 {
		return 0, fmt.Errorf("%w: zero scale factor from %s to %s", ErrConversion, denFrom, denTo)
	}
	return num / den, nil
}
