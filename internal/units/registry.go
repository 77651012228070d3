// Package units holds the unit registry and the quantity converter used to
// re-express results between the native unit system and a caller's units.
package units

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/couchcryptid/climate-risk-api/internal/options"
)

// Dimension is a category of quantity within which conversion is meaningful.
type Dimension string

const (
	Temperature Dimension = "temperature"
	Speed       Dimension = "speed"
	Distance    Dimension = "distance"
	Area        Dimension = "area"
	Currency    Dimension = "currency"
	People      Dimension = "people"
	Unitless    Dimension = "unitless"
)

var (
	// ErrUnknownUnit is returned for unit names that are not registered.
	ErrUnknownUnit = errors.New("unknown unit")
	// ErrConversion is returned when two units cannot be converted.
	ErrConversion = errors.New("conversion error")
	// ErrMissingUnitTarget is returned when a tree holds a unit dimension the
	// caller gave no target for.
	ErrMissingUnitTarget = errors.New("missing unit target")
)

// Targets maps each dimension to the unit a caller wants it expressed in.
type Targets map[Dimension]string

// Registry maps unit names to dimensions and holds native and default units.
// It is built once and never mutated.
type Registry struct {
	dimensions    map[string]Dimension
	choices       map[Dimension][]string
	native        map[Dimension]string
	defaults      map[Dimension]string
	unconvertible map[string]bool
	aliases       map[string]string
	hazards       map[string]Dimension
	exposures     map[string]Dimension
	doc           *options.Document
}

// NewRegistry builds a registry from an options document. overrides replaces
// the document's default unit for the given dimensions.
func NewRegistry(doc *options.Document, overrides map[Dimension]string) (*Registry, error) {
	r := &Registry{
		dimensions:    make(map[string]Dimension),
		choices:       make(map[Dimension][]string),
		native:        make(map[Dimension]string),
		defaults:      make(map[Dimension]string),
		unconvertible: make(map[string]bool),
		aliases:       make(map[string]string),
		hazards:       make(map[string]Dimension),
		exposures:     make(map[string]Dimension),
		doc:           doc,
	}

	for alias, name := range doc.Data.Aliases {
		r.aliases[strings.ToLower(alias)] = name
	}
	// Registered names match in any case. Explicit aliases win.
	folded := make(map[string]string)
	fold := func(name string) error {
		key := strings.ToLower(name)
		prev, seen := folded[key]
		if _, explicit := r.aliases[key]; explicit && !seen {
			return nil
		}
		if seen && prev != name {
			return fmt.Errorf("units %s and %s differ only in case", prev, name)
		}
		folded[key] = name
		r.aliases[key] = name
		return nil
	}
	for _, opts := range doc.Data.Units {
		for _, unit := range opts.Values() {
			if err := fold(unit); err != nil {
				return nil, err
			}
		}
	}
	for _, label := range doc.Data.Unconvertible {
		if err := fold(label); err != nil {
			return nil, err
		}
	}
	for _, label := range doc.Data.Unconvertible {
		r.unconvertible[r.Canonical(label)] = true
	}

	for name, opts := range doc.Data.Units {
		dim := Dimension(name)
		for _, unit := range opts.Values() {
			if prev, ok := r.dimensions[unit]; ok && prev != dim {
				return nil, fmt.Errorf("unit %s registered under both %s and %s", unit, prev, dim)
			}
			if dim != Currency && !r.unconvertible[unit] {
				if _, ok := definitions[unit]; !ok {
					return nil, fmt.Errorf("unit %s has no conversion definition", unit)
				}
			}
			r.dimensions[unit] = dim
			r.choices[dim] = append(r.choices[dim], unit)
		}
		if !slices.Contains(r.choices[dim], opts.Native) {
			return nil, fmt.Errorf("native unit %q of %s is not one of its choices", opts.Native, dim)
		}
		r.native[dim] = opts.Native
		r.defaults[dim] = opts.Default
	}

	for dim, unit := range overrides {
		if unit == "" {
			continue
		}
		r.defaults[dim] = r.Canonical(unit)
	}
	for dim, unit := range r.defaults {
		if !slices.Contains(r.choices[dim], unit) {
			return nil, fmt.Errorf("default unit %q of %s is not one of its choices", unit, dim)
		}
	}

	for haz, h := range doc.Data.Filters {
		r.hazards[haz] = Dimension(h.UnitType)
	}
	for exposure, unitType := range doc.Data.Exposures {
		r.exposures[exposure] = Dimension(unitType)
	}
	return r, nil
}

// Canonical rewrites a unit name through the alias table and to the
// registered spelling of a unit, both case-insensitively. Unknown names are
// returned unchanged.
func (r *Registry) Canonical(unit string) string {
	if name, ok := r.aliases[strings.ToLower(unit)]; ok {
		return name
	}
	return unit
}

// DimensionOf returns the dimension a unit belongs to.
func (r *Registry) DimensionOf(unit string) (Dimension, error) {
	dim, ok := r.dimensions[r.Canonical(unit)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	return dim, nil
}

// NativeUnit returns the unit all stored results of a dimension use.
func (r *Registry) NativeUnit(dim Dimension) string {
	return r.native[dim]
}

// DefaultUnit returns the deployment's default unit for a dimension.
func (r *Registry) DefaultUnit(dim Dimension) string {
	return r.defaults[dim]
}

// ValidUnits returns the units registered for a dimension.
func (r *Registry) ValidUnits(dim Dimension) []string {
	return slices.Clone(r.choices[dim])
}

// IsValid reports whether unit belongs to dim.
func (r *Registry) IsValid(dim Dimension, unit string) bool {
	return slices.Contains(r.choices[dim], r.Canonical(unit))
}

// IsUnconvertible reports whether unit is a label the converter never rescales.
func (r *Registry) IsUnconvertible(unit string) bool {
	return r.unconvertible[r.Canonical(unit)]
}

// Defaults returns a copy of the default target units.
func (r *Registry) Defaults() Targets {
	out := make(Targets, len(r.defaults))
	for dim, unit := range r.defaults {
		if dim == Unitless {
			continue
		}
		out[dim] = unit
	}
	return out
}

// Natives returns the native target units for every convertible dimension.
func (r *Registry) Natives() Targets {
	out := make(Targets, len(r.native))
	for dim, unit := range r.native {
		if dim == Unitless {
			continue
		}
		out[dim] = unit
	}
	return out
}

// HazardDimension returns the intensity dimension of a hazard type.
func (r *Registry) HazardDimension(hazardType string) (Dimension, error) {
	dim, ok := r.hazards[hazardType]
	if !ok {
		return "", fmt.Errorf("%w: unknown hazard type %q", ErrUnknownUnit, hazardType)
	}
	return dim, nil
}

// ExposureDimension returns the dimension exposure values are counted in.
func (r *Registry) ExposureDimension(exposureType string) (Dimension, error) {
	dim, ok := r.exposures[exposureType]
	if !ok {
		return "", fmt.Errorf("%w: unknown exposure type %q", ErrUnknownUnit, exposureType)
	}
	return dim, nil
}

// ValidExposureUnits returns the units allowed for an exposure, restricted to
// the exposures a hazard can produce. An empty hazardType allows every hazard.
func (r *Registry) ValidExposureUnits(hazardType, exposureType string) ([]string, error) {
	exposures := r.doc.ExposureTypes(hazardType)
	if exposureType != "" {
		if !slices.Contains(exposures, exposureType) {
			return nil, fmt.Errorf("inconsistent hazard_type %q and exposure_type %q", hazardType, exposureType)
		}
		exposures = []string{exposureType}
	}
	var out []string
	for _, exposure := range exposures {
		for _, unit := range r.choices[r.exposures[exposure]] {
			if !slices.Contains(out, unit) {
				out = append(out, unit)
			}
		}
	}
	return out, nil
}

// Options returns the document the registry was built from.
func (r *Registry) Options() *options.Document {
	return r.doc
}
