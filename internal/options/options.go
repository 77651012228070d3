// Package options decodes the dashboard options document: supported units,
// hazards, impact/exposure tables and scenario lookups.
package options

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed options.yaml
var embedded []byte

// Choice is one selectable option.
type Choice struct {
	Value string `yaml:"value" json:"value"`
	Name  string `yaml:"name" json:"name"`
}

// UnitOptions lists the units selectable for one unit type.
type UnitOptions struct {
	Native  string   `yaml:"native" json:"native"`
	Default string   `yaml:"default" json:"default"`
	Choices []Choice `yaml:"choices" json:"choices"`
}

// Values returns the choice values in document order.
func (u UnitOptions) Values() []string {
	out := make([]string, 0, len(u.Choices))
	for _, c := range u.Choices {
		out = append(out, c.Value)
	}
	return out
}

// ScenarioOptions are the per-hazard dashboard filters.
type ScenarioOptions struct {
	Year            []int    `yaml:"year" json:"year"`
	ClimateScenario []string `yaml:"climate_scenario" json:"climate_scenario"`
	ReturnPeriod    []string `yaml:"return_period" json:"return_period"`
	ImpactType      []string `yaml:"impact_type" json:"impact_type"`
}

// Hazard describes one supported hazard type.
type Hazard struct {
	Name            string          `yaml:"name" json:"name"`
	UnitType        string          `yaml:"unit_type" json:"unit_type"`
	ScenarioOptions ScenarioOptions `yaml:"scenario_options" json:"scenario_options"`
}

// ScenarioComponents is the (growth, climate) pair a named scenario expands to.
type ScenarioComponents struct {
	Growth  string `yaml:"growth" json:"growth"`
	Climate string `yaml:"climate" json:"climate"`
}

// Scenarios holds the scenario lookup table and the allowed component values.
type Scenarios struct {
	Names          map[string]ScenarioComponents `yaml:"names" json:"names"`
	Growth         []string                      `yaml:"growth" json:"growth"`
	Climate        []string                      `yaml:"climate" json:"climate"`
	HistoricalYear int                           `yaml:"historical_year" json:"historical_year"`
}

// Data is the body of the options document.
type Data struct {
	Units         map[string]UnitOptions `yaml:"units" json:"units"`
	Unconvertible []string               `yaml:"unconvertible" json:"unconvertible"`
	Aliases       map[string]string      `yaml:"aliases" json:"aliases"`
	Filters       map[string]Hazard      `yaml:"filters" json:"filters"`
	Impacts       map[string]string      `yaml:"impacts" json:"impacts"`
	Exposures     map[string]string      `yaml:"exposures" json:"exposures"`
	Scenarios     Scenarios              `yaml:"scenarios" json:"scenarios"`
}

// Document is the decoded options document. It is read-only after Load.
type Document struct {
	Data Data `yaml:"data" json:"data"`
}

// Load decodes the embedded options document.
func Load() (*Document, error) {
	return Parse(embedded)
}

// Parse decodes and validates an options document.
func Parse(b []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	if len(d.Data.Units) == 0 {
		return errors.New("options: no unit types defined")
	}
	for haz, h := range d.Data.Filters {
		if _, ok := d.Data.Units[h.UnitType]; !ok {
			return fmt.Errorf("options: hazard %s has unknown unit type %q", haz, h.UnitType)
		}
		for _, impact := range h.ScenarioOptions.ImpactType {
			if _, ok := d.Data.Impacts[impact]; !ok {
				return fmt.Errorf("options: hazard %s lists unknown impact type %q", haz, impact)
			}
		}
	}
	for impact, exposure := range d.Data.Impacts {
		if _, ok := d.Data.Exposures[exposure]; !ok {
			return fmt.Errorf("options: impact %s maps to unknown exposure %q", impact, exposure)
		}
	}
	for exposure, unitType := range d.Data.Exposures {
		if _, ok := d.Data.Units[unitType]; !ok {
			return fmt.Errorf("options: exposure %s has unknown unit type %q", exposure, unitType)
		}
	}
	return nil
}

// HazardTypes returns the configured hazard types, sorted.
func (d *Document) HazardTypes() []string {
	out := make([]string, 0, len(d.Data.Filters))
	for k := range d.Data.Filters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ExposureTypes returns the exposure types reachable from a hazard's impact
// types, or from every hazard when hazardType is empty.
func (d *Document) ExposureTypes(hazardType string) []string {
	hazards := d.HazardTypes()
	if hazardType != "" {
		hazards = []string{hazardType}
	}
	var out []string
	for _, haz := range hazards {
		for _, impact := range d.Data.Filters[haz].ScenarioOptions.ImpactType {
			exposure := d.Data.Impacts[impact]
			if !slices.Contains(out, exposure) {
				out = append(out, exposure)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Raw returns the embedded document bytes.
func Raw() []byte {
	return embedded
}
