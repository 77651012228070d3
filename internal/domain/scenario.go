package domain

import (
	"fmt"
	"slices"

	"github.com/couchcryptid/climate-risk-api/internal/options"
)

// Historical is the scenario sentinel: name, growth and climate all collapse
// to it for the baseline year.
const Historical = "historical"

// Scenario is a resolved (name, growth, climate) triple.
type Scenario struct {
	Name    string
	Growth  string
	Climate string
}

// ResolveScenario expands a scenario name into its components. year, when it
// equals the historical baseline year, collapses the triple to Historical
// whatever else was given.
func ResolveScenario(s options.Scenarios, name, growth, climate string, year int) (Scenario, error) {
	if year != 0 && year == s.HistoricalYear {
		return Scenario{Name: Historical, Growth: Historical, Climate: Historical}, nil
	}
	if name == "" && (growth == "" || climate == "") {
		return Scenario{}, fmt.Errorf("%w: %w: scenario_climate and scenario_growth are required when scenario_name is not set",
			ErrValidation, ErrScenarioAmbiguous)
	}

	if name != "" {
		components, ok := s.Names[name]
		if !ok {
			return Scenario{}, fmt.Errorf("%w: unknown scenario_name %q", ErrValidation, name)
		}
		if growth == "" {
			growth = components.Growth
		}
		if climate == "" {
			climate = components.Climate
		}
	}

	if !slices.Contains(s.Growth, growth) {
		return Scenario{}, fmt.Errorf("%w: unknown scenario_growth %q", ErrValidation, growth)
	}
	if !slices.Contains(s.Climate, climate) {
		return Scenario{}, fmt.Errorf("%w: unknown scenario_climate %q", ErrValidation, climate)
	}
	return Scenario{Name: name, Growth: growth, Climate: climate}, nil
}
