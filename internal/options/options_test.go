package options

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"extreme_heat", "tropical_cyclone"}, doc.HazardTypes())
	assert.Equal(t, "speed", doc.Data.Filters["tropical_cyclone"].UnitType)
	assert.Equal(t, "USD", doc.Data.Units["currency"].Native)
	assert.Equal(t, []string{"USD", "EUR", "CHF", "GBP"}, doc.Data.Units["currency"].Values())
	assert.Equal(t, ScenarioComponents{Growth: "ssp5", Climate: "rcp85"}, doc.Data.Scenarios.Names["ssp585"])
	assert.Equal(t, 2020, doc.Data.Scenarios.HistoricalYear)
	assert.NotEmpty(t, Raw())
}

func TestExposureTypes(t *testing.T) {
	doc, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"economic_assets", "people"}, doc.ExposureTypes(""))
	assert.Equal(t, []string{"economic_assets", "people"}, doc.ExposureTypes("tropical_cyclone"))
	assert.Equal(t, []string{"people"}, doc.ExposureTypes("extreme_heat"))
	assert.Empty(t, doc.ExposureTypes("volcano"))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not yaml", "data: [", "decode options"},
		{"no units", "data: {}", "no unit types"},
		{
			"hazard with unknown unit type",
			`
data:
  units: {speed: {native: m/s}}
  filters: {flood: {unit_type: depth}}`,
			`unknown unit type "depth"`,
		},
		{
			"hazard with unknown impact",
			`
data:
  units: {speed: {native: m/s}}
  filters: {wind: {unit_type: speed, scenario_options: {impact_type: [roofs_lost]}}}`,
			`unknown impact type "roofs_lost"`,
		},
		{
			"impact with unknown exposure",
			`
data:
  units: {people: {native: people}}
  impacts: {people_affected: humans}`,
			`unknown exposure "humans"`,
		},
		{
			"exposure with unknown unit type",
			`
data:
  units: {people: {native: people}}
  exposures: {economic_assets: currency}`,
			`unknown unit type "currency"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(strings.TrimSpace(tt.doc)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
