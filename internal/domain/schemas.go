package domain

import (
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/climate-risk-api/internal/units"
)

// ColorbarLegendItem is one colour band of a continuous legend.
type ColorbarLegendItem struct {
	BandMin float64 `json:"band_min"`
	BandMax float64 `json:"band_max"`
	Color   string  `json:"color"`
}

// ColorbarLegend describes a continuous legend in a single unit.
type ColorbarLegend struct {
	Title string               `json:"title"`
	Units string               `json:"units"`
	Value float64              `json:"value"`
	Items []ColorbarLegendItem `json:"items"`
}

// Tree tags the legend value and band bounds with the legend units.
func (l *ColorbarLegend) Tree() *Node {
	values := []*Node{Scalar(&l.Value)}
	for i := range l.Items {
		values = append(values, Scalar(&l.Items[i].BandMin), Scalar(&l.Items[i].BandMax))
	}
	return Composite("legend").Tag("units", &l.Units, values...)
}

// CategoricalLegendItem is one category of a discrete legend.
type CategoricalLegendItem struct {
	Label string   `json:"label"`
	Slug  string   `json:"slug"`
	Value *float64 `json:"value,omitempty"`
}

// CategoricalLegend describes a discrete legend. Units is set only when the
// item values are quantities.
type CategoricalLegend struct {
	Title string                  `json:"title"`
	Units *string                 `json:"units,omitempty"`
	Items []CategoricalLegendItem `json:"items"`
}

// Tree tags the item values with the legend units.
func (l *CategoricalLegend) Tree() *Node {
	values := make([]*Node, 0, len(l.Items))
	for i := range l.Items {
		values = append(values, Scalar(l.Items[i].Value))
	}
	return Composite("legend").Tag("units", l.Units, values...)
}

// BreakdownBar is one year of a risk timeline. Its quantities are governed
// by the unit tags of the chart that holds it.
type BreakdownBar struct {
	YearLabel              string    `json:"year_label"`
	YearValue              float64   `json:"year_value"`
	Temperature            *float64  `json:"temperature,omitempty"`
	CurrentClimate         *float64  `json:"current_climate,omitempty"`
	GrowthChange           *float64  `json:"growth_change,omitempty"`
	ClimateChange          *float64  `json:"climate_change,omitempty"`
	FutureClimate          *float64  `json:"future_climate,omitempty"`
	MeasureNames           []string  `json:"measure_names,omitempty"`
	MeasureChange          []float64 `json:"measure_change,omitempty"`
	MeasureClimate         []float64 `json:"measure_climate,omitempty"`
	CombinedMeasureChange  *float64  `json:"combined_measure_change,omitempty"`
	CombinedMeasureClimate *float64  `json:"combined_measure_climate,omitempty"`
}

// warming returns the bar's temperature change.
func (b *BreakdownBar) warming() *Node {
	return Scalar(b.Temperature)
}

func (b *BreakdownBar) response() []*Node {
	return []*Node{
		Scalar(b.CurrentClimate),
		Scalar(b.GrowthChange),
		Scalar(b.ClimateChange),
		Scalar(b.FutureClimate),
		Scalar(b.CombinedMeasureChange),
		Scalar(b.CombinedMeasureClimate),
		List(b.MeasureChange),
		List(b.MeasureClimate),
	}
}

func barNodes(items []BreakdownBar) (warming, response []*Node) {
	for i := range items {
		warming = append(warming, items[i].warming())
		response = append(response, items[i].response()...)
	}
	return warming, response
}

// Timeline is the risk-over-time chart.
type Timeline struct {
	Items         []BreakdownBar    `json:"items"`
	Legend        CategoricalLegend `json:"legend"`
	UnitsWarming  string            `json:"units_warming"`
	UnitsResponse string            `json:"units_response"`
}

// Tree tags the bar warming deltas and responses with the chart units.
func (t *Timeline) Tree() *Node {
	warming, response := barNodes(t.Items)
	return Composite("timeline").
		TagDeltas("units_warming", &t.UnitsWarming, warming...).
		Tag("units_response", &t.UnitsResponse, response...).
		Child(t.Legend.Tree())
}

// TimelineMetadata accompanies a timeline.
type TimelineMetadata struct {
	Description string `json:"description"`
}

// Measure is an adaptation measure. Stored measures are in native units and
// are converted per read.
type Measure struct {
	ID                      int64    `json:"id"`
	Name                    string   `json:"name"`
	Slug                    string   `json:"slug,omitempty"`
	Description             string   `json:"description,omitempty"`
	HazardType              string   `json:"hazard_type"`
	ExposureType            string   `json:"exposure_type,omitempty"`
	CostType                string   `json:"cost_type"`
	Cost                    float64  `json:"cost"`
	AnnualUpkeep            float64  `json:"annual_upkeep"`
	Priority                string   `json:"priority"`
	PercentageCoverage      float64  `json:"percentage_coverage"`
	PercentageEffectiveness float64  `json:"percentage_effectiveness"`
	IsCoastal               bool     `json:"is_coastal"`
	MaxDistanceFromCoast    *float64 `json:"max_distance_from_coast"`
	HazardCutoff            *float64 `json:"hazard_cutoff"`
	ReturnPeriodCutoff      *float64 `json:"return_period_cutoff"`
	HazardChangeMultiplier  *float64 `json:"hazard_change_multiplier"`
	HazardChangeConstant    *float64 `json:"hazard_change_constant"`
	Cobenefits              []string `json:"cobenefits"`
	UnitsCurrency           string   `json:"units_currency"`
	UnitsHazard             string   `json:"units_hazard"`
	UnitsDistance           string   `json:"units_distance"`
	UserGenerated           bool     `json:"user_generated"`
}

// MeasureFilter narrows a measure listing. Zero fields match everything.
type MeasureFilter struct {
	ID           int64
	Slug         string
	HazardType   string
	ExposureType string
}

// Tree describes the measure's unit tags. The hazard change constant is a
// difference in hazard intensity and converts as a delta; the multiplier is
// dimensionless and never converts.
func (m *Measure) Tree() *Node {
	return Composite(fmt.Sprintf("measure(%d)", m.ID)).
		Guard(m.checkMultiplier).
		Tag("units_currency", &m.UnitsCurrency, Scalar(&m.Cost), Scalar(&m.AnnualUpkeep)).
		Tag("units_hazard", &m.UnitsHazard, Scalar(m.HazardCutoff)).
		TagDeltas("units_hazard", &m.UnitsHazard, Scalar(m.HazardChangeConstant)).
		Tag("units_distance", &m.UnitsDistance, Scalar(m.MaxDistanceFromCoast))
}

// checkMultiplier rejects linear scaling of temperature hazards, which has no
// meaning once the temperature scale changes.
func (m *Measure) checkMultiplier(reg *units.Registry, _ units.Targets) error {
	if m.HazardChangeMultiplier == nil || *m.HazardChangeMultiplier == 1 {
		return nil
	}
	dim, err := reg.DimensionOf(m.UnitsHazard)
	if err != nil {
		return fmt.Errorf("%w: %w", units.ErrConversion, err)
	}
	if dim == units.Temperature {
		return fmt.Errorf("%w: hazard_change_multiplier %v cannot be applied to a temperature hazard", units.ErrConversion, *m.HazardChangeMultiplier)
	}
	return nil
}

// CostBenefit is the cost-benefit chart. Costbenefit values are response
// units per currency unit.
type CostBenefit struct {
	Items               []BreakdownBar    `json:"items"`
	Legend              CategoricalLegend `json:"legend"`
	Measure             []Measure         `json:"measure"`
	Cost                []float64         `json:"cost"`
	Costbenefit         []float64         `json:"costbenefit"`
	CombinedCost        *float64          `json:"combined_cost,omitempty"`
	CombinedCostbenefit *float64          `json:"combined_costbenefit,omitempty"`
	UnitsCurrency       string            `json:"units_currency"`
	UnitsWarming        string            `json:"units_warming"`
	UnitsResponse       string            `json:"units_response"`
}

// Tree tags the chart quantities with their units.
func (c *CostBenefit) Tree() *Node {
	warming, response := barNodes(c.Items)
	n := Composite("cost_benefit").
		TagDeltas("units_warming", &c.UnitsWarming, warming...).
		Tag("units_response", &c.UnitsResponse, response...).
		Tag("units_currency", &c.UnitsCurrency, List(c.Cost), Scalar(c.CombinedCost)).
		Ratio("units_response", "units_currency", List(c.Costbenefit), Scalar(c.CombinedCostbenefit)).
		Child(c.Legend.Tree())
	for i := range c.Measure {
		n.Child(c.Measure[i].Tree())
	}
	return n
}

// CostBenefitMetadata accompanies a cost-benefit chart.
type CostBenefitMetadata struct {
	Description string `json:"description"`
}

// ExposureBreakdownBar splits one exposure total into categories.
type ExposureBreakdownBar struct {
	Label          string    `json:"label"`
	LocationScale  *string   `json:"location_scale,omitempty"`
	CategoryLabels []string  `json:"category_labels"`
	Values         []float64 `json:"values"`
}

// ExposureBreakdown is the social vulnerability chart.
type ExposureBreakdown struct {
	Items  []ExposureBreakdownBar `json:"items"`
	Legend CategoricalLegend      `json:"legend"`
	Units  *string                `json:"units,omitempty"`
}

// Tree tags every breakdown value with the chart units.
func (e *ExposureBreakdown) Tree() *Node {
	values := make([]*Node, 0, len(e.Items))
	for i := range e.Items {
		values = append(values, List(e.Items[i].Values))
	}
	return Composite("exposure_breakdown").
		Tag("units", e.Units, values...).
		Child(e.Legend.Tree())
}

// TextVariable is a value substituted into a generated text template.
type TextVariable struct {
	Key   string  `json:"key"`
	Value string  `json:"value"`
	Units *string `json:"units,omitempty"`
}

// GeneratedText is a sentence template with its variables.
type GeneratedText struct {
	Template string         `json:"template"`
	Values   []TextVariable `json:"values"`
}

// TimelineWidgetData is the risk timeline payload.
type TimelineWidgetData struct {
	Text  []GeneratedText `json:"text"`
	Chart Timeline        `json:"chart"`
}

// TimelineWidgetResponse is the risk-timeline widget result.
type TimelineWidgetResponse struct {
	Data     TimelineWidgetData `json:"data"`
	Metadata TimelineMetadata   `json:"metadata"`
}

// Tree returns the unit-tagged quantities of the timeline chart.
func (r *TimelineWidgetResponse) Tree() *Node {
	return Composite("risk_timeline").Child(r.Data.Chart.Tree())
}

// CostBenefitWidgetData is the cost-benefit payload.
type CostBenefitWidgetData struct {
	Text  []GeneratedText `json:"text"`
	Chart CostBenefit     `json:"chart"`
}

// CostBenefitWidgetResponse is the cost-benefit widget result.
type CostBenefitWidgetResponse struct {
	Data     CostBenefitWidgetData `json:"data"`
	Metadata CostBenefitMetadata   `json:"metadata"`
}

// Tree returns the unit-tagged quantities of the cost-benefit chart.
func (r *CostBenefitWidgetResponse) Tree() *Node {
	return Composite("cost_benefit").Child(r.Data.Chart.Tree())
}

// BiodiversityWidgetData holds only generated text.
type BiodiversityWidgetData struct {
	Text []GeneratedText `json:"text"`
}

// BiodiversityWidgetResponse is the biodiversity widget result.
type BiodiversityWidgetResponse struct {
	Data     BiodiversityWidgetData `json:"data"`
	Metadata map[string]any         `json:"metadata"`
}

// Tree is empty: biodiversity results carry no quantities.
func (r *BiodiversityWidgetResponse) Tree() *Node {
	return Composite("biodiversity")
}

// SocialVulnerabilityWidgetData is the social vulnerability payload. The chart is optional.
type SocialVulnerabilityWidgetData struct {
	Text  []GeneratedText    `json:"text"`
	Chart *ExposureBreakdown `json:"chart,omitempty"`
}

// SocialVulnerabilityWidgetResponse is the social-vulnerability widget result.
type SocialVulnerabilityWidgetResponse struct {
	Data     SocialVulnerabilityWidgetData `json:"data"`
	Metadata map[string]any                `json:"metadata"`
}

// Tree returns the exposure breakdown quantities, if any.
func (r *SocialVulnerabilityWidgetResponse) Tree() *Node {
	n := Composite("social_vulnerability")
	if r.Data.Chart != nil {
		n.Child(r.Data.Chart.Tree())
	}
	return n
}

// NewResponse returns an empty response value for a widget.
func NewResponse(w Widget) (Convertible, error) {
	switch w {
	case WidgetRiskTimeline:
		return &TimelineWidgetResponse{}, nil
	case WidgetCostBenefit:
		return &CostBenefitWidgetResponse{}, nil
	case WidgetBiodiversity:
		return &BiodiversityWidgetResponse{}, nil
	case WidgetSocialVulnerability:
		return &SocialVulnerabilityWidgetResponse{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown widget %q", ErrValidation, w)
	}
}

// DecodeResponse decodes a stored widget result into a fresh value. Each call
// returns an independent copy that the caller may convert.
func DecodeResponse(w Widget, raw []byte) (Convertible, error) {
	v, err := NewResponse(w)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", w, err)
	}
	return v, nil
}
