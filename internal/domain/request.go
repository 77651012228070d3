package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/couchcryptid/climate-risk-api/internal/units"
)

// Widget names a dashboard widget endpoint.
type Widget string

const (
	WidgetCostBenefit         Widget = "cost-benefit"
	WidgetRiskTimeline        Widget = "risk-timeline"
	WidgetBiodiversity        Widget = "biodiversity"
	WidgetSocialVulnerability Widget = "social-vulnerability"
)

// Widgets returns every widget in a stable order.
func Widgets() []Widget {
	return []Widget{WidgetCostBenefit, WidgetRiskTimeline, WidgetBiodiversity, WidgetSocialVulnerability}
}

// Field is a set of optional request fields.
type Field uint32

const (
	FieldHazard Field = 1 << iota
	FieldHazardRP
	FieldExposure
	FieldImpact
	FieldScenario
	FieldMeasures
	FieldUnitsHazard
	FieldUnitsExposure
	FieldUnitsCurrency
	FieldUnitsWarming
	FieldUnitsResponse
)

// Endpoint declares which request fields a widget accepts. Fields a widget
// does not accept are dropped before normalization.
type Endpoint struct {
	Widget   Widget
	Fields   Field
	Required Field
}

// Has reports whether the endpoint accepts every field in f.
func (e Endpoint) Has(f Field) bool { return e.Fields&f == f }

var endpoints = map[Widget]Endpoint{
	WidgetCostBenefit: {
		Widget: WidgetCostBenefit,
		Fields: FieldHazard | FieldImpact | FieldScenario | FieldMeasures |
			FieldUnitsCurrency | FieldUnitsHazard | FieldUnitsExposure | FieldUnitsWarming | FieldUnitsResponse,
		Required: FieldHazard,
	},
	WidgetRiskTimeline: {
		Widget: WidgetRiskTimeline,
		Fields: FieldHazard | FieldHazardRP | FieldExposure | FieldImpact | FieldScenario |
			FieldUnitsHazard | FieldUnitsExposure | FieldUnitsWarming | FieldUnitsResponse,
		Required: FieldHazard,
	},
	WidgetBiodiversity: {
		Widget: WidgetBiodiversity,
		Fields: FieldHazard,
	},
	WidgetSocialVulnerability: {
		Widget:   WidgetSocialVulnerability,
		Fields:   FieldHazard,
		Required: FieldHazard,
	},
}

// EndpointFor returns the descriptor of a widget.
func EndpointFor(w Widget) (Endpoint, error) {
	ep, ok := endpoints[w]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: unknown widget %q", ErrValidation, w)
	}
	return ep, nil
}

// Units holds the caller's requested unit per unit field.
type Units struct {
	Hazard   string `json:"units_hazard,omitempty"`
	Exposure string `json:"units_exposure,omitempty"`
	Currency string `json:"units_currency,omitempty"`
	Warming  string `json:"units_warming,omitempty"`
	Response string `json:"units_response,omitempty"`
}

// Request is a widget request as received from a caller.
type Request struct {
	LocationName  string          `json:"location_name,omitempty"`
	LocationScale string          `json:"location_scale,omitempty"`
	LocationCode  string          `json:"location_code,omitempty"`
	LocationPoly  json.RawMessage `json:"location_poly,omitempty"`

	HazardType   string `json:"hazard_type,omitempty"`
	HazardRP     string `json:"hazard_rp,omitempty"`
	ExposureType string `json:"exposure_type,omitempty"`
	ImpactType   string `json:"impact_type,omitempty"`

	ScenarioName    string `json:"scenario_name,omitempty"`
	ScenarioGrowth  string `json:"scenario_growth,omitempty"`
	ScenarioClimate string `json:"scenario_climate,omitempty"`
	ScenarioYear    int    `json:"scenario_year,omitempty"`

	MeasureIDs []int64 `json:"measure_ids,omitempty"`

	Units
}

func (r Request) hasPoly() bool {
	p := bytes.TrimSpace(r.LocationPoly)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// only clears the fields an endpoint does not accept.
func (r Request) only(ep Endpoint) Request {
	if !ep.Has(FieldHazard) {
		r.HazardType = ""
	}
	if !ep.Has(FieldHazardRP) {
		r.HazardRP = ""
	}
	if !ep.Has(FieldExposure) {
		r.ExposureType = ""
	}
	if !ep.Has(FieldImpact) {
		r.ImpactType = ""
	}
	if !ep.Has(FieldScenario) {
		r.ScenarioName, r.ScenarioGrowth, r.ScenarioClimate, r.ScenarioYear = "", "", "", 0
	}
	if !ep.Has(FieldMeasures) {
		r.MeasureIDs = nil
	}
	r.Units = r.Units.only(ep)
	return r
}

func (u Units) only(ep Endpoint) Units {
	if !ep.Has(FieldUnitsHazard) {
		u.Hazard = ""
	}
	if !ep.Has(FieldUnitsExposure) {
		u.Exposure = ""
	}
	if !ep.Has(FieldUnitsCurrency) {
		u.Currency = ""
	}
	if !ep.Has(FieldUnitsWarming) {
		u.Warming = ""
	}
	if !ep.Has(FieldUnitsResponse) {
		u.Response = ""
	}
	return u
}

func (u Units) canonical(reg *units.Registry) Units {
	alias := func(s string) string {
		if s == "" {
			return ""
		}
		return reg.Canonical(strings.TrimSpace(s))
	}
	return Units{
		Hazard:   alias(u.Hazard),
		Exposure: alias(u.Exposure),
		Currency: alias(u.Currency),
		Warming:  alias(u.Warming),
		Response: alias(u.Response),
	}
}

// CanonicalRequest is a fully normalized request. It is a value: copies are
// independent and nothing mutates one after Normalize returns it.
type CanonicalRequest struct {
	Widget Widget `json:"endpoint"`

	LocationName  string       `json:"location_name"`
	LocationScale string       `json:"location_scale,omitempty"`
	LocationCode  string       `json:"location_code"`
	LocationPoly  [][2]float64 `json:"location_poly,omitempty"`
	Place         Place        `json:"geocoding"`

	HazardType   string `json:"hazard_type,omitempty"`
	HazardRP     string `json:"hazard_rp,omitempty"`
	ExposureType string `json:"exposure_type,omitempty"`
	ImpactType   string `json:"impact_type,omitempty"`

	ScenarioName    string `json:"scenario_name,omitempty"`
	ScenarioGrowth  string `json:"scenario_growth,omitempty"`
	ScenarioClimate string `json:"scenario_climate,omitempty"`
	ScenarioYear    int    `json:"scenario_year,omitempty"`

	MeasureIDs []int64 `json:"measure_ids,omitempty"`

	Units

	reg *units.Registry
}

// Targets maps every dimension to the unit the caller wants results in.
// Dimensions the request says nothing about use the deployment defaults.
func (c CanonicalRequest) Targets() units.Targets {
	t := c.reg.Defaults()
	set := func(unit string, dim units.Dimension, err error) {
		if unit != "" && err == nil {
			t[dim] = unit
		}
	}
	if c.HazardType != "" {
		dim, err := c.reg.HazardDimension(c.HazardType)
		set(c.Units.Hazard, dim, err)
	}
	if c.ExposureType != "" {
		dim, err := c.reg.ExposureDimension(c.ExposureType)
		set(c.Units.Exposure, dim, err)
	}
	set(c.Units.Currency, units.Currency, nil)
	set(c.Units.Warming, units.Temperature, nil)
	if c.Units.Response != "" {
		dim, err := c.reg.DimensionOf(c.Units.Response)
		set(c.Units.Response, dim, err)
	}
	return t
}

// Native returns the request with every convertible unit field replaced by
// its dimension's native unit. Unconvertible labels are kept.
func (c CanonicalRequest) Native() CanonicalRequest {
	native := func(unit string) string {
		if unit == "" || c.reg.IsUnconvertible(unit) {
			return unit
		}
		dim, err := c.reg.DimensionOf(unit)
		if err != nil {
			return unit
		}
		return c.reg.NativeUnit(dim)
	}
	c.Units = Units{
		Hazard:   native(c.Units.Hazard),
		Exposure: native(c.Units.Exposure),
		Currency: native(c.Units.Currency),
		Warming:  native(c.Units.Warming),
		Response: native(c.Units.Response),
	}
	c.MeasureIDs = slices.Clone(c.MeasureIDs)
	c.LocationPoly = slices.Clone(c.LocationPoly)
	return c
}

// JobID returns the job identifier of the request: the hash of its native form.
func (c CanonicalRequest) JobID() (string, error) {
	return HashID(c.Native())
}

// Normalizer turns raw requests into canonical ones. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	reg      *units.Registry
	resolver LocationResolver
	logger   *slog.Logger
}

// NewNormalizer creates a Normalizer. resolver is consulted for places that
// are not given at country scale.
func NewNormalizer(reg *units.Registry, resolver LocationResolver, logger *slog.Logger) *Normalizer {
	return &Normalizer{reg: reg, resolver: resolver, logger: logger}
}

// Registry returns the unit registry requests are validated against.
func (n *Normalizer) Registry() *units.Registry {
	return n.reg
}

// Normalize validates a request for a widget and resolves its place,
// scenario and units. Rules run in a fixed order and the first failure is
// returned.
func (n *Normalizer) Normalize(ctx context.Context, w Widget, r Request) (CanonicalRequest, error) {
	ep, err := EndpointFor(w)
	if err != nil {
		return CanonicalRequest{}, err
	}
	r = r.only(ep)
	if err := n.checkRequired(ep, r); err != nil {
		return CanonicalRequest{}, err
	}

	u := r.Units.canonical(n.reg)

	place, err := n.resolvePlace(ctx, r)
	if err != nil {
		return CanonicalRequest{}, err
	}

	c := CanonicalRequest{
		Widget:        w,
		LocationName:  place.Name,
		LocationScale: place.Scale,
		LocationCode:  place.ID,
		LocationPoly:  place.Poly,
		Place:         place,
		HazardType:    r.HazardType,
		HazardRP:      r.HazardRP,
		ExposureType:  r.ExposureType,
		ImpactType:    r.ImpactType,
		MeasureIDs:    sortedIDs(r.MeasureIDs),
		reg:           n.reg,
	}

	if ep.Has(FieldScenario) {
		s, err := ResolveScenario(n.reg.Options().Data.Scenarios, r.ScenarioName, r.ScenarioGrowth, r.ScenarioClimate, r.ScenarioYear)
		if err != nil {
			return CanonicalRequest{}, err
		}
		c.ScenarioName, c.ScenarioGrowth, c.ScenarioClimate = s.Name, s.Growth, s.Climate
		c.ScenarioYear = r.ScenarioYear
	}

	if err := n.checkHazardUnit(c, u); err != nil {
		return CanonicalRequest{}, err
	}
	if err := n.resolveExposure(ep, &c); err != nil {
		return CanonicalRequest{}, err
	}
	if c.Units, err = n.resolveUnits(ep, c, u); err != nil {
		return CanonicalRequest{}, err
	}
	return c, nil
}

// Retarget returns c with its unit fields replaced by the caller's choice,
// validated against c's hazard and exposure. It is used when a stored job
// is read back in a different unit system.
func (n *Normalizer) Retarget(c CanonicalRequest, u Units) (CanonicalRequest, error) {
	ep, err := EndpointFor(c.Widget)
	if err != nil {
		return CanonicalRequest{}, err
	}
	c.reg = n.reg
	u = u.only(ep).canonical(n.reg)
	if err := n.checkHazardUnit(c, u); err != nil {
		return CanonicalRequest{}, err
	}
	if c.Units, err = n.resolveUnits(ep, c, u); err != nil {
		return CanonicalRequest{}, err
	}
	return c, nil
}

// DecodeCanonical decodes a canonical request previously encoded with
// CanonicalJSON and binds it to the normalizer's registry.
func (n *Normalizer) DecodeCanonical(b []byte) (CanonicalRequest, error) {
	var c CanonicalRequest
	if err := json.Unmarshal(b, &c); err != nil {
		return CanonicalRequest{}, fmt.Errorf("decode canonical request: %w", err)
	}
	c.reg = n.reg
	return c, nil
}

func (n *Normalizer) checkRequired(ep Endpoint, r Request) error {
	if ep.Required&FieldHazard != 0 && r.HazardType == "" {
		return fmt.Errorf("%w: hazard_type is required for %s", ErrValidation, ep.Widget)
	}
	if r.HazardType != "" {
		if _, ok := n.reg.Options().Data.Filters[r.HazardType]; !ok {
			return fmt.Errorf("%w: unknown hazard_type %q", ErrValidation, r.HazardType)
		}
	}
	return nil
}

func (n *Normalizer) resolvePlace(ctx context.Context, r Request) (Place, error) {
	if r.LocationName == "" && r.LocationCode == "" {
		return Place{}, fmt.Errorf("%w: location_name or location_code is required", ErrValidation)
	}
	if r.hasPoly() {
		return Place{}, fmt.Errorf("%w: location_poly input is not yet supported", ErrValidation)
	}

	switch scale := strings.ToLower(r.LocationScale); scale {
	case "country", "admin0":
		return CountryPlace(r.LocationName, r.LocationCode)
	case "":
	default:
		n.logger.Warn("location scale not supported, ignoring",
			"location_scale", r.LocationScale,
			"location_name", r.LocationName,
			"location_code", r.LocationCode,
		)
	}

	query := r.LocationCode
	if query == "" {
		query = r.LocationName
	}
	place, err := n.lookupPlace(ctx, query)
	if err != nil {
		return Place{}, err
	}
	place, err = place.WithGeometry()
	if err != nil {
		return Place{}, fmt.Errorf("%w: place %q: %w", ErrValidation, query, err)
	}
	return place, nil
}

// lookupPlace asks the resolver for an exact match, then retries without a
// leading "The", then settles for the most relevant candidate.
func (n *Normalizer) lookupPlace(ctx context.Context, query string) (Place, error) {
	candidates, lookupErr := n.resolver.LookupPlaces(ctx, query)
	if lookupErr != nil {
		if ctx.Err() != nil {
			return Place{}, fmt.Errorf("lookup place %q: %w", query, lookupErr)
		}
		n.logger.Warn("place lookup failed", "query", query, "error", lookupErr)
	}
	if p, ok := exactMatch(candidates, query); ok {
		return p, nil
	}

	if trimmed, ok := cutArticle(query); ok {
		n.logger.Warn("no exact place match, retrying without article", "query", query)
		retry, err := n.resolver.LookupPlaces(ctx, trimmed)
		if err != nil {
			if ctx.Err() != nil {
				return Place{}, fmt.Errorf("lookup place %q: %w", trimmed, err)
			}
			n.logger.Warn("place lookup failed", "query", trimmed, "error", err)
			lookupErr = errors.Join(lookupErr, err)
		}
		if p, ok := exactMatch(retry, trimmed); ok {
			return p, nil
		}
		if len(candidates) == 0 {
			candidates = retry
		}
	}

	if len(candidates) > 0 {
		n.logger.Warn("no exact place match, using closest candidate",
			"query", query,
			"candidate", candidates[0].Name,
		)
		return candidates[0], nil
	}
	if lookupErr != nil {
		return Place{}, fmt.Errorf("%w: %q: %w", ErrPlaceNotFound, query, lookupErr)
	}
	return Place{}, fmt.Errorf("%w: %q", ErrPlaceNotFound, query)
}

func exactMatch(candidates []Place, query string) (Place, bool) {
	for _, p := range candidates {
		if strings.EqualFold(p.Name, query) || p.ID == query {
			return p, true
		}
		if p.Scale == "country" && strings.EqualFold(p.CountryID, query) {
			return p, true
		}
	}
	return Place{}, false
}

// checkHazardUnit requires a hazard unit to belong to the hazard's dimension.
func (n *Normalizer) checkHazardUnit(c CanonicalRequest, u Units) error {
	if u.Hazard == "" || c.HazardType == "" {
		return nil
	}
	dim, err := n.reg.HazardDimension(c.HazardType)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if !n.reg.IsValid(dim, u.Hazard) {
		return fmt.Errorf("%w: units_hazard %q is incompatible with hazard %s (allowed: %s)",
			ErrValidation, u.Hazard, c.HazardType, strings.Join(n.reg.ValidUnits(dim), ", "))
	}
	return nil
}

// resolveExposure derives the exposure type from the impact type and checks
// the two agree.
func (n *Normalizer) resolveExposure(ep Endpoint, c *CanonicalRequest) error {
	data := n.reg.Options().Data
	if c.HazardType != "" && c.ExposureType != "" && c.ImpactType == "" {
		return fmt.Errorf("%w: exposure_type %q given without an impact_type", ErrInvariant, c.ExposureType)
	}
	if ep.Has(FieldImpact) {
		if c.ImpactType == "" {
			return fmt.Errorf("%w: impact_type is required for %s", ErrValidation, ep.Widget)
		}
		exposure, ok := data.Impacts[c.ImpactType]
		if !ok {
			return fmt.Errorf("%w: unknown impact_type %q", ErrValidation, c.ImpactType)
		}
		if !slices.Contains(data.Filters[c.HazardType].ScenarioOptions.ImpactType, c.ImpactType) {
			return fmt.Errorf("%w: impact_type %q is not available for hazard %s", ErrValidation, c.ImpactType, c.HazardType)
		}
		if c.ExposureType != "" && c.ExposureType != exposure {
			return fmt.Errorf("%w: exposure_type %q does not match %q inferred from impact_type %q",
				ErrValidation, c.ExposureType, exposure, c.ImpactType)
		}
		c.ExposureType = exposure
		return nil
	}
	if c.ExposureType != "" {
		if _, ok := data.Exposures[c.ExposureType]; !ok {
			return fmt.Errorf("%w: unknown exposure_type %q", ErrValidation, c.ExposureType)
		}
	}
	return nil
}

// resolveUnits validates the exposure, currency, warming and response units,
// rejects two fields naming different units of one dimension, and fills
// every unset field the endpoint carries.
func (n *Normalizer) resolveUnits(ep Endpoint, c CanonicalRequest, u Units) (Units, error) {
	var hazardDim, exposureDim units.Dimension
	if c.HazardType != "" {
		hazardDim, _ = n.reg.HazardDimension(c.HazardType)
	}

	if c.ExposureType != "" {
		valid, err := n.reg.ValidExposureUnits(c.HazardType, c.ExposureType)
		if err != nil {
			return Units{}, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if u.Exposure != "" && !slices.Contains(valid, u.Exposure) {
			return Units{}, fmt.Errorf("%w: units_exposure %q is incompatible with exposure %s (allowed: %s)",
				ErrValidation, u.Exposure, c.ExposureType, strings.Join(valid, ", "))
		}
		exposureDim, _ = n.reg.ExposureDimension(c.ExposureType)
	} else if u.Exposure != "" {
		return Units{}, fmt.Errorf("%w: units_exposure given without an exposure or impact type", ErrValidation)
	}

	if u.Currency != "" && !n.reg.IsValid(units.Currency, u.Currency) {
		return Units{}, fmt.Errorf("%w: units_currency %q is not a supported currency", ErrValidation, u.Currency)
	}
	if exposureDim == units.Currency && u.Exposure != "" && u.Currency != "" && u.Exposure != u.Currency {
		return Units{}, fmt.Errorf("%w: financial exposures and costs must share one currency: cost %s, exposure %s",
			ErrValidation, u.Currency, u.Exposure)
	}

	if u.Warming != "" && !n.reg.IsValid(units.Temperature, u.Warming) {
		return Units{}, fmt.Errorf("%w: %w: units_warming %q is not a temperature unit (allowed: %s)",
			ErrValidation, units.ErrConversion, u.Warming, strings.Join(n.reg.ValidUnits(units.Temperature), ", "))
	}

	var responseDim units.Dimension
	if u.Response != "" {
		dim, err := n.reg.DimensionOf(u.Response)
		if err != nil {
			return Units{}, fmt.Errorf("%w: units_response: %w", ErrValidation, err)
		}
		responseDim = dim
	}

	chosen := make(map[units.Dimension]string)
	from := make(map[units.Dimension]string)
	for _, f := range []struct {
		field string
		unit  string
		dim   units.Dimension
	}{
		{"units_hazard", u.Hazard, hazardDim},
		{"units_exposure", u.Exposure, exposureDim},
		{"units_currency", u.Currency, units.Currency},
		{"units_warming", u.Warming, units.Temperature},
		{"units_response", u.Response, responseDim},
	} {
		if f.unit == "" || f.dim == "" {
			continue
		}
		if prev, ok := chosen[f.dim]; ok && prev != f.unit {
			return Units{}, fmt.Errorf("%w: %s %q and %s %q name different %s units",
				ErrValidation, from[f.dim], prev, f.field, f.unit, f.dim)
		}
		chosen[f.dim] = f.unit
		from[f.dim] = f.field
	}

	pick := func(dim units.Dimension) string {
		if dim == "" {
			return ""
		}
		if unit, ok := chosen[dim]; ok {
			return unit
		}
		return n.reg.DefaultUnit(dim)
	}
	out := Units{Response: u.Response}
	if ep.Has(FieldUnitsHazard) {
		out.Hazard = pick(hazardDim)
	}
	if ep.Has(FieldUnitsExposure) {
		out.Exposure = pick(exposureDim)
	}
	if ep.Has(FieldUnitsCurrency) {
		out.Currency = pick(units.Currency)
	}
	if ep.Has(FieldUnitsWarming) {
		out.Warming = pick(units.Temperature)
	}
	return out, nil
}

func sortedIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
