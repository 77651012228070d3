package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

type placeList struct {
	Data []domain.Place `json:"data"`
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.api.Normalizer.Registry().Options())
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "query is required"})
		return
	}

	places, err := s.api.Places.LookupPlaces(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if places == nil {
		places = []domain.Place{}
	}
	writeJSON(w, http.StatusOK, placeList{Data: places})
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	places, err := s.api.Locations.All(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, placeList{Data: places})
}

// handleDefaultMeasures lists predefined measures in the caller's units.
// Each read converts fresh copies loaded from the store.
func (s *Server) handleDefaultMeasures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.MeasureFilter{
		Slug:         q.Get("slug"),
		HazardType:   q.Get("hazard_type"),
		ExposureType: q.Get("exposure_type"),
	}
	if raw := q.Get("measure_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "measure_id must be an integer"})
			return
		}
		f.ID = id
	}

	targets, err := measureTargets(s.api.Normalizer.Registry(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	measures, err := s.api.Measures.Defaults(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for i := range measures {
		if err := domain.Convert(r.Context(), s.api.Converter, &measures[i], targets); err != nil {
			s.metrics.Conversions.WithLabelValues("error").Inc()
			s.fail(w, r, err)
			return
		}
	}
	s.metrics.Conversions.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, measures)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	widget, ok := s.widget(w, r)
	if !ok {
		return
	}

	var req domain.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	c, err := s.api.Normalizer.Normalize(r.Context(), widget, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.api.Jobs.Submit(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	widget, ok := s.widget(w, r)
	if !ok {
		return
	}
	id := r.PathValue("job_id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("job %q not found", id)})
		return
	}

	job, err := s.api.Jobs.Poll(r.Context(), widget, id, unitsFromQuery(r.URL.Query()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) widget(w http.ResponseWriter, r *http.Request) (domain.Widget, bool) {
	widget := domain.Widget(r.PathValue("widget"))
	if _, err := domain.EndpointFor(widget); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("unknown widget %q", widget)})
		return "", false
	}
	return widget, true
}

// fail writes the status an error maps to. Errors without a mapping are
// logged and reported as an opaque 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
		)
		writeJSON(w, status, errorBody{Error: "internal server error"})
		return
	}
	s.logger.Debug("request rejected", "error", err, "status", status, "path", r.URL.Path)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, units.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrPlaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrScenarioAmbiguous):
		return http.StatusUnprocessableEntity
	case errors.Is(err, units.ErrUnknownUnit), errors.Is(err, units.ErrConversion),
		errors.Is(err, units.ErrMissingUnitTarget):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func unitsFromQuery(q url.Values) domain.Units {
	return domain.Units{
		Hazard:   q.Get("units_hazard"),
		Exposure: q.Get("units_exposure"),
		Currency: q.Get("units_currency"),
		Warming:  q.Get("units_warming"),
		Response: q.Get("units_response"),
	}
}

// measureTargets starts from the deployment defaults and applies the
// caller's units_currency, units_hazard and units_distance.
func measureTargets(reg *units.Registry, q url.Values) (units.Targets, error) {
	t := reg.Defaults()
	for _, p := range []struct {
		param string
		dim   units.Dimension
	}{
		{"units_currency", units.Currency},
		{"units_distance", units.Distance},
		{"units_hazard", ""},
	} {
		unit := reg.Canonical(q.Get(p.param))
		if unit == "" {
			continue
		}
		dim, err := reg.DimensionOf(unit)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrValidation, p.param, err)
		}
		if p.dim != "" && dim != p.dim {
			return nil, fmt.Errorf("%w: %s %q is not a %s unit", domain.ErrValidation, p.param, unit, p.dim)
		}
		t[dim] = unit
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
