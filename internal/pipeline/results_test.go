package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/adapter/sqlite"
	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/couchcryptid/climate-risk-api/internal/jobs"
	"github.com/couchcryptid/climate-risk-api/internal/options"
	"github.com/couchcryptid/climate-risk-api/internal/pipeline"
	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopDispatcher struct {
	sent []domain.JobDispatch
}

func (d *nopDispatcher) Dispatch(_ context.Context, job domain.JobDispatch) error {
	d.sent = append(d.sent, job)
	return nil
}

// TestResults_StoredAndServedConverted drives engine results through the
// pipeline into a sqlite job log and polls them back in caller units.
func TestResults_StoredAndServedConverted(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	seed, err := sqlite.DefaultSeed()
	require.NoError(t, err)
	require.NoError(t, db.Seed(ctx, seed))

	doc, err := options.Load()
	require.NoError(t, err)
	reg, err := units.NewRegistry(doc, nil)
	require.NoError(t, err)
	conv := units.NewConverter(reg, units.StaticRates{
		Base:  "USD",
		Rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("0.9")},
	})
	normalizer := domain.NewNormalizer(reg, db.Locations(), logger)

	metrics := newTestMetrics()
	dispatcher := &nopDispatcher{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := jobs.NewService(db.Jobs(), dispatcher, normalizer, conv, logger, metrics,
		jobs.WithClock(clock), jobs.WithTTL(time.Hour))

	c, err := normalizer.Normalize(ctx, domain.WidgetRiskTimeline, domain.Request{
		LocationName: "Havana, Cuba",
		HazardType:   "tropical_cyclone",
		ImpactType:   "economic_impact",
		ScenarioName: "ssp585",
		ScenarioYear: 2080,
	})
	require.NoError(t, err)

	job, err := svc.Submit(ctx, c)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, job.Status)
	require.Len(t, dispatcher.sent, 1)

	response, err := json.Marshal(domain.TimelineWidgetResponse{
		Data: domain.TimelineWidgetData{Chart: domain.Timeline{
			Items: []domain.BreakdownBar{{
				YearLabel:      "2080",
				YearValue:      2080,
				Temperature:    ptr(2.0),
				CurrentClimate: ptr(500.0),
				FutureClimate:  ptr(900.0),
			}},
			UnitsWarming:  "degC",
			UnitsResponse: "USD",
		}},
	})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"widget":       "risk-timeline",
		"status":       "SUCCESS",
		"response":     json.RawMessage(response),
		"completed_at": "2024-06-01T12:05:00.000000Z",
	})
	require.NoError(t, err)

	ext := &mockExtractor{msgs: []domain.Message{
		{Key: []byte(job.JobID), Value: payload, Topic: "climate-results"},
		{Key: []byte("unknown-job"), Value: []byte(`{"widget":"biodiversity","status":"FAILURE","code":500}`)},
		{Key: []byte("garbage"), Value: []byte(`{{{`)},
	}}
	p := pipeline.New(ext, pipeline.NewTransformer(logger), svc, logger, metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	assert.InDelta(t, 1.0, counterValue(t, metrics.ResultErrors), 0)

	got, err := svc.Poll(ctx, domain.WidgetRiskTimeline, job.JobID, domain.Units{
		Exposure: "EUR",
		Warming:  "degF",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC), got.CompletedAt.Time)

	chart := got.Response.(*domain.TimelineWidgetResponse).Data.Chart
	assert.Equal(t, "EUR", chart.UnitsResponse)
	assert.Equal(t, "degF", chart.UnitsWarming)
	assert.InDelta(t, 450.0, *chart.Items[0].CurrentClimate, 1e-9)
	assert.InDelta(t, 3.6, *chart.Items[0].Temperature, 1e-9)

	// The stored result stays in native units.
	rec, err := db.Jobs().Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Contains(t, string(rec.Result), `"units_response":"USD"`)
}

func ptr[T any](v T) *T { return &v }
