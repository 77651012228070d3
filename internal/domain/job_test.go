package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_JSON(t *testing.T) {
	ts := Timestamp{Time: time.Date(2024, 3, 1, 12, 30, 5, 123456789, time.FixedZone("CET", 3600))}

	b, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-01T11:30:05.123456Z"`, string(b))

	var back Timestamp
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Equal(ts.Truncate(time.Microsecond)))

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &back))
}

func TestNewTimestamp(t *testing.T) {
	assert.Nil(t, NewTimestamp(time.Time{}))
	now := time.Now()
	assert.True(t, NewTimestamp(now).Equal(now))
}

func TestJobStatus(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailure.Terminal())
	assert.True(t, StatusPending.Valid())
	assert.False(t, JobStatus("RUNNING").Valid())
}

func TestJobResult_Validate(t *testing.T) {
	timeline, err := json.Marshal(TimelineWidgetResponse{Data: TimelineWidgetData{Chart: *sampleTimeline()}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		result  JobResult
		wantErr bool
	}{
		{"success", JobResult{JobID: "j1", Widget: WidgetRiskTimeline, Status: StatusSuccess, Response: timeline}, false},
		{"failure needs no response", JobResult{JobID: "j1", Widget: WidgetRiskTimeline, Status: StatusFailure, Code: 500, Message: "boom"}, false},
		{"missing id", JobResult{Widget: WidgetRiskTimeline, Status: StatusSuccess, Response: timeline}, true},
		{"pending", JobResult{JobID: "j1", Widget: WidgetRiskTimeline, Status: StatusPending}, true},
		{"undecodable response", JobResult{JobID: "j1", Widget: WidgetRiskTimeline, Status: StatusSuccess, Response: json.RawMessage(`[1,2]`)}, true},
		{"unknown widget", JobResult{JobID: "j1", Widget: "weather", Status: StatusSuccess, Response: timeline}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestResponseURI(t *testing.T) {
	uri := ResponseURI([]byte(`{"data":{},"metadata":{"uri":"https://results.example/abc.json"}}`))
	require.NotNil(t, uri)
	assert.Equal(t, "https://results.example/abc.json", *uri)

	assert.Nil(t, ResponseURI([]byte(`{"metadata":{}}`)))
	assert.Nil(t, ResponseURI([]byte(`not json`)))
}

func TestNow_UsesClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("X", -7200)))
	SetClock(fake)
	t.Cleanup(func() { SetClock(nil) })

	assert.Equal(t, time.Date(2025, 1, 2, 5, 4, 5, 0, time.UTC), Now())
	fake.Advance(time.Minute)
	assert.Equal(t, time.Date(2025, 1, 2, 5, 5, 5, 0, time.UTC), Now())
}
