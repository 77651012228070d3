package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusPending JobStatus = "PENDING"
	StatusSuccess JobStatus = "SUCCESS"
	StatusFailure JobStatus = "FAILURE"
)

// Terminal reports whether a job in this state will never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// timestampLayout is ISO-8601 with microseconds.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Timestamp is a time encoded as ISO-8601 with microsecond precision.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, or returns nil for the zero time.
func NewTimestamp(t time.Time) *Timestamp {
	if t.IsZero() {
		return nil
	}
	return &Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(timestampLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = parsed.UTC()
	return nil
}

// JobRecord is one row of the job log: the canonical request hash and, once
// the engine has answered, its result in native units.
type JobRecord struct {
	ID          string
	Widget      Widget
	Request     []byte
	Status      JobStatus
	Result      []byte
	Code        int
	Message     string
	SubmittedAt time.Time
	CompletedAt time.Time
	ExpiresAt   time.Time
}

// Job is the job resource returned to callers.
type Job struct {
	JobID       string          `json:"job_id"`
	Location    string          `json:"location"`
	Status      JobStatus       `json:"status"`
	Request     json.RawMessage `json:"request"`
	SubmittedAt *Timestamp      `json:"submitted_at"`
	CompletedAt *Timestamp      `json:"completed_at"`
	ExpiresAt   *Timestamp      `json:"expires_at"`
	Response    Convertible     `json:"response"`
	ResponseURI *string         `json:"response_uri"`
	Code        *int            `json:"code"`
	Message     *string         `json:"message"`
}

// JobDispatch asks the computation engine to run a job. Request is the
// canonical request in native units.
type JobDispatch struct {
	JobID       string          `json:"job_id"`
	Widget      Widget          `json:"widget"`
	Request     json.RawMessage `json:"request"`
	SubmittedAt Timestamp       `json:"submitted_at"`
}

// JobResult is the engine's answer to a JobDispatch. Response is in native
// units.
type JobResult struct {
	JobID       string          `json:"job_id"`
	Widget      Widget          `json:"widget"`
	Status      JobStatus       `json:"status"`
	Response    json.RawMessage `json:"response,omitempty"`
	Code        int             `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	CompletedAt Timestamp       `json:"completed_at"`
}

// Validate checks a result can be stored: a known terminal status, and for
// successes a response that decodes into the widget's schema.
func (r JobResult) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("%w: result has no job_id", ErrValidation)
	}
	if !r.Status.Terminal() {
		return fmt.Errorf("%w: result for %s has non-terminal status %q", ErrValidation, r.JobID, r.Status)
	}
	if r.Status == StatusSuccess {
		if _, err := DecodeResponse(r.Widget, r.Response); err != nil {
			return fmt.Errorf("%w: result for %s: %w", ErrValidation, r.JobID, err)
		}
	}
	return nil
}

// ResponseURI returns metadata.uri of a stored result, if it has one.
func ResponseURI(result []byte) *string {
	var probe struct {
		Metadata struct {
			URI string `json:"uri"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(result, &probe); err != nil || probe.Metadata.URI == "" {
		return nil
	}
	return &probe.Metadata.URI
}
