package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is an unprocessed record read from the engine results topic.
type Message struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ParseJobResult decodes and validates an engine result. The job ID falls
// back to the message key when the payload omits it, and the completion time
// to the message timestamp, then to the package clock.
func ParseJobResult(msg Message) (JobResult, error) {
	var r JobResult
	if err := json.Unmarshal(msg.Value, &r); err != nil {
		return JobResult{}, fmt.Errorf("%w: decode job result: %w", ErrValidation, err)
	}
	if r.JobID == "" {
		r.JobID = string(msg.Key)
	}
	if r.Widget == "" {
		r.Widget = Widget(msg.Headers["widget"])
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = Timestamp{Time: msg.Timestamp.UTC()}
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = Timestamp{Time: Now()}
	}
	if err := r.Validate(); err != nil {
		return JobResult{}, err
	}
	return r, nil
}
