package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
)

// ResultTransformer implements Transformer by decoding and validating engine
// results against the widget response schemas.
type ResultTransformer struct {
	logger *slog.Logger
}

// NewTransformer creates a ResultTransformer.
func NewTransformer(logger *slog.Logger) *ResultTransformer {
	return &ResultTransformer{logger: logger}
}

func (t *ResultTransformer) Transform(_ context.Context, msg domain.Message) (domain.JobResult, error) {
	r, err := domain.ParseJobResult(msg)
	if err != nil {
		return domain.JobResult{}, err
	}
	t.logger.Debug("result received", "job_id", r.JobID, "widget", r.Widget, "status", r.Status)
	return r, nil
}
