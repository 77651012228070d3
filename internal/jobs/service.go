// Package jobs runs the widget job lifecycle: submissions are hashed into job
// IDs, looked up in the job log, dispatched to the computation engine when
// new, and read back in the caller's units.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/couchcryptid/climate-risk-api/internal/observability"
	"github.com/couchcryptid/climate-risk-api/internal/units"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Store is the job log.
type Store interface {
	// Get returns domain.ErrJobNotFound for unknown IDs.
	Get(ctx context.Context, id string) (domain.JobRecord, error)
	// Create inserts rec unless a live record with the same ID exists. It
	// returns the stored record and whether rec was the one written.
	Create(ctx context.Context, rec domain.JobRecord) (domain.JobRecord, bool, error)
	Complete(ctx context.Context, id string, result []byte, completedAt, expiresAt time.Time) error
	Fail(ctx context.Context, id string, code int, message string, completedAt, expiresAt time.Time) error
	Recent(ctx context.Context, limit int) ([]domain.JobRecord, error)
}

// Dispatcher hands a job to the computation engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, d domain.JobDispatch) error
}

const (
	defaultTTL      = 24 * time.Hour
	defaultBasePath = "/rest/vizz/widgets"
)

// Service submits and polls widget jobs. It is safe for concurrent use.
type Service struct {
	store      Store
	dispatcher Dispatcher
	normalizer *domain.Normalizer
	conv       *units.Converter
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	ttl        time.Duration
	basePath   string
	group      singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source used for job timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithTTL sets how long a job stays reusable after it was submitted or completed.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithBasePath sets the URL prefix job locations are built under.
func WithBasePath(p string) Option {
	return func(s *Service) { s.basePath = p }
}

// NewService creates a Service.
func NewService(store Store, dispatcher Dispatcher, normalizer *domain.Normalizer, conv *units.Converter,
	logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Service {
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		normalizer: normalizer,
		conv:       conv,
		logger:     logger,
		metrics:    metrics,
		clock:      clockwork.NewRealClock(),
		ttl:        defaultTTL,
		basePath:   defaultBasePath,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit finds or creates the job for a canonical request and returns it in
// the request's units. Concurrent submissions of the same request share one
// lookup and at most one dispatch.
func (s *Service) Submit(ctx context.Context, c domain.CanonicalRequest) (domain.Job, error) {
	id, err := c.JobID()
	if err != nil {
		return domain.Job{}, err
	}

	v, err, shared := s.group.Do(id, func() (any, error) {
		return s.findOrDispatch(ctx, id, c)
	})
	if err != nil {
		return domain.Job{}, err
	}
	if shared {
		s.metrics.JobSubmissions.WithLabelValues("shared").Inc()
	}
	return s.render(ctx, v.(domain.JobRecord), c)
}

// Poll returns a stored job re-expressed in units u.
func (s *Service) Poll(ctx context.Context, w domain.Widget, id string, u domain.Units) (domain.Job, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if rec.Widget != w {
		return domain.Job{}, fmt.Errorf("%w: %s is not a %s job", domain.ErrJobNotFound, id, w)
	}
	c, err := s.normalizer.DecodeCanonical(rec.Request)
	if err != nil {
		return domain.Job{}, err
	}
	c, err = s.normalizer.Retarget(c, u)
	if err != nil {
		return domain.Job{}, err
	}
	return s.render(ctx, rec, c)
}

// Recent returns the most recently submitted jobs, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	return s.store.Recent(ctx, limit)
}

func (s *Service) findOrDispatch(ctx context.Context, id string, c domain.CanonicalRequest) (domain.JobRecord, error) {
	now := s.clock.Now().UTC()

	rec, err := s.store.Get(ctx, id)
	switch {
	case err == nil && !expired(rec, now):
		s.metrics.JobSubmissions.WithLabelValues("cached").Inc()
		return rec, nil
	case err != nil && !errors.Is(err, domain.ErrJobNotFound):
		return domain.JobRecord{}, fmt.Errorf("look up job %s: %w", id, err)
	}

	body, err := domain.CanonicalJSON(c.Native())
	if err != nil {
		return domain.JobRecord{}, err
	}
	rec, created, err := s.store.Create(ctx, domain.JobRecord{
		ID:          id,
		Widget:      c.Widget,
		Request:     body,
		Status:      domain.StatusPending,
		SubmittedAt: now,
		ExpiresAt:   now.Add(s.ttl),
	})
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("create job %s: %w", id, err)
	}
	if !created {
		s.metrics.JobSubmissions.WithLabelValues("cached").Inc()
		return rec, nil
	}

	err = s.dispatcher.Dispatch(ctx, domain.JobDispatch{
		JobID:       id,
		Widget:      c.Widget,
		Request:     body,
		SubmittedAt: domain.Timestamp{Time: now},
	})
	if err != nil {
		s.metrics.JobSubmissions.WithLabelValues("failed").Inc()
		s.logger.Error("job dispatch failed", "error", err, "job_id", id, "widget", c.Widget)
		// Expire at once so the next submission dispatches again.
		msg := "job could not be dispatched"
		if ferr := s.store.Fail(ctx, id, http.StatusServiceUnavailable, msg, now, now); ferr != nil {
			s.logger.Error("mark job failed", "error", ferr, "job_id", id)
		}
		return domain.JobRecord{}, fmt.Errorf("dispatch job %s: %w", id, err)
	}

	s.metrics.JobSubmissions.WithLabelValues("dispatched").Inc()
	s.logger.Info("job dispatched", "job_id", id, "widget", c.Widget)
	return rec, nil
}

// render builds the job resource. Stored results are decoded into a fresh
// value and converted; the stored bytes are never touched.
func (s *Service) render(ctx context.Context, rec domain.JobRecord, c domain.CanonicalRequest) (domain.Job, error) {
	request, err := domain.CanonicalJSON(c)
	if err != nil {
		return domain.Job{}, err
	}
	job := domain.Job{
		JobID:       rec.ID,
		Location:    fmt.Sprintf("%s/%s/%s", s.basePath, rec.Widget, rec.ID),
		Status:      rec.Status,
		Request:     request,
		SubmittedAt: domain.NewTimestamp(rec.SubmittedAt),
		CompletedAt: domain.NewTimestamp(rec.CompletedAt),
		ExpiresAt:   domain.NewTimestamp(rec.ExpiresAt),
	}

	switch rec.Status {
	case domain.StatusSuccess:
		resp, err := domain.DecodeResponse(rec.Widget, rec.Result)
		if err != nil {
			return domain.Job{}, err
		}
		if err := domain.Convert(ctx, s.conv, resp, c.Targets()); err != nil {
			s.metrics.Conversions.WithLabelValues("error").Inc()
			return domain.Job{}, fmt.Errorf("convert job %s: %w", rec.ID, err)
		}
		s.metrics.Conversions.WithLabelValues("success").Inc()
		job.Response = resp
		job.ResponseURI = domain.ResponseURI(rec.Result)
	case domain.StatusFailure:
		code, msg := rec.Code, rec.Message
		job.Code, job.Message = &code, &msg
	}
	return job, nil
}

// LoadBatch stores engine results in the job log. Results for jobs the log
// does not know are logged and dropped; any other store error aborts the
// batch so it is retried.
func (s *Service) LoadBatch(ctx context.Context, results []domain.JobResult) error {
	for _, r := range results {
		completed := r.CompletedAt.UTC()
		if r.CompletedAt.IsZero() {
			completed = s.clock.Now().UTC()
		}
		expires := completed.Add(s.ttl)

		var err error
		if r.Status == domain.StatusSuccess {
			err = s.store.Complete(ctx, r.JobID, r.Response, completed, expires)
		} else {
			err = s.store.Fail(ctx, r.JobID, r.Code, r.Message, completed, expires)
		}
		if errors.Is(err, domain.ErrJobNotFound) {
			s.logger.Warn("result for unknown job, dropping", "job_id", r.JobID, "widget", r.Widget)
			continue
		}
		if err != nil {
			return fmt.Errorf("store result %s: %w", r.JobID, err)
		}
	}
	return nil
}

func expired(rec domain.JobRecord, now time.Time) bool {
	return !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt)
}
