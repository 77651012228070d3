package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
)

// JobStore implements jobs.Store.
type JobStore struct {
	db *sql.DB
}

const jobColumns = `id, widget, request, status, result, code, message, submitted_at, completed_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.JobRecord, error) {
	var (
		rec                             domain.JobRecord
		widget, status                  string
		code                            sql.NullInt64
		message                         sql.NullString
		submitted, completed, expiresAt sql.NullInt64
	)
	err := row.Scan(&rec.ID, &widget, &rec.Request, &status, &rec.Result, &code, &message, &submitted, &completed, &expiresAt)
	if err != nil {
		return domain.JobRecord{}, err
	}
	rec.Widget = domain.Widget(widget)
	rec.Status = domain.JobStatus(status)
	rec.Code = int(code.Int64)
	rec.Message = message.String
	rec.SubmittedAt = fromMicros(submitted)
	rec.CompletedAt = fromMicros(completed)
	rec.ExpiresAt = fromMicros(expiresAt)
	return rec, nil
}

// Get returns the job with the given ID.
func (s *JobStore) Get(ctx context.Context, id string) (domain.JobRecord, error) {
	return getJob(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getJob(ctx context.Context, q queryer, id string) (domain.JobRecord, error) {
	rec, err := scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobRecord{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

// Create inserts rec, replacing an existing record only once it has expired.
func (s *JobStore) Create(ctx context.Context, rec domain.JobRecord) (domain.JobRecord, bool, error) {
	var (
		stored  domain.JobRecord
		created bool
	)
	err := transaction(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, widget, request, status, submitted_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				widget = excluded.widget,
				request = excluded.request,
				status = excluded.status,
				result = NULL,
				code = NULL,
				message = NULL,
				submitted_at = excluded.submitted_at,
				completed_at = NULL,
				expires_at = excluded.expires_at
			WHERE jobs.expires_at IS NOT NULL AND jobs.expires_at <= excluded.submitted_at`,
			rec.ID, string(rec.Widget), rec.Request, string(rec.Status),
			toMicros(rec.SubmittedAt), toMicros(rec.ExpiresAt),
		)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", rec.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert job %s: %w", rec.ID, err)
		}
		created = n > 0

		stored, err = getJob(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return domain.JobRecord{}, false, err
	}
	return stored, created, nil
}

// Complete records a successful result.
func (s *JobStore) Complete(ctx context.Context, id string, result []byte, completedAt, expiresAt time.Time) error {
	return s.finish(ctx, id, `
		UPDATE jobs SET status = ?, result = ?, code = NULL, message = NULL, completed_at = ?, expires_at = ?
		WHERE id = ?`,
		string(domain.StatusSuccess), result, toMicros(completedAt), toMicros(expiresAt), id,
	)
}

// Fail records a failed job.
func (s *JobStore) Fail(ctx context.Context, id string, code int, message string, completedAt, expiresAt time.Time) error {
	return s.finish(ctx, id, `
		UPDATE jobs SET status = ?, result = NULL, code = ?, message = ?, completed_at = ?, expires_at = ?
		WHERE id = ?`,
		string(domain.StatusFailure), code, message, toMicros(completedAt), toMicros(expiresAt), id,
	)
}

func (s *JobStore) finish(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return nil
}

// Recent returns up to limit jobs, most recently submitted first.
func (s *JobStore) Recent(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY submitted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
