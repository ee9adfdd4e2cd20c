package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tbrandt/adscout/internal/errs"
	"github.com/tbrandt/adscout/internal/models"
)

// JobRegistry IS THE RAW-SQL PERSISTENCE LAYER FOR SCHEDULED JOB CONFIGURATIONS, GROUNDED
// IN original_source/repositories/scheduler.py
type JobRegistry struct {
	db *sql.DB
}

// NewJobRegistry WRAPS db
func NewJobRegistry(db *sql.DB) *JobRegistry {
	return &JobRegistry{db: db}
}

// Create INSERTS A NEW JOB. RETURNS errs.ErrNameTaken IF name ALREADY EXISTS.
func (r *JobRegistry) Create(ctx context.Context, job models.ScheduledJob) (models.ScheduledJob, error) {
	if job.Name == "" {
		return models.ScheduledJob{}, errs.New(errs.Validation, "job name must not be empty", nil)
	}
	if _, err := r.GetByName(ctx, job.Name); err == nil {
		return models.ScheduledJob{}, errs.New(errs.Validation, fmt.Sprintf("job name %q already exists", job.Name), errs.ErrNameTaken)
	} else if err != errs.ErrNotFound {
		return models.ScheduledJob{}, err
	}

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.PageCount <= 0 {
		job.PageCount = 1
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (
			name, query, location, radius, min_price, max_price, page_count, interval_seconds, is_active,
			last_run_status, last_run_message, last_result_count, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.Name, job.Query, job.Location, job.Radius, job.MinPrice, job.MaxPrice,
		job.PageCount, job.IntervalSeconds, job.IsActive,
		nullableString(job.LastRunStatus), nullableString(job.LastRunMessage), job.LastResultCount, now, now,
	)
	if err != nil {
		return models.ScheduledJob{}, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.ScheduledJob{}, fmt.Errorf("read inserted job id: %w", err)
	}
	job.ID = id
	return job, nil
}

// JobPatch IS A PARTIAL UPDATE: ONLY NON-NIL FIELDS ARE APPLIED
type JobPatch struct {
	Query           *string
	Location        *string
	Radius          **float64
	MinPrice        **float64
	MaxPrice        **float64
	PageCount       *int
	IntervalSeconds *int
	IsActive        *bool
}

// Update APPLIES A PARTIAL PATCH TO AN EXISTING JOB BY ID
func (r *JobRegistry) Update(ctx context.Context, id int64, patch JobPatch) (models.ScheduledJob, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return models.ScheduledJob{}, err
	}

	if patch.Query != nil {
		job.Query = *patch.Query
	}
	if patch.Location != nil {
		job.Location = *patch.Location
	}
	if patch.Radius != nil {
		job.Radius = *patch.Radius
	}
	if patch.MinPrice != nil {
		job.MinPrice = *patch.MinPrice
	}
	if patch.MaxPrice != nil {
		job.MaxPrice = *patch.MaxPrice
	}
	if patch.PageCount != nil {
		job.PageCount = *patch.PageCount
	}
	if patch.IntervalSeconds != nil {
		job.IntervalSeconds = *patch.IntervalSeconds
	}
	if patch.IsActive != nil {
		job.IsActive = *patch.IsActive
	}
	job.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET query=?, location=?, radius=?, min_price=?, max_price=?,
			page_count=?, interval_seconds=?, is_active=?, updated_at=?
		WHERE id=?`,
		job.Query, job.Location, job.Radius, job.MinPrice, job.MaxPrice,
		job.PageCount, job.IntervalSeconds, job.IsActive, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return models.ScheduledJob{}, fmt.Errorf("update job %d: %w", id, err)
	}
	return job, nil
}

// UpdateBookkeeping RECORDS THE OUTCOME OF ONE RUN (last_run_at/status/message/duration,
// last_result_count, next_run_at)
func (r *JobRegistry) UpdateBookkeeping(ctx context.Context, id int64, status, message string, durationSeconds float64, resultCount int, nextRunAt time.Time) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_run_at=?, next_run_at=?, last_run_status=?, last_run_message=?,
			last_run_duration_seconds=?, last_result_count=?, updated_at=?
		WHERE id=?`,
		now, nextRunAt, status, nullableString(message), durationSeconds, resultCount, now, id,
	)
	if err != nil {
		return fmt.Errorf("update job bookkeeping %d: %w", id, err)
	}
	return nil
}

// Delete REMOVES A JOB BY ID
func (r *JobRegistry) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Get LOOKS UP A JOB BY ITS INTERNAL ID
func (r *JobRegistry) Get(ctx context.Context, id int64) (models.ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx, jobSelect+" WHERE id=?", id)
	return scanJob(row)
}

// GetByName LOOKS UP A JOB BY ITS UNIQUE NAME
func (r *JobRegistry) GetByName(ctx context.Context, name string) (models.ScheduledJob, error) {
	row := r.db.QueryRowContext(ctx, jobSelect+" WHERE name=?", name)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return models.ScheduledJob{}, errs.ErrNotFound
	}
	return job, err
}

// List RETURNS ALL CONFIGURED JOBS ORDERED BY NAME
func (r *JobRegistry) List(ctx context.Context) ([]models.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, jobSelect+" ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const jobSelect = `
	SELECT id, name, query, location, radius, min_price, max_price, page_count, interval_seconds, is_active,
		last_run_at, next_run_at, last_run_status, last_run_message, last_run_duration_seconds, last_result_count,
		created_at, updated_at
	FROM scheduled_jobs`

func scanJob(row rowScanner) (models.ScheduledJob, error) {
	var j models.ScheduledJob
	var query, location sql.NullString
	var radius, minPrice, maxPrice sql.NullFloat64
	var lastRunAt, nextRunAt sql.NullTime
	var lastRunStatus, lastRunMessage sql.NullString
	var lastRunDuration sql.NullFloat64

	err := row.Scan(
		&j.ID, &j.Name, &query, &location, &radius, &minPrice, &maxPrice, &j.PageCount, &j.IntervalSeconds, &j.IsActive,
		&lastRunAt, &nextRunAt, &lastRunStatus, &lastRunMessage, &lastRunDuration, &j.LastResultCount,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.ScheduledJob{}, errs.ErrNotFound
		}
		return models.ScheduledJob{}, err
	}

	j.Query = query.String
	j.Location = location.String
	if radius.Valid {
		v := radius.Float64
		j.Radius = &v
	}
	if minPrice.Valid {
		v := minPrice.Float64
		j.MinPrice = &v
	}
	if maxPrice.Valid {
		v := maxPrice.Float64
		j.MaxPrice = &v
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		j.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		j.NextRunAt = &t
	}
	j.LastRunStatus = lastRunStatus.String
	j.LastRunMessage = lastRunMessage.String
	j.LastRunDurationSeconds = lastRunDuration.Float64

	return j, nil
}
