package repository

import (
	"context"
	"database/sql"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/database"
	"github.com/stanstork/datafactory/internal/models"
)

type JobRepository interface {
	Create(ctx context.Context, in models.JobInput) (models.Job, error)
	Get(ctx context.Context, jobID int64) (models.Job, error)
	GetByName(ctx context.Context, name string) (models.Job, error)
	Update(ctx context.Context, jobID int64, patch models.JobPatch) (models.Job, error)
	Delete(ctx context.Context, jobID int64) error
	List(ctx context.Context) ([]models.Job, error)
	ListWithLastRun(ctx context.Context) ([]models.JobWithLastRun, error)
	GetWithLastRun(ctx context.Context, jobID int64) (models.JobWithLastRun, error)
}

type jobRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewJobRepository(db *sql.DB, dialect database.Dialect) JobRepository {
	return &jobRepository{db: db, dialect: dialect}
}

const jobColumns = `job_id, job_name, source_type, source_config, sink_type, sink_config,
	source_query, schedule, enabled, created_at, updated_at`

func scanJob(row rowScanner) (models.Job, error) {
	var (
		job                  models.Job
		query, sched         sql.NullString
		createdAt, updatedAt timestamp
	)
	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.SourceType,
		&job.SourceConfig,
		&job.SinkType,
		&job.SinkConfig,
		&query,
		&sched,
		&job.Enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return job, err
	}
	job.Query = query.String
	job.Schedule = sched.String
	job.CreatedAt = createdAt.Time
	job.UpdatedAt = updatedAt.Time
	return job, nil
}

func (r *jobRepository) q(query string) string {
	return database.Rebind(r.dialect, query)
}

// checkName rejects a name already held by a job other than exceptID.
func (r *jobRepository) checkName(ctx context.Context, name string, exceptID int64) error {
	var id int64
	err := r.db.QueryRowContext(ctx, r.q(`SELECT job_id FROM jobs WHERE job_name = ?`), name).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return pkgerrors.Wrap(err, "failed to check job name")
	case id != exceptID:
		return apperrors.Validationf("job name %q already exists", name)
	}
	return nil
}

func (r *jobRepository) Create(ctx context.Context, in models.JobInput) (models.Job, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return models.Job{}, err
	}
	if err := r.checkName(ctx, in.Name, 0); err != nil {
		return models.Job{}, err
	}

	ts := now()
	query := `
		INSERT INTO jobs (job_name, source_type, source_config, sink_type, sink_config,
			source_query, schedule, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, r.q(query),
		in.Name,
		in.SourceType,
		in.SourceConfig,
		in.SinkType,
		in.SinkConfig,
		nullString(in.Query),
		nullString(in.Schedule),
		*in.Enabled,
		ts,
		ts,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Job{}, apperrors.Validationf("job name %q already exists", in.Name)
		}
		return models.Job{}, pkgerrors.Wrap(err, "failed to create job")
	}
	return job, nil
}

func (r *jobRepository) Get(ctx context.Context, jobID int64) (models.Job, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`), jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, apperrors.NotFoundf("job %d not found", jobID)
		}
		return job, pkgerrors.Wrapf(err, "failed to load job %d", jobID)
	}
	return job, nil
}

func (r *jobRepository) GetByName(ctx context.Context, name string) (models.Job, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+jobColumns+` FROM jobs WHERE job_name = ?`), name)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, apperrors.NotFoundf("job %q not found", name)
		}
		return job, pkgerrors.Wrapf(err, "failed to load job %q", name)
	}
	return job, nil
}

func (r *jobRepository) Update(ctx context.Context, jobID int64, patch models.JobPatch) (models.Job, error) {
	current, err := r.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}

	in := patch.Apply(current)
	if err := in.Validate(); err != nil {
		return models.Job{}, err
	}
	if err := r.checkName(ctx, in.Name, jobID); err != nil {
		return models.Job{}, err
	}

	query := `
		UPDATE jobs
		   SET job_name      = ?,
		       source_type   = ?,
		       source_config = ?,
		       sink_type     = ?,
		       sink_config   = ?,
		       source_query  = ?,
		       schedule      = ?,
		       enabled       = ?,
		       updated_at    = ?
		 WHERE job_id = ?
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRowContext(ctx, r.q(query),
		in.Name,
		in.SourceType,
		in.SourceConfig,
		in.SinkType,
		in.SinkConfig,
		nullString(in.Query),
		nullString(in.Schedule),
		*in.Enabled,
		now(),
		jobID,
	))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return models.Job{}, apperrors.NotFoundf("job %d not found", jobID)
		case isUniqueViolation(err):
			return models.Job{}, apperrors.Validationf("job name %q already exists", in.Name)
		}
		return models.Job{}, pkgerrors.Wrapf(err, "failed to update job %d", jobID)
	}
	return job, nil
}

// Delete removes the job definition only; its executions and logs stay.
func (r *jobRepository) Delete(ctx context.Context, jobID int64) error {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM jobs WHERE job_id = ?`), jobID)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to delete job %d", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return apperrors.NotFoundf("job %d not found", jobID)
	}
	return nil
}

func (r *jobRepository) List(ctx context.Context) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY job_id ASC`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// jobWithLastRunQuery pairs jobs with their most recent execution in a
// single statement, so a concurrently completing run is seen either
// entirely or not at all.
const jobWithLastRunQuery = `
		SELECT
			j.job_id, j.job_name, j.source_type, j.source_config, j.sink_type, j.sink_config,
			j.source_query, j.schedule, j.enabled, j.created_at, j.updated_at,
			h.execution_id, h.job_name, h.trigger_type, h.status, h.started_at,
			h.completed_at, h.records_processed, h.error_message
		FROM jobs j
		LEFT JOIN (
			SELECT execution_id, job_id, job_name, trigger_type, status, started_at,
			       completed_at, records_processed, error_message,
			       ROW_NUMBER() OVER (PARTITION BY job_id ORDER BY started_at DESC, execution_id DESC) AS rn
			  FROM job_history
		) h ON h.job_id = j.job_id AND h.rn = 1
`

func scanJobWithLastRun(row rowScanner) (models.JobWithLastRun, error) {
	var (
		item                  models.JobWithLastRun
		srcQuery, sched       sql.NullString
		createdAt, updatedAt  timestamp
		execID, records       sql.NullInt64
		execName, trig, state sql.NullString
		errMsg                sql.NullString
		startedAt, completed  timestamp
	)
	if err := row.Scan(
		&item.ID, &item.Name, &item.SourceType, &item.SourceConfig, &item.SinkType, &item.SinkConfig,
		&srcQuery, &sched, &item.Enabled, &createdAt, &updatedAt,
		&execID, &execName, &trig, &state, &startedAt,
		&completed, &records, &errMsg,
	); err != nil {
		return item, err
	}
	item.Query = srcQuery.String
	item.Schedule = sched.String
	item.CreatedAt = createdAt.Time
	item.UpdatedAt = updatedAt.Time
	if execID.Valid {
		item.LastRun = &models.Execution{
			ID:               execID.Int64,
			JobID:            item.ID,
			JobName:          execName.String,
			Trigger:          models.Trigger(trig.String),
			Status:           models.ExecutionStatus(state.String),
			StartedAt:        startedAt.Time,
			CompletedAt:      completed.Ptr(),
			RecordsProcessed: int64Ptr(records),
			ErrorMessage:     stringPtr(errMsg),
		}
	}
	return item, nil
}

func (r *jobRepository) ListWithLastRun(ctx context.Context) ([]models.JobWithLastRun, error) {
	rows, err := r.db.QueryContext(ctx, jobWithLastRunQuery+` ORDER BY j.job_id ASC`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list jobs with last run")
	}
	defer rows.Close()

	result := make([]models.JobWithLastRun, 0)
	for rows.Next() {
		item, err := scanJobWithLastRun(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan job with last run")
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (r *jobRepository) GetWithLastRun(ctx context.Context, jobID int64) (models.JobWithLastRun, error) {
	row := r.db.QueryRowContext(ctx, r.q(jobWithLastRunQuery+` WHERE j.job_id = ?`), jobID)
	item, err := scanJobWithLastRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return item, apperrors.NotFoundf("job %d not found", jobID)
		}
		return item, pkgerrors.Wrapf(err, "failed to load job %d", jobID)
	}
	return item, nil
}
