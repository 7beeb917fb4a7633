package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/database"
	"github.com/stanstork/datafactory/internal/models"
)

// HistoryRepository is the append-mostly ledger of executions and their logs.
// The only in-place update it permits is the running -> terminal transition.
type HistoryRepository interface {
	BeginExecution(ctx context.Context, job models.Job, trigger models.Trigger) (models.Execution, error)
	CompleteExecution(ctx context.Context, executionID int64, outcome models.Outcome) (models.Execution, error)
	AppendLog(ctx context.Context, executionID int64, level models.LogLevel, message string) error
	GetExecution(ctx context.Context, executionID int64) (models.Execution, error)
	GetHistory(ctx context.Context, filter models.HistoryFilter) ([]models.Execution, error)
	GetLogs(ctx context.Context, executionID int64) ([]models.LogEntry, error)
	FailInterrupted(ctx context.Context, reason string) (int64, error)
}

type historyRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewHistoryRepository(db *sql.DB, dialect database.Dialect) HistoryRepository {
	return &historyRepository{db: db, dialect: dialect}
}

const executionColumns = `execution_id, job_id, job_name, trigger_type, status, started_at,
	completed_at, records_processed, error_message`

func scanExecution(row rowScanner) (models.Execution, error) {
	var (
		exec                 models.Execution
		startedAt, completed timestamp
		records              sql.NullInt64
		errMsg               sql.NullString
	)
	err := row.Scan(
		&exec.ID,
		&exec.JobID,
		&exec.JobName,
		&exec.Trigger,
		&exec.Status,
		&startedAt,
		&completed,
		&records,
		&errMsg,
	)
	if err != nil {
		return exec, err
	}
	exec.StartedAt = startedAt.Time
	exec.CompletedAt = completed.Ptr()
	exec.RecordsProcessed = int64Ptr(records)
	exec.ErrorMessage = stringPtr(errMsg)
	return exec, nil
}

func (r *historyRepository) q(query string) string {
	return database.Rebind(r.dialect, query)
}

// BeginExecution records a running execution. A second running row for the
// same job is refused both here and by the partial unique index on the table.
func (r *historyRepository) BeginExecution(ctx context.Context, job models.Job, trigger models.Trigger) (models.Execution, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Execution{}, pkgerrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var running int64
	err = tx.QueryRowContext(ctx,
		r.q(`SELECT execution_id FROM job_history WHERE job_id = ? AND status = 'running'`),
		job.ID,
	).Scan(&running)
	switch {
	case err == nil:
		return models.Execution{}, apperrors.Conflictf("job %d already running (execution %d)", job.ID, running)
	case !errors.Is(err, sql.ErrNoRows):
		return models.Execution{}, pkgerrors.Wrap(err, "failed to check running executions")
	}

	query := `
		INSERT INTO job_history (job_id, job_name, trigger_type, status, started_at)
		VALUES (?, ?, ?, 'running', ?)
		RETURNING ` + executionColumns
	exec, err := scanExecution(tx.QueryRowContext(ctx, r.q(query), job.ID, job.Name, string(trigger), now()))
	if err != nil {
		if isUniqueViolation(err) {
			return models.Execution{}, apperrors.Conflictf("job %d already running", job.ID)
		}
		return models.Execution{}, pkgerrors.Wrap(err, "failed to create execution")
	}
	if err := tx.Commit(); err != nil {
		return models.Execution{}, pkgerrors.Wrap(err, "failed to commit execution")
	}
	return exec, nil
}

// CompleteExecution moves a running execution to its terminal status.
// Only the first completion sticks; later ones fail with a state error.
func (r *historyRepository) CompleteExecution(ctx context.Context, executionID int64, outcome models.Outcome) (models.Execution, error) {
	var (
		records sql.NullInt64
		errMsg  sql.NullString
	)
	switch outcome.Status {
	case models.StatusSuccess:
		records = sql.NullInt64{Int64: outcome.RecordsProcessed, Valid: true}
	case models.StatusFailed:
		msg := strings.TrimSpace(outcome.ErrorMessage)
		if msg == "" {
			msg = "unknown error"
		}
		errMsg = sql.NullString{String: msg, Valid: true}
	default:
		return models.Execution{}, apperrors.Statef("%q is not a terminal status", outcome.Status)
	}

	query := `
		UPDATE job_history
		   SET status            = ?,
		       completed_at      = ?,
		       records_processed = ?,
		       error_message     = ?
		 WHERE execution_id = ? AND status = 'running'
		RETURNING ` + executionColumns
	exec, err := scanExecution(r.db.QueryRowContext(ctx, r.q(query),
		string(outcome.Status), now(), records, errMsg, executionID))
	if err == nil {
		return exec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Execution{}, pkgerrors.Wrapf(err, "failed to complete execution %d", executionID)
	}

	existing, err := r.GetExecution(ctx, executionID)
	if err != nil {
		return models.Execution{}, err
	}
	return models.Execution{}, apperrors.Statef("execution %d is already %s", executionID, existing.Status)
}

func (r *historyRepository) AppendLog(ctx context.Context, executionID int64, level models.LogLevel, message string) error {
	_, err := r.db.ExecContext(ctx,
		r.q(`INSERT INTO job_logs (execution_id, timestamp, level, message) VALUES (?, ?, ?, ?)`),
		executionID, now(), string(level), message,
	)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to append log to execution %d", executionID)
	}
	return nil
}

func (r *historyRepository) GetExecution(ctx context.Context, executionID int64) (models.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		r.q(`SELECT `+executionColumns+` FROM job_history WHERE execution_id = ?`), executionID)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return exec, apperrors.NotFoundf("execution %d not found", executionID)
		}
		return exec, pkgerrors.Wrapf(err, "failed to load execution %d", executionID)
	}
	return exec, nil
}

func (r *historyRepository) GetHistory(ctx context.Context, filter models.HistoryFilter) ([]models.Execution, error) {
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`SELECT ` + executionColumns + ` FROM job_history`)
	if filter.JobID != nil {
		sb.WriteString(` WHERE job_id = ?`)
		args = append(args, *filter.JobID)
	}
	sb.WriteString(` ORDER BY started_at DESC, execution_id DESC`)
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.q(sb.String()), args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	executions := make([]models.Execution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

func (r *historyRepository) GetLogs(ctx context.Context, executionID int64) ([]models.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT log_id, execution_id, timestamp, level, message
		  FROM job_logs
		 WHERE execution_id = ?
		 ORDER BY timestamp ASC, log_id ASC`), executionID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query logs")
	}
	defer rows.Close()

	entries := make([]models.LogEntry, 0)
	for rows.Next() {
		var (
			entry models.LogEntry
			ts    timestamp
		)
		if err := rows.Scan(&entry.ID, &entry.ExecutionID, &ts, &entry.Level, &entry.Message); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan log entry")
		}
		entry.Timestamp = ts.Time
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FailInterrupted closes out executions left running by a previous process.
func (r *historyRepository) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE job_history
		   SET status = 'failed', completed_at = ?, error_message = ?
		 WHERE status = 'running'`), now(), reason)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to fail interrupted executions")
	}
	return res.RowsAffected()
}
