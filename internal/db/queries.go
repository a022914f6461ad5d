package db

import (
	"database/sql"

	"github.com/capsules-dev/capsules/internal/errors"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	// StatusAbandoned marks runs that never finished because the process exited.
	StatusAbandoned = "abandoned"
)

// Run is one executor job as recorded in the journal.
type Run struct {
	ID           string  `json:"id" yaml:"id"`
	Op           string  `json:"op" yaml:"op"`
	Target       string  `json:"target" yaml:"target"`
	Status       string  `json:"status" yaml:"status"`
	ErrorCode    *string `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	StartedAt    int64   `json:"started_at" yaml:"started_at"`
	FinishedAt   *int64  `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// InsertRun records a run that has just started.
func InsertRun(db *sql.DB, id, op, target string, startedAt int64) error {
	query := `
		INSERT INTO runs (id, op, target, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := db.Exec(query, id, op, target, StatusRunning, startedAt); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// FinishRun records the outcome of a run. Empty code means success.
func FinishRun(db *sql.DB, id string, code, message string, finishedAt int64) error {
	status := StatusSucceeded
	if code != "" {
		status = StatusFailed
	}

	query := `
		UPDATE runs
		SET status = ?, error_code = ?, error_message = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := db.Exec(query, status, toNullString(code), toNullString(message), finishedAt, id, StatusRunning)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("run", id)
	}
	return nil
}

// AbandonUnfinished marks every run still in the running state as abandoned.
// Called at startup, when no job can be in flight.
func AbandonUnfinished(db *sql.DB, now int64) (int64, error) {
	query := `
		UPDATE runs
		SET status = ?, finished_at = ?
		WHERE status = ?
	`
	result, err := db.Exec(query, StatusAbandoned, now, StatusRunning)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// GetRun retrieves a run by its ULID.
func GetRun(db *sql.DB, id string) (*Run, error) {
	query := `
		SELECT id, op, target, status, error_code, error_message, started_at, finished_at
		FROM runs
		WHERE id = ?
	`
	r, err := scanRun(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("run", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. An empty target lists
// runs for every entity.
func ListRuns(db *sql.DB, target string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, op, target, status, error_code, error_message, started_at, finished_at
		FROM runs
	`
	args := []any{}
	if target != "" {
		query += " WHERE target = ?"
		args = append(args, target)
	}
	// ULIDs sort by creation time, which breaks ties within one second.
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return runs, nil
}

// PruneRuns deletes all but the newest keep finished runs.
func PruneRuns(db *sql.DB, keep int) (int64, error) {
	query := `
		DELETE FROM runs
		WHERE status != ? AND id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`
	result, err := db.Exec(query, StatusRunning, keep)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRun scans a single row into a Run.
func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		code       sql.NullString
		message    sql.NullString
		finishedAt sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.Op, &r.Target, &r.Status, &code, &message, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	r.ErrorCode = fromNullString(code)
	r.ErrorMessage = fromNullString(message)
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Int64
	}
	return &r, nil
}

// toNullString maps "" to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
