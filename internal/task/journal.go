package task

import (
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/capsules-dev/capsules/internal/db"
	"github.com/capsules-dev/capsules/internal/errors"
)

// SQLJournal records jobs in the sqlite run journal.
type SQLJournal struct {
	db *sql.DB
}

// NewSQLJournal creates a Journal backed by the runs table.
func NewSQLJournal(conn *sql.DB) *SQLJournal {
	return &SQLJournal{db: conn}
}

// Started implements Journal.
func (j *SQLJournal) Started(id, name, target string, at time.Time) error {
	return db.InsertRun(j.db, id, name, target, at.Unix())
}

// Finished implements Journal.
func (j *SQLJournal) Finished(id string, err error, at time.Time) error {
	if err == nil {
		return db.FinishRun(j.db, id, "", "", at.Unix())
	}
	code := string(errors.ErrInternal)
	msg := err.Error()
	var cErr *errors.CapsuleError
	if stderrors.As(err, &cErr) {
		code = string(cErr.Code)
		msg = cErr.Message
	}
	return db.FinishRun(j.db, id, code, msg, at.Unix())
}
