package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite/lib"

	"skillswap/internal/config"
)

// Repo is the SQL persistence adapter. It carries no business rules.
type Repo struct {
	DB    *sql.DB
	Retry config.RetryConfig
	// OnRetry, when set, observes every retried transient failure.
	OnRetry func(err error, wait time.Duration)
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConditionNotMet reports a conditional write whose expected state no
	// longer holds. It is a lost race, never a transient fault.
	ErrConditionNotMet = errors.New("condition not met")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrReferenced      = errors.New("still referenced")
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

// InTx runs fn inside a write transaction. Transient lock errors retry the
// whole transaction; any other error from fn rolls back and is returned as is.
func (r Repo) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return r.WithRetry(ctx, func() error {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func formatTSPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTS(*t)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

func parseTSPtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type sqliteCoder interface {
	Code() int
}

func sqliteCode(err error) (int, bool) {
	var c sqliteCoder
	if errors.As(err, &c) {
		return c.Code(), true
	}
	return 0, false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(err.Error(), "UNIQUE")
		}
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		if code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return true
		}
		if code&0xff != sqlite3.SQLITE_CONSTRAINT {
			return false
		}
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
