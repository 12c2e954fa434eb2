package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/teacupreport/internal/metrics"
)

// ErrNoGeneratedKey means an insert succeeded but the database returned
// no key for the new row.
var ErrNoGeneratedKey = errors.New("no generated key returned")

// insert runs an INSERT and returns the generated id of the new row.
// Statement failures are returned wrapped; a missing key is reported as
// ErrNoGeneratedKey so callers can tell the two apart.
func (s *statements) insert(ctx context.Context, conn *sql.Conn, table, query string, args ...any) (int64, error) {
	if s.returning {
		var id int64
		err := conn.QueryRowContext(ctx, s.withReturning(query), args...).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			metrics.IncStatement(table, "insert")
			return 0, fmt.Errorf("insert into %s: %w", table, ErrNoGeneratedKey)
		case err != nil:
			metrics.IncStatementError(table, "insert")
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		metrics.IncStatement(table, "insert")
		return id, nil
	}

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		metrics.IncStatementError(table, "insert")
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	metrics.IncStatement(table, "insert")
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w: %v", table, ErrNoGeneratedKey, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("insert into %s: %w", table, ErrNoGeneratedKey)
	}
	return id, nil
}

// exec runs a statement whose generated key is not needed.
func (s *statements) exec(ctx context.Context, conn *sql.Conn, table, op, query string, args ...any) error {
	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		metrics.IncStatementError(table, op)
		return fmt.Errorf("%s %s: %w", op, table, err)
	}
	metrics.IncStatement(table, op)
	return nil
}

// queryID selects a single id. A missing row surfaces as a wrapped sql.ErrNoRows.
func (s *statements) queryID(ctx context.Context, conn *sql.Conn, table, query string, args ...any) (int64, error) {
	var id int64
	if err := conn.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			metrics.IncStatementError(table, "select")
		}
		return 0, fmt.Errorf("select from %s: %w", table, err)
	}
	metrics.IncStatement(table, "select")
	return id, nil
}

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
