package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/loykin/teacupreport/internal/model"
	"github.com/loykin/teacupreport/internal/store"
)

// ErrSessionNotFound is returned by Reader.Session for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionLimit caps Sessions when no positive limit is given.
const DefaultSessionLimit = 50

// Session is one session_execution row.
type Session struct {
	ID          int64      `json:"id"`
	Initialized time.Time  `json:"initialized"`
	Terminated  *time.Time `json:"terminated,omitempty"`
}

// Execution is a node's participation in a session with its outcome.
type Execution struct {
	ID       int64      `json:"id"`
	Node     string     `json:"node"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`
	Status   string     `json:"status,omitempty"`
	Error    string     `json:"error,omitempty"`
	Skipped  bool       `json:"skipped"`
	Reason   string     `json:"reason,omitempty"`
}

// LogEntry is a log or session_log row. Execution and Node are empty for
// session logs.
type LogEntry struct {
	ID        int64       `json:"id"`
	Execution int64       `json:"execution,omitempty"`
	Node      string      `json:"node,omitempty"`
	Level     model.Level `json:"level"`
	Message   string      `json:"message"`
	Time      time.Time   `json:"time"`
}

// Reader queries recorded reports.
type Reader struct {
	conn  store.Connector
	stmts *statements
}

func NewReader(c store.Connector) (*Reader, error) {
	if c == nil {
		return nil, errors.New("no connector")
	}
	stmts, err := newStatements(c.Dialect())
	if err != nil {
		return nil, err
	}
	return &Reader{conn: c, stmts: stmts}, nil
}

// Sessions returns the most recent sessions, newest first.
func (r *Reader) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	conn, err := r.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, r.stmts.listSessions, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Session returns one session or ErrSessionNotFound.
func (r *Reader) Session(ctx context.Context, id int64) (Session, error) {
	conn, err := r.conn.Conn(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	sess, err := scanSession(conn.QueryRowContext(ctx, r.stmts.selectSession, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	return sess, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s          Session
		terminated sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.Initialized, &terminated); err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.Terminated = timePtr(terminated)
	return s, nil
}

// Executions returns every execution of a session in registration order.
func (r *Reader) Executions(ctx context.Context, sessionID int64) ([]Execution, error) {
	conn, err := r.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, r.stmts.listExecutions, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Execution{}
	for rows.Next() {
		var (
			e                 Execution
			started, finished sql.NullTime
			status, skippedID sql.NullInt64
			errMsg, reason    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Node, &started, &finished, &status, &errMsg, &skippedID, &reason); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Started = timePtr(started)
		e.Finished = timePtr(finished)
		if status.Valid {
			st, err := model.StatusFromOrdinal(int(status.Int64))
			if err != nil {
				return nil, fmt.Errorf("execution %d: %w", e.ID, err)
			}
			e.Status = st.String()
		}
		e.Error = errMsg.String
		e.Skipped = skippedID.Valid
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Logs returns the session's log lines, both session level and per
// execution, ordered by time.
func (r *Reader) Logs(ctx context.Context, sessionID int64) ([]LogEntry, error) {
	conn, err := r.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	out := []LogEntry{}
	sessionLogs, err := r.queryLogs(ctx, conn, r.stmts.listSessLogs, sessionID, false)
	if err != nil {
		return nil, err
	}
	out = append(out, sessionLogs...)

	execLogs, err := r.queryLogs(ctx, conn, r.stmts.listLogs, sessionID, true)
	if err != nil {
		return nil, err
	}
	out = append(out, execLogs...)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (r *Reader) queryLogs(ctx context.Context, conn *sql.Conn, query string, sessionID int64, withExecution bool) ([]LogEntry, error) {
	rows, err := conn.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []LogEntry
	for rows.Next() {
		var (
			l     LogEntry
			level int
			msg   sql.NullString
		)
		dest := []any{&l.ID, &level, &msg, &l.Time}
		if withExecution {
			dest = []any{&l.ID, &l.Execution, &l.Node, &level, &msg, &l.Time}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		lv, err := model.LevelFromOrdinal(level)
		if err != nil {
			return nil, fmt.Errorf("log %d: %w", l.ID, err)
		}
		l.Level = lv
		l.Message = msg.String
		out = append(out, l)
	}
	return out, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
