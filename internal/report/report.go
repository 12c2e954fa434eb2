package report

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/loykin/teacupreport/internal/history"
	"github.com/loykin/teacupreport/internal/metrics"
	"github.com/loykin/teacupreport/internal/model"
	"github.com/loykin/teacupreport/internal/store"
)

// Store records test framework lifecycle callbacks as rows in the report
// schema. None of its lifecycle methods return errors: failures are logged
// and the call returns, leaving at worst some report data missing.
//
// Callbacks are serialized by an internal mutex. Do not route the logger
// given to WithLogger through a handler returned by NewLogHandler for the
// same Store.
type Store struct {
	mu    sync.Mutex
	conn  store.Connector
	stmts *statements
	err   error // dialect could not be rendered; the store stays inert

	logger *slog.Logger
	sinks  []history.Sink
	now    func() time.Time

	sess *session // nil when no session is active
}

// session is the state of one test run, from Initialize to Terminated.
type session struct {
	id         int64
	executions map[model.Node]int64 // node -> execution row id
}

// take returns the execution id for n and forgets the mapping.
func (s *session) take(n model.Node) (int64, bool) {
	id, ok := s.lookup(n)
	if ok {
		delete(s.executions, n)
	}
	return id, ok
}

func (s *session) lookup(n model.Node) (int64, bool) {
	if !trackable(n) {
		return 0, false
	}
	id, ok := s.executions[n]
	return id, ok
}

// trackable reports whether n can key the execution map. A node whose
// dynamic value holds a slice, map or func is not comparable.
func trackable(n model.Node) bool {
	return n != nil && reflect.ValueOf(n).Comparable()
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for warnings and errors.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSinks adds history sinks that receive an event after each
// successful lifecycle write.
func WithSinks(sinks ...history.Sink) Option {
	return func(s *Store) { s.sinks = append(s.sinks, sinks...) }
}

// WithClock replaces time.Now, used for terminated_time and for log
// records without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store over the given connector. No connection is made
// until Initialize.
func New(c store.Connector, opts ...Option) *Store {
	s := &Store{conn: c, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if c == nil {
		s.err = errors.New("no connector")
	} else {
		s.stmts, s.err = newStatements(c.Dialect())
	}
	return s
}

// SessionID returns the active session id.
func (s *Store) SessionID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return 0, false
	}
	return s.sess.id, true
}

// ExecutionID returns the execution row id mapped for n in the active session.
func (s *Store) ExecutionID(n model.Node) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return 0, false
	}
	return s.sess.lookup(n)
}

// Pending returns how many nodes are registered and not yet skipped or finished.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return 0
	}
	return len(s.sess.executions)
}

// Initialize creates the schema if needed and opens a new session.
// Calling it while a session is active replaces that session.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		s.logger.Error("Report store unavailable", "operation", "initialize", "error", s.err)
		return
	}
	conn, ok := s.acquire(ctx, "initialize", nil)
	if !ok {
		return
	}
	defer func() { _ = conn.Close() }()

	for _, ddl := range s.stmts.ddl {
		if err := s.stmts.exec(ctx, conn, "schema", "create", ddl); err != nil {
			s.logger.Error("Failed to create report schema", "operation", "initialize", "error", err)
			return
		}
	}

	id, err := s.stmts.insert(ctx, conn, tableSessionExecution, s.stmts.insertSession)
	if err != nil {
		s.logger.Error("Failed to create report session", "operation", "initialize", "error", err)
		return
	}

	if s.sess != nil {
		s.warn("initialize", nil, "Replacing active report session", nil, "previous_session", s.sess.id)
	}
	s.sess = &session{id: id, executions: make(map[model.Node]int64)}
	metrics.IncSession()
	metrics.SetActiveExecutions(0)
	s.logger.Debug("Report session initialized", "session", id)

	s.publish(ctx, history.Event{Type: history.EventSessionInitialized, SessionID: id})
}

// Initialized registers nodes and all their descendants, parent before
// children, creating node, execution and result rows for each.
func (s *Store) Initialized(ctx context.Context, nodes []model.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil || len(nodes) == 0 {
		return
	}
	conn, ok := s.acquire(ctx, "initialized", nil)
	if !ok {
		return
	}
	defer func() { _ = conn.Close() }()

	stack := make([]model.Node, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		children := n.Nodes()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
		s.register(ctx, conn, sess, n)
	}
	metrics.SetActiveExecutions(len(sess.executions))
}

func (s *Store) register(ctx context.Context, conn *sql.Conn, sess *session, n model.Node) {
	if !trackable(n) {
		s.warn("initialized", n, "Node skipped: not comparable, use a pointer type", nil)
		return
	}
	nodeID, err := s.nodeID(ctx, conn, n.Name())
	if err != nil {
		s.fail("initialized", n, "Failed to register node", err)
		return
	}

	execID, err := s.stmts.insert(ctx, conn, tableExecution, s.stmts.insertExecution, nodeID, sess.id)
	if err != nil {
		s.fail("initialized", n, "Failed to create execution", err)
		return
	}
	sess.executions[n] = execID

	if err := s.stmts.exec(ctx, conn, tableResult, "insert", s.stmts.insertResult, execID); err != nil {
		s.fail("initialized", n, "Failed to create result", err)
	}
}

// nodeID returns the id of the node row named name, inserting it when absent.
func (s *Store) nodeID(ctx context.Context, conn *sql.Conn, name string) (int64, error) {
	id, err := s.stmts.queryID(ctx, conn, tableNode, s.stmts.selectNodeID, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return s.stmts.insert(ctx, conn, tableNode, s.stmts.insertNode, name)
}

// Started records the node's start time on its result row.
func (s *Store) Started(ctx context.Context, n model.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil {
		return
	}
	execID, ok := sess.lookup(n)
	if !ok {
		s.warn("started", n, "Node not expected to start: never initialized", nil)
		return
	}
	conn, ok := s.acquire(ctx, "started", n)
	if !ok {
		return
	}
	defer func() { _ = conn.Close() }()

	if err := s.stmts.exec(ctx, conn, tableResult, "update", s.stmts.updateStarted, nullTime(n.TimeStarted()), execID); err != nil {
		s.fail("started", n, "Failed to record start", err)
		return
	}
	s.publish(ctx, history.Event{Type: history.EventNodeStarted, SessionID: sess.id, Node: n.Name()})
}

// Log stores a log record against the node's execution. Records without
// a node, or for a node with no live execution, go to the session log.
func (s *Store) Log(ctx context.Context, rec model.LogRecord, n model.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil {
		return
	}
	execID, mapped := sess.lookup(n)
	if !mapped && n != nil {
		s.warn("log", n, "Log record for node with no execution stored as session log", nil)
	}

	conn, ok := s.acquire(ctx, "log", n)
	if !ok {
		return
	}
	defer func() { _ = conn.Close() }()

	ts := rec.Time()
	if rec.Millis == 0 {
		ts = s.now()
	}
	args := []any{rec.Level.Ordinal(), rec.FormattedMessage(), ts.UTC()}

	var err error
	if mapped {
		err = s.stmts.exec(ctx, conn, tableLog, "insert", s.stmts.insertLog, append([]any{execID}, args...)...)
	} else {
		err = s.stmts.exec(ctx, conn, tableSessionLog, "insert", s.stmts.insertSessionLog, append([]any{sess.id}, args...)...)
	}
	if err != nil {
		s.fail("log", n, "Failed to store log record", err)
	}
}

// Skipped marks the node's execution as skipped, with an optional reason.
// An empty reason stores no reason row.
func (s *Store) Skipped(ctx context.Context, n model.Node, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil {
		return
	}
	execID, ok := sess.take(n)
	if !ok {
		s.warn("skipped", n, "Node not expected to skip", nil)
		return
	}
	metrics.SetActiveExecutions(len(sess.executions))

	conn, ok := s.acquire(ctx, "skipped", n)
	if !ok {
		return
	}
	defer func() { _ = conn.Close() }()

	skippedID, err := s.stmts.insert(ctx, conn, tableSkipped, s.stmts.insertSkipped, execID)
	if err != nil {
		s.fail("skipped", n, "Failed to record skip", err)
		return
	}
	if reason != "" {
		if err := s.stmts.exec(ctx, conn, tableReason, "insert", s.stmts.insertReason, reason, skippedID); err != nil {
			s.fail("skipped", n, "Failed to record skip reason", err)
		}
	}
	s.publish(ctx, history.Event{Type: history.EventNodeSkipped, SessionID: sess.id, Node: n.Name(), Reason: reason})
}

// Finished records the node's finish time and status, plus an error row
// when the result carries a failure.
func (s *Store) Finished(ctx context.Context, n model.Node, res model.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil {
		return
	}
	execID, ok := sess.take(n)
	if !ok {
		s.warn("finished", n, "Node not expected to finish", nil)
		return
	}
	metrics.SetActiveExecutions(len(sess.executions))

	conn, ok := s.acquire(ctx, "finished", n)
	if !ok {
		return
	}
	defer func() { _ = conn.Close() }()

	var status any
	ev := history.Event{Type: history.EventNodeFinished, SessionID: sess.id, Node: n.Name()}
	if res != nil {
		status = res.Status().Ordinal()
		ev.Status = res.Status().String()
	}
	updated := true
	if err := s.stmts.exec(ctx, conn, tableResult, "update", s.stmts.updateFinished, nullTime(n.TimeFinished()), status, execID); err != nil {
		s.fail("finished", n, "Failed to record finish", err)
		updated = false
	}

	if res != nil && res.Err() != nil {
		ev.Error = res.Err().Error()
		if err := s.recordError(ctx, conn, execID, ev.Error); err != nil {
			s.fail("finished", n, "Failed to record failure detail", err)
		}
	}
	if updated {
		s.publish(ctx, ev)
	}
}

func (s *Store) recordError(ctx context.Context, conn *sql.Conn, execID int64, msg string) error {
	resultID, err := s.stmts.queryID(ctx, conn, tableResult, s.stmts.selectResultID, execID)
	if err != nil {
		return err
	}
	return s.stmts.exec(ctx, conn, tableError, "insert", s.stmts.insertError, msg, resultID)
}

// Terminated closes the active session and forgets every node mapping.
func (s *Store) Terminated(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil {
		return
	}
	s.sess = nil
	clear(sess.executions)
	metrics.SetActiveExecutions(0)

	conn, ok := s.acquire(ctx, "terminated", nil)
	if !ok {
		return
	}
	defer func() { _ = conn.Close() }()

	if err := s.stmts.exec(ctx, conn, tableSessionExecution, "update", s.stmts.updateTerminated, s.now().UTC(), sess.id); err != nil {
		s.fail("terminated", nil, "Failed to close report session", err)
		return
	}
	s.logger.Debug("Report session terminated", "session", sess.id)
	s.publish(ctx, history.Event{Type: history.EventSessionTerminated, SessionID: sess.id})
}

func (s *Store) acquire(ctx context.Context, op string, n model.Node) (*sql.Conn, bool) {
	conn, err := s.conn.Conn(ctx)
	if err != nil {
		s.fail(op, n, "Failed to acquire connection", err)
		return nil, false
	}
	return conn, true
}

// fail logs an operation failure. A missing generated key is a warning;
// anything else is an error.
func (s *Store) fail(op string, n model.Node, msg string, err error) {
	if errors.Is(err, ErrNoGeneratedKey) {
		s.warn(op, n, msg, err)
		return
	}
	s.logger.Error(msg, logAttrs(op, n, err)...)
}

func (s *Store) warn(op string, n model.Node, msg string, err error, extra ...any) {
	metrics.IncWarning(op)
	s.logger.Warn(msg, append(logAttrs(op, n, err), extra...)...)
}

func logAttrs(op string, n model.Node, err error) []any {
	attrs := []any{"operation", op}
	if n != nil {
		attrs = append(attrs, "node", n.Name())
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	return attrs
}

func (s *Store) publish(ctx context.Context, e history.Event) {
	if len(s.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, e); err != nil {
			s.logger.Warn("Failed to send report event", "type", string(e.Type), "error", err)
		}
	}
}
