package teacupreport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDSN("sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "report.db")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStoreFacadeRecordsSession(t *testing.T) {
	db := openTemp(t)
	var logs bytes.Buffer
	s := New(db, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	ctx := context.Background()

	login := NewTestNode("login")
	suite := NewTestNode("auth", login)

	s.Initialize(ctx)
	s.Initialized(ctx, []Node{suite})
	s.Started(ctx, login)
	s.Log(ctx, NewLogRecord("INFO", "user {0} signed in", "alice"), login)
	s.Finished(ctx, login, NewTestResult(StatusFailed, errors.New("token expired")))
	s.Finished(ctx, suite, NewTestResult(StatusAborted, nil))
	s.Terminated(ctx)

	if strings.Contains(logs.String(), "level=ERROR") {
		t.Fatalf("unexpected errors:\n%s", logs.String())
	}

	r, err := NewReader(db)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	sessions, err := r.Sessions(ctx, 10)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %v, %v", sessions, err)
	}
	execs, err := r.Executions(ctx, sessions[0].ID)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	got := map[string]string{}
	for _, e := range execs {
		got[e.Node] = e.Status + "/" + e.Error
	}
	if got["login"] != "failed/token expired" || got["auth"] != "aborted/" {
		t.Fatalf("unexpected executions: %v", got)
	}
	entries, err := r.Logs(ctx, sessions[0].ID)
	if err != nil || len(entries) != 1 || entries[0].Message != "user alice signed in" {
		t.Fatalf("logs = %+v, %v", entries, err)
	}
}

func TestLogHandlerFacade(t *testing.T) {
	db := openTemp(t)
	s := New(db)
	ctx := context.Background()
	s.Initialize(ctx)

	l := slog.New(NewLogHandler(s, nil, slog.LevelWarn))
	l.Info("dropped")
	l.Warn("disk low", "free_mb", 12)
	s.Terminated(ctx)

	r, _ := NewReader(db)
	sessions, _ := r.Sessions(ctx, 1)
	if len(sessions) != 1 {
		t.Fatalf("expected one session")
	}
	entries, err := r.Logs(ctx, sessions[0].ID)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "disk low free_mb=12" || entries[0].Level != "WARNING" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestOpenDSNErrors(t *testing.T) {
	if _, err := OpenDSN(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if _, err := OpenDSN("redis://localhost"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestConfigHelpers(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "reporter.properties")
	props := "reporter.dialect=postgres\nreporter.postgres.dsn=postgres://u:p@db:5432/reports\n"
	if err := os.WriteFile(p, []byte(props), 0o644); err != nil {
		t.Fatal(err)
	}
	config, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	sc, err := config.StoreConfig()
	if err != nil {
		t.Fatalf("StoreConfig: %v", err)
	}
	if sc.Type != "postgres" || sc.DSN != "postgres://u:p@db:5432/reports" {
		t.Fatalf("unexpected store config: %+v", sc)
	}
}

func TestHistorySinksFacade(t *testing.T) {
	sinks, err := NewHistorySinks(nil)
	if err != nil || len(sinks) != 0 {
		t.Fatalf("empty sink list: %v, %v", sinks, err)
	}
	if _, err := NewHistorySinks([]string{"kafka://broker"}); err == nil {
		t.Fatalf("expected error for unknown sink")
	}
}

func TestHTTPServerFacade(t *testing.T) {
	db := openTemp(t)
	s := New(db)
	ctx := context.Background()
	s.Initialize(ctx)
	s.Terminated(ctx)

	srv, err := NewHTTPServer("127.0.0.1:0", "/reports", db)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/reports/sessions", nil)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var sessions []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &sessions); err != nil || len(sessions) != 1 {
		t.Fatalf("unexpected body %s (%v)", rr.Body.String(), err)
	}
}

func TestMetricsHelpers(t *testing.T) {
	// Register to custom registry and default registry
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}

	db := openTemp(t)
	s := New(db)
	s.Initialize(context.Background())

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "teacup_report_sessions_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sessions counter not exported")
	}
}
