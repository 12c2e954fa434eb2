package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/teacupreport/internal/model"
	"github.com/loykin/teacupreport/internal/report"
	"github.com/loykin/teacupreport/internal/store"
)

const sample = `
nodes:
  - name: checkout
    children:
      - name: checkout.cart
      - name: checkout.pay
  - name: search
events:
  - op: initialize
  - op: initialized
  - op: log
    level: config
    message: "browser {0}"
    params: [firefox]
  - op: started
    node: checkout.cart
    at: 2024-05-17T10:00:00Z
  - op: log
    node: checkout.cart
    message: adding item
    at: 2024-05-17T10:00:01Z
  - op: finished
    node: checkout.cart
    status: successful
    at: 2024-05-17T10:00:02Z
  - op: started
    node: checkout.pay
  - op: finished
    node: checkout.pay
    status: FAILED
    error: card declined
  - op: skipped
    node: search
    reason: index not ready
  - op: terminated
`

type call struct {
	op   Op
	node string
	arg  string
}

type fakeRecorder struct {
	calls []call
	roots []string
}

func name(n model.Node) string {
	if n == nil {
		return ""
	}
	return n.Name()
}

func (f *fakeRecorder) Initialize(context.Context) { f.calls = append(f.calls, call{op: OpInitialize}) }
func (f *fakeRecorder) Initialized(_ context.Context, nodes []model.Node) {
	for _, n := range nodes {
		f.roots = append(f.roots, n.Name())
	}
	f.calls = append(f.calls, call{op: OpInitialized})
}
func (f *fakeRecorder) Started(_ context.Context, n model.Node) {
	f.calls = append(f.calls, call{op: OpStarted, node: name(n)})
}
func (f *fakeRecorder) Log(_ context.Context, rec model.LogRecord, n model.Node) {
	f.calls = append(f.calls, call{op: OpLog, node: name(n), arg: string(rec.Level) + ":" + rec.FormattedMessage()})
}
func (f *fakeRecorder) Skipped(_ context.Context, n model.Node, reason string) {
	f.calls = append(f.calls, call{op: OpSkipped, node: name(n), arg: reason})
}
func (f *fakeRecorder) Finished(_ context.Context, n model.Node, res model.Result) {
	arg := res.Status().String()
	if res.Err() != nil {
		arg += ":" + res.Err().Error()
	}
	f.calls = append(f.calls, call{op: OpFinished, node: name(n), arg: arg})
}
func (f *fakeRecorder) Terminated(context.Context) { f.calls = append(f.calls, call{op: OpTerminated}) }

func TestRunIssuesEventsInOrder(t *testing.T) {
	sc, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f := &fakeRecorder{}
	if err := Run(context.Background(), f, sc); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []call{
		{op: OpInitialize},
		{op: OpInitialized},
		{op: OpLog, arg: "CONFIG:browser firefox"},
		{op: OpStarted, node: "checkout.cart"},
		{op: OpLog, node: "checkout.cart", arg: "INFO:adding item"},
		{op: OpFinished, node: "checkout.cart", arg: "successful"},
		{op: OpStarted, node: "checkout.pay"},
		{op: OpFinished, node: "checkout.pay", arg: "failed:card declined"},
		{op: OpSkipped, node: "search", arg: "index not ready"},
		{op: OpTerminated},
	}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %+v", f.calls)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, f.calls[i], want[i])
		}
	}
	if strings.Join(f.roots, ",") != "checkout,search" {
		t.Fatalf("initialized roots = %v", f.roots)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown op", "events:\n  - op: exploded\n", "unknown op"},
		{"unknown node", "nodes:\n  - name: a\nevents:\n  - op: started\n    node: b\n", "unknown node"},
		{"duplicate node", "nodes:\n  - name: a\n    children:\n      - name: a\n", "duplicate node"},
		{"empty name", "nodes:\n  - name: ''\n", "requires name"},
		{"bad status", "nodes:\n  - name: a\nevents:\n  - op: finished\n    node: a\n    status: green\n", "unknown status"},
		{"missing status", "nodes:\n  - name: a\nevents:\n  - op: finished\n    node: a\n", "unknown status"},
		{"initialized subset", "nodes:\n  - name: a\nevents:\n  - op: initialized\n    nodes: [z]\n", "unknown node"},
		{"broken yaml", "nodes: [", "parse scenario"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sc, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeRecorder{}
	if err := Run(ctx, f, sc); err == nil {
		t.Fatalf("expected context error")
	}
	if len(f.calls) != 0 {
		t.Fatalf("calls issued after cancel: %+v", f.calls)
	}
}

func TestReplayIntoSQLite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	sc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	db, err := store.NewSQLite(store.Config{Path: filepath.Join(dir, "report.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := Run(ctx, report.New(db), sc); err != nil {
		t.Fatalf("run: %v", err)
	}

	r, err := report.NewReader(db)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	sessions, err := r.Sessions(ctx, 0)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %+v, %v", sessions, err)
	}
	execs, err := r.Executions(ctx, sessions[0].ID)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	got := make(map[string]report.Execution)
	for _, e := range execs {
		got[e.Node] = e
	}
	if len(got) != 4 {
		t.Fatalf("executions = %+v", execs)
	}
	cart := got["checkout.cart"]
	if cart.Status != "successful" || cart.Started == nil || !cart.Started.Equal(time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("cart = %+v", cart)
	}
	if pay := got["checkout.pay"]; pay.Error != "card declined" {
		t.Fatalf("pay = %+v", pay)
	}
	if search := got["search"]; !search.Skipped || search.Reason != "index not ready" {
		t.Fatalf("search = %+v", search)
	}

	logs, err := r.Logs(ctx, sessions[0].ID)
	if err != nil || len(logs) != 2 {
		t.Fatalf("logs = %+v, %v", logs, err)
	}
}
