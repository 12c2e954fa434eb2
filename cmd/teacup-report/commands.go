package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/teacupreport/internal/config"
	"github.com/loykin/teacupreport/internal/history/factory"
	"github.com/loykin/teacupreport/internal/logger"
	"github.com/loykin/teacupreport/internal/metrics"
	"github.com/loykin/teacupreport/internal/replay"
	"github.com/loykin/teacupreport/internal/report"
	"github.com/loykin/teacupreport/internal/server"
	"github.com/loykin/teacupreport/internal/store"
	rtls "github.com/loykin/teacupreport/internal/tls"
)

// command carries what every subcommand needs. Output goes to out so
// tests can capture it.
type command struct {
	global *GlobalFlags
	out    io.Writer
}

func (c command) withOutput(cmd *cobra.Command) command {
	c.out = cmd.OutOrStdout()
	return c
}

// env is the loaded configuration with the reporter's own logger.
type env struct {
	cfg    *config.Config
	log    *slog.Logger
	closer io.Closer
}

func (c command) load() (*env, error) {
	if c.global.EnvFile != "" {
		if err := config.LoadEnvFile(c.global.EnvFile); err != nil {
			return nil, fmt.Errorf("error loading env file: %w", err)
		}
	}
	cfg, err := config.Load(c.global.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	l, closer, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %w", err)
	}
	return &env{cfg: cfg, log: l, closer: closer}, nil
}

func (e *env) openStore() (*store.DB, error) {
	sc, err := e.cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(sc)
}

// Schema prints the DDL for a dialect.
func (c command) Schema(flags SchemaFlags) error {
	dialect := flags.Dialect
	if dialect == "" {
		e, err := c.load()
		if err != nil {
			return err
		}
		defer func() { _ = e.closer.Close() }()
		dialect = e.cfg.Dialect
	}
	ddl, err := report.SchemaDDL(normalizeDialect(dialect))
	if err != nil {
		return err
	}
	for _, stmt := range ddl {
		_, _ = fmt.Fprintln(c.out, stmt+";")
	}
	return nil
}

func normalizeDialect(d string) store.Dialect {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "", "mysql", "mariadb":
		return store.DialectMySQL
	case "postgres", "postgresql":
		return store.DialectPostgres
	}
	return store.Dialect(strings.ToLower(d))
}

// Replay records a scenario file through a report store and prints the
// resulting session.
func (c command) Replay(ctx context.Context, path string) error {
	sc, err := replay.Load(path)
	if err != nil {
		return err
	}
	e, err := c.load()
	if err != nil {
		return err
	}
	defer func() { _ = e.closer.Close() }()

	db, err := e.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sinks, err := factory.NewSinksFromDSNs(e.cfg.History.Sinks)
	if err != nil {
		return fmt.Errorf("error creating history sinks: %w", err)
	}
	defer factory.CloseAll(sinks)

	st := report.New(db, report.WithLogger(e.log), report.WithSinks(sinks...))
	if err := replay.Run(contextOrBackground(ctx), st, sc); err != nil {
		return err
	}

	reader, err := report.NewReader(db)
	if err != nil {
		return err
	}
	latest, err := reader.Sessions(contextOrBackground(ctx), 1)
	if err != nil {
		return err
	}
	if len(latest) == 0 {
		return errors.New("no session was recorded; see the log for details")
	}
	_, _ = fmt.Fprintf(c.out, "recorded session %d (%d events)\n", latest[0].ID, len(sc.Events))
	return nil
}

// Sessions lists recent sessions.
func (c command) Sessions(ctx context.Context, flags SessionsFlags) error {
	reader, done, err := c.reader()
	if err != nil {
		return err
	}
	defer done()

	sessions, err := reader.Sessions(contextOrBackground(ctx), flags.Limit)
	if err != nil {
		return err
	}
	if flags.JSON {
		return c.printJSON(sessions)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tInitialized\tTerminated")
	_, _ = fmt.Fprintln(w, "--\t-----------\t----------")
	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", s.ID, formatTime(&s.Initialized), formatTime(s.Terminated))
	}
	return w.Flush()
}

type showOutput struct {
	report.Session
	Executions []report.Execution `json:"executions"`
	Logs       []report.LogEntry  `json:"logs,omitempty"`
}

// Show prints one session with its executions and, optionally, its logs.
func (c command) Show(ctx context.Context, idArg string, flags ShowFlags) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid session id %q", idArg)
	}
	reader, done, err := c.reader()
	if err != nil {
		return err
	}
	defer done()

	ctx = contextOrBackground(ctx)
	out := showOutput{}
	if out.Session, err = reader.Session(ctx, id); err != nil {
		return err
	}
	if out.Executions, err = reader.Executions(ctx, id); err != nil {
		return err
	}
	if flags.Logs {
		if out.Logs, err = reader.Logs(ctx, id); err != nil {
			return err
		}
	}
	if flags.JSON {
		return c.printJSON(out)
	}

	_, _ = fmt.Fprintf(c.out, "Session %d  initialized %s  terminated %s\n\n",
		out.ID, formatTime(&out.Initialized), formatTime(out.Terminated))
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Node\tStatus\tStarted\tFinished\tDetail")
	_, _ = fmt.Fprintln(w, "----\t------\t-------\t--------\t------")
	for _, e := range out.Executions {
		status, detail := e.Status, e.Error
		if e.Skipped {
			status, detail = "skipped", e.Reason
		}
		if status == "" {
			status = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Node, status, formatTime(e.Started), formatTime(e.Finished), detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(out.Logs) > 0 {
		_, _ = fmt.Fprintln(c.out)
		for _, l := range out.Logs {
			node := l.Node
			if node == "" {
				node = "session"
			}
			_, _ = fmt.Fprintf(c.out, "%s %-7s [%s] %s\n", l.Time.UTC().Format(time.RFC3339), l.Level, node, l.Message)
		}
	}
	return nil
}

// Serve exposes the read API until SIGINT or SIGTERM.
func (c command) Serve(flags ServeFlags) error {
	e, err := c.load()
	if err != nil {
		return err
	}
	defer func() { _ = e.closer.Close() }()

	db, err := e.openStore()
	if err != nil {
		return err
	}
	reader, err := report.NewReader(db)
	if err != nil {
		_ = db.Close()
		return err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		_ = db.Close()
		return fmt.Errorf("error registering metrics: %w", err)
	}

	listen := flags.Listen
	if listen == "" {
		listen = e.cfg.HTTP.Listen
	}
	basePath := flags.BasePath
	if basePath == "" {
		basePath = e.cfg.HTTP.BasePath
	}
	tc, err := rtls.Setup(e.cfg.HTTP.TLS)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("error configuring TLS: %w", err)
	}
	srv, err := server.NewTLSServer(listen, basePath, reader, tc)
	if err != nil {
		_ = db.Close()
		return err
	}
	scheme := "http"
	if tc != nil {
		scheme = "https"
	}
	e.log.Info("Report server started", "listen", listen, "base_path", basePath, "scheme", scheme)
	_, _ = fmt.Fprintf(c.out, "Serving reports on %s%s (%s)\n", listen, basePath, scheme)

	if flags.NonBlocking {
		_ = srv.Close()
		return db.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_, _ = fmt.Fprintln(c.out, "Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(ctx)
	_ = db.Close()
	return err
}

func (c command) reader() (*report.Reader, func(), error) {
	e, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	db, err := e.openStore()
	if err != nil {
		_ = e.closer.Close()
		return nil, nil, err
	}
	reader, err := report.NewReader(db)
	if err != nil {
		_ = db.Close()
		_ = e.closer.Close()
		return nil, nil, err
	}
	return reader, func() {
		_ = db.Close()
		_ = e.closer.Close()
	}, nil
}

func (c command) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(b))
	return err
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
