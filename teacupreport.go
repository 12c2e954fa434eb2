package teacupreport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/teacupreport/internal/config"
	"github.com/loykin/teacupreport/internal/history"
	"github.com/loykin/teacupreport/internal/history/factory"
	"github.com/loykin/teacupreport/internal/metrics"
	"github.com/loykin/teacupreport/internal/model"
	"github.com/loykin/teacupreport/internal/report"
	iapi "github.com/loykin/teacupreport/internal/server"
	"github.com/loykin/teacupreport/internal/store"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Store = report.Store

type Option = report.Option

type Reader = report.Reader

type Node = model.Node

type TestNode = model.TestNode

type Result = model.Result

type TestResult = model.TestResult

type Status = model.Status

type Level = model.Level

type LogRecord = model.LogRecord

type Connector = store.Connector

type DB = store.DB

type StoreConfig = store.Config

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

const (
	StatusAborted    = model.StatusAborted
	StatusFailed     = model.StatusFailed
	StatusSuccessful = model.StatusSuccessful
)

func WithLogger(l *slog.Logger) Option      { return report.WithLogger(l) }
func WithSinks(sinks ...HistorySink) Option { return report.WithSinks(sinks...) }
func WithClock(now func() time.Time) Option { return report.WithClock(now) }

func NewTestNode(name string, children ...*TestNode) *TestNode {
	return model.NewTestNode(name, children...)
}

func NewTestResult(status Status, err error) TestResult { return model.NewTestResult(status, err) }

func NewLogRecord(level Level, msg string, params ...any) LogRecord {
	return model.NewLogRecord(level, msg, params...)
}

// New returns a report store writing through c. A nil or unusable
// connector yields a store whose callbacks only log.
func New(c Connector, opts ...Option) *Store { return report.New(c, opts...) }

// Open connects to the database described by sc.
func Open(sc StoreConfig) (*DB, error) { return store.Open(sc) }

// OpenDSN connects using a mysql://, postgres:// or sqlite:// DSN.
func OpenDSN(dsn string) (*DB, error) {
	sc, err := store.ConfigFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	return store.Open(sc)
}

func NewReader(c Connector) (*Reader, error) { return report.NewReader(c) }

// NewLogHandler bridges slog records into the store's log tables.
// Records go to the session log when node is nil.
func NewLogHandler(s *Store, node Node, level slog.Leveler) slog.Handler {
	return report.NewLogHandler(s, node, level)
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySinks builds sinks from clickhouse:// or opensearch:// DSNs.
func NewHistorySinks(dsns []string) ([]HistorySink, error) {
	return factory.NewSinksFromDSNs(dsns)
}

// NewHTTPServer starts an HTTP server exposing the read API over c.
func NewHTTPServer(addr, basePath string, c Connector) (*http.Server, error) {
	r, err := report.NewReader(c)
	if err != nil {
		return nil, err
	}
	return iapi.NewServer(addr, basePath, r)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
