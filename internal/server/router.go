package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/teacupreport/internal/metrics"
	"github.com/loykin/teacupreport/internal/report"
)

// Reports is the read side the router serves. *report.Reader implements it.
type Reports interface {
	Sessions(ctx context.Context, limit int) ([]report.Session, error)
	Session(ctx context.Context, id int64) (report.Session, error)
	Executions(ctx context.Context, sessionID int64) ([]report.Execution, error)
	Logs(ctx context.Context, sessionID int64) ([]report.LogEntry, error)
}

// Router provides embeddable HTTP handlers for browsing recorded reports.
// Endpoints:
//   GET {basePath}/sessions                 query: limit=N (default 50)
//   GET {basePath}/sessions/:id
//   GET {basePath}/sessions/:id/executions
//   GET {basePath}/sessions/:id/logs
//   GET {basePath}/metrics                  Prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	reports  Reports
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/sessions, /api/metrics.
func NewRouter(reports Reports, basePath string) *Router {
	return &Router{reports: reports, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/sessions", r.handleSessions)
	group.GET("/sessions/:id", r.handleSession)
	group.GET("/sessions/:id/executions", r.handleExecutions)
	group.GET("/sessions/:id/logs", r.handleLogs)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with the returned server's Shutdown or Close.
func NewServer(addr, basePath string, reports Reports) (*http.Server, error) {
	return NewTLSServer(addr, basePath, reports, nil)
}

// NewTLSServer is NewServer over HTTPS when tc is non-nil. Certificates
// come from tc, so tc must set Certificates or GetCertificate.
func NewTLSServer(addr, basePath string, reports Reports, tc *tls.Config) (*http.Server, error) {
	if reports == nil {
		return nil, errors.New("no report reader")
	}
	r := NewRouter(reports, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tc != nil {
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type sessionResp struct {
	report.Session
	Executions []report.Execution `json:"executions"`
}

func (r *Router) handleSessions(c *gin.Context) {
	limit := report.DefaultSessionLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	sessions, err := r.reports.Sessions(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, sessions)
}

func (r *Router) handleSession(c *gin.Context) {
	sess, ok := r.lookupSession(c)
	if !ok {
		return
	}
	execs, err := r.reports.Executions(c.Request.Context(), sess.ID)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, sessionResp{Session: sess, Executions: execs})
}

func (r *Router) handleExecutions(c *gin.Context) {
	sess, ok := r.lookupSession(c)
	if !ok {
		return
	}
	execs, err := r.reports.Executions(c.Request.Context(), sess.ID)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, execs)
}

func (r *Router) handleLogs(c *gin.Context) {
	sess, ok := r.lookupSession(c)
	if !ok {
		return
	}
	logs, err := r.reports.Logs(c.Request.Context(), sess.ID)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, logs)
}

// lookupSession resolves the :id parameter, writing the error response
// itself when it fails.
func (r *Router) lookupSession(c *gin.Context) (report.Session, bool) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return report.Session{}, false
	}
	sess, err := r.reports.Session(c.Request.Context(), id)
	switch {
	case errors.Is(err, report.ErrSessionNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return report.Session{}, false
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return report.Session{}, false
	}
	return sess, true
}
