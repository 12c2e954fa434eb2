package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/teacupreport/internal/history"
)

// Options configures a Sink. With Daily set, events go to
// "<Index>-YYYY.MM.DD" by the UTC day they occurred on.
type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	Daily    bool
	Timeout  time.Duration
}

// Sink indexes report events in OpenSearch or Elasticsearch through the
// document API: POST <base>/<index>/_doc.
type Sink struct {
	client *http.Client
	opts   Options
}

func New(opts Options) *Sink {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Sink{client: &http.Client{Timeout: opts.Timeout}, opts: opts}
}

// IndexFor returns the index an event is written to.
func (s *Sink) IndexFor(e history.Event) string {
	if !s.opts.Daily {
		return s.opts.Index
	}
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	return s.opts.Index + "-" + at.UTC().Format("2006.01.02")
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	u := fmt.Sprintf("%s/%s/_doc", s.opts.BaseURL, s.IndexFor(e))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
