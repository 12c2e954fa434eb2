package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Client reads recorded sessions from a teacup-report HTTP API
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8089/api",
		Timeout: 10 * time.Second,
	}
}

// DefaultTLSConfig returns default TLS client configuration
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://localhost:8089/api",
		Timeout: 10 * time.Second,
		TLS: &TLSClientConfig{
			Enabled: true,
		},
	}
}

// InsecureConfig returns insecure client configuration (skip TLS verification)
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://localhost:8089/api",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// New creates a new report API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8089/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	// Setup HTTP transport with TLS configuration
	transport := &http.Transport{}

	// Configure TLS if needed
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the report API is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions?limit=1", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Report API unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Report API reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Sessions lists the most recent sessions, newest first. A non-positive
// limit uses the server default.
func (c *Client) Sessions(ctx context.Context, limit int) ([]Session, error) {
	url := c.baseURL + "/sessions"
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}
	var out []Session
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session fetches one session with its executions.
func (c *Client) Session(ctx context.Context, id int64) (SessionDetail, error) {
	var out SessionDetail
	err := c.getJSON(ctx, c.sessionURL(id, ""), &out)
	return out, err
}

// Executions fetches the executions recorded in a session.
func (c *Client) Executions(ctx context.Context, id int64) ([]Execution, error) {
	var out []Execution
	if err := c.getJSON(ctx, c.sessionURL(id, "/executions"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Logs fetches session and execution logs of a session ordered by time.
func (c *Client) Logs(ctx context.Context, id int64) ([]LogEntry, error) {
	var out []LogEntry
	if err := c.getJSON(ctx, c.sessionURL(id, "/logs"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) sessionURL(id int64, suffix string) string {
	return c.baseURL + "/sessions/" + strconv.FormatInt(id, 10) + suffix
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	// Handle insecure mode (skip verification)
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	// Configure TLS settings
	if config.TLS != nil {
		// Skip verification if requested
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}

		// Set server name for verification
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}

		// Load CA certificate if provided
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}

		// Load client certificate if provided
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// getJSON performs a GET request and decodes a successful response into v
func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
