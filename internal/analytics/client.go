package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ClientConfig holds the connection settings for the analytical store.
type ClientConfig struct {
	BaseURL   string // e.g. "https://api.cloudflare.com/client/v4"
	AccountID string
	APIToken  string
	IngestURL string // event append endpoint; empty disables writes
}

// Client talks to the analytical store over HTTP: it executes rendered SQL
// against the store's query endpoint and appends encoded events to the
// ingest endpoint. It holds no per-request state and is safe for concurrent
// use. Queries are single fire-and-await calls; no retry happens here
// because analytical queries are metered and not assumed safe to replay.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger
}

// QueryError wraps a failed store call together with the SQL that caused
// it. The SQL is for operator logs only and must never reach end users.
type QueryError struct {
	SQL    string
	Status int
	Err    error
}

func (e *QueryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("analytics query failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("analytics query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewClient creates a store client. A nil httpClient falls back to
// http.DefaultClient; timeouts and cancellation are the caller's concern
// via the context.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Query sends one SQL statement to the store's query endpoint and returns
// the rows of the response's data array, keyed by the aliases selected in
// the statement.
func (c *Client) Query(ctx context.Context, sqlText string) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/analytics_engine/sql",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.AccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(sqlText))
	if err != nil {
		return nil, &QueryError{SQL: sqlText, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	c.logger.Debug("executing analytics query", "sql", sqlText)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &QueryError{SQL: sqlText, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &QueryError{
			SQL:    sqlText,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &QueryError{SQL: sqlText, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return parsed.Data, nil
}

// eventPayload is the wire shape of one appended event row.
type eventPayload struct {
	Index   []string  `json:"index"`
	Blobs   []string  `json:"blobs"`
	Doubles []float64 `json:"doubles"`
}

// WriteEvent appends one encoded event row, indexed by the link ID. Events
// carry no identity, so at-least-once delivery is acceptable and no retry
// bookkeeping is needed.
func (c *Client) WriteEvent(ctx context.Context, index string, blobs []string, doubles []float64) error {
	if c.cfg.IngestURL == "" {
		return fmt.Errorf("analytics ingest endpoint not configured")
	}

	body, err := json.Marshal(eventPayload{Index: []string{index}, Blobs: blobs, Doubles: doubles})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IngestURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building event request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("writing event: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
