// restapi/client.go
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gewnthar/lobbying/models"
)

// StrategyName is reported by Client.Strategy.
const StrategyName = "rest"

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// MissingTableError means the destination table does not exist. The REST API
// cannot run DDL, so DDL holds the statement to run by hand.
type MissingTableError struct {
	Table string
	DDL   string
}

func (e *MissingTableError) Error() string {
	return fmt.Sprintf("table %s does not exist; create it with:\n%s", e.Table, e.DDL)
}

// Client talks to a PostgREST endpoint (the Supabase REST API).
type Client struct {
	BaseURL    string
	ServiceKey string
	HTTP       *http.Client
	Logger     *slog.Logger
}

// NewClient returns a client for the project at projectURL; requests go to
// projectURL + "/rest/v1".
func NewClient(projectURL, serviceKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		BaseURL:    strings.TrimRight(projectURL, "/") + "/rest/v1",
		ServiceKey: serviceKey,
		HTTP:       &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

func (c *Client) Strategy() string { return StrategyName }

// Close releases idle keep-alive connections.
func (c *Client) Close() error {
	c.HTTP.CloseIdleConnections()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("apikey", c.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
	return req, nil
}

func (c *Client) do(req *http.Request, ok ...int) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	for _, code := range ok {
		if resp.StatusCode == code {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// Ping checks that the API answers GET /rest/v1/ with 200.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK)
}

// TableExists queries one row of table.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/"+url.PathEscape(table)+"?limit=1", nil)
	if err != nil {
		return false, err
	}
	err = c.do(req, http.StatusOK)
	if err == nil {
		return true, nil
	}
	var se *StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusBadRequest) {
		return false, nil
	}
	return false, err
}

// EnsureTable checks that table exists. recreate and indexColumns cannot be
// honoured over REST and only shape the DDL in the error.
func (c *Client) EnsureTable(ctx context.Context, table string, columns, indexColumns []string, recreate bool) error {
	exists, err := c.TableExists(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to check table %s: %w", table, err)
	}
	if !exists {
		return &MissingTableError{Table: table, DDL: CreateTableDDL(table, columns, indexColumns)}
	}
	if recreate {
		c.Logger.Warn("table exists and cannot be recreated over REST; rows are appended", slog.String("table", table))
	}
	return nil
}

// CreateTableDDL is the statement shown to the user when the table is missing.
func CreateTableDDL(table string, columns, indexColumns []string) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = col + " TEXT"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n    %s\n);", table, strings.Join(defs, ",\n    "))
	for _, col := range indexColumns {
		for _, have := range columns {
			if have == col {
				fmt.Fprintf(&b, "\nCREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s);", table, col, table, col)
				break
			}
		}
	}
	return b.String()
}

// InsertBatch posts the batch as one JSON array. PostgREST inserts a bulk
// payload in a single statement, so the batch is all-or-nothing.
func (c *Client) InsertBatch(ctx context.Context, table string, batch models.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]map[string]string, len(batch))
	for i, rec := range batch {
		rows[i] = rec.Map()
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/"+url.PathEscape(table), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if err := c.do(req, http.StatusOK, http.StatusCreated, http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to insert batch into %s: %w", table, err)
	}
	return nil
}
