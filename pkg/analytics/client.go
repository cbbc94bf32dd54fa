// Package analytics is a small HTTP client for the analytical column store
// that holds the events and identity_graph datasources. It speaks the
// NDJSON events API for appends, the SQL endpoint for reads and the
// datasource delete endpoint for asynchronous delete mutations.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotConfigured is returned by every call when the base URL or token is missing.
var ErrNotConfigured = errors.New("analytics store is not configured (ANALYTICS_API_URL, ANALYTICS_API_TOKEN)")

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// ConfigFromEnv reads the store endpoint and token from the environment.
func ConfigFromEnv() Config {
	return Config{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("ANALYTICS_API_URL")), "/"),
		Token:   strings.TrimSpace(os.Getenv("ANALYTICS_API_TOKEN")),
		Timeout: 10 * time.Second,
	}
}

// Configured reports whether both endpoint and token are present.
func (c Config) Configured() bool {
	return c.BaseURL != "" && c.Token != ""
}

// APIError is a non-2xx answer from the store. Message carries the store's own
// error text so callers can surface it.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("analytics store: %d: %s", e.Status, e.Message)
}

// Client talks to the store. It holds no mutable state after construction.
type Client struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: httpClient, tracer: otel.Tracer("service-identity-go/pkg/analytics")}
}

// Configured mirrors Config.Configured.
func (c *Client) Configured() bool { return c.cfg.Configured() }

type appendResponse struct {
	SuccessfulRows  int `json:"successful_rows"`
	QuarantinedRows int `json:"quarantined_rows"`
}

// Append writes rows to a datasource as newline-delimited JSON in one request.
// It returns the number of rows the store accepted. Quarantined rows are an error.
func (c *Client) Append(ctx context.Context, datasource string, rows []any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if !c.Configured() {
		return 0, ErrNotConfigured
	}
	ctx, span := c.tracer.Start(ctx, "analytics.Append", trace.WithAttributes(
		attribute.String("datasource", datasource),
		attribute.Int("rows", len(rows)),
	))
	defer span.End()

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i, r := range rows {
		if err := enc.Encode(r); err != nil {
			return 0, fail(span, fmt.Errorf("encode row %d: %w", i, err))
		}
	}
	q := url.Values{"name": {datasource}, "wait": {"true"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v0/events?"+q.Encode(), &body)
	if err != nil {
		return 0, fail(span, err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	var out appendResponse
	if err := c.do(req, &out); err != nil {
		return 0, fail(span, err)
	}
	if out.QuarantinedRows > 0 {
		return out.SuccessfulRows, fail(span, fmt.Errorf("analytics store quarantined %d of %d rows in %s", out.QuarantinedRows, len(rows), datasource))
	}
	if out.SuccessfulRows == 0 {
		// older endpoints answer 202 with an empty body
		out.SuccessfulRows = len(rows)
	}
	return out.SuccessfulRows, nil
}

type queryResponse struct {
	Data []map[string]any `json:"data"`
	Rows int              `json:"rows"`
}

// Query runs a read-only SQL statement and returns the data rows. Numbers are
// decoded as json.Number so 64-bit counters survive.
func (c *Client) Query(ctx context.Context, sql string) ([]map[string]any, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	ctx, span := c.tracer.Start(ctx, "analytics.Query")
	defer span.End()

	sql = strings.TrimSpace(sql)
	if !strings.HasSuffix(strings.ToUpper(sql), "FORMAT JSON") {
		sql += " FORMAT JSON"
	}
	form := url.Values{"q": {sql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v0/sql", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fail(span, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out queryResponse
	if err := c.do(req, &out); err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("rows", len(out.Data)))
	return out.Data, nil
}

type deleteResponse struct {
	JobID  string `json:"job_id"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Delete queues a delete mutation for the rows of datasource matching
// condition. The store applies it asynchronously; the job id is returned.
func (c *Client) Delete(ctx context.Context, datasource, condition string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(condition) == "" {
		return "", errors.New("analytics store: refusing delete with empty condition")
	}
	ctx, span := c.tracer.Start(ctx, "analytics.Delete", trace.WithAttributes(attribute.String("datasource", datasource)))
	defer span.End()

	form := url.Values{"delete_condition": {condition}}
	endpoint := c.cfg.BaseURL + "/v0/datasources/" + url.PathEscape(datasource) + "/delete"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fail(span, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out deleteResponse
	if err := c.do(req, &out); err != nil {
		return "", fail(span, err)
	}
	if out.JobID == "" {
		out.JobID = out.ID
	}
	return out.JobID, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("analytics store: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("analytics store: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if len(bytes.TrimSpace(raw)) == 0 || out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("analytics store: decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
