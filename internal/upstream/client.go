// Package upstream is the client for the external natural-language-to-SQL
// service. It probes the service, forwards questions, and turns every
// transport or HTTP failure into a classified *Error. It never retries.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/pkg/logger"
	"github.com/flowbit-ai/chat-with-data/pkg/metrics"
	"github.com/flowbit-ai/chat-with-data/pkg/tracing"
)

const (
	healthPath = "/health"
	queryPath  = "/query"

	// DiagnoseTimeout bounds the diagnostic probe.
	DiagnoseTimeout = 8 * time.Second

	maxDiagnosticBody = 2000
)

// Config holds upstream client settings.
type Config struct {
	BaseURL      string
	ServiceName  string
	ProbeTimeout time.Duration
	QueryTimeout time.Duration
}

// Client talks to the NL-to-SQL service over HTTP.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *logger.Logger
	tracer trace.Tracer
}

type queryRequest struct {
	Question string `json:"question"`
	FetchAll bool   `json:"fetchAll,omitempty"`
}

type queryResponse struct {
	SQL       string      `json:"sql"`
	Data      []model.Row `json:"data"`
	Message   string      `json:"message"`
	ChartType string      `json:"chartType"`
}

// NewClient creates a new upstream client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "Vanna AI"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetLogger(log.Printf()).
			SetHeader("Accept", "application/json"),
		cfg:    cfg,
		logger: log,
		tracer: tracing.Tracer("upstream"),
	}
}

// BaseURL returns the service base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// ServiceName returns the display name of the service.
func (c *Client) ServiceName() string {
	return c.cfg.ServiceName
}

// ErrorPrefix is prepended to messages of non-2xx query responses.
func (c *Client) ErrorPrefix() string {
	return c.cfg.ServiceName + " service error:"
}

// Probe checks liveness within ProbeTimeout. A refused connection is
// CategoryConnectionRefused; any other failure, including a timeout or a
// non-2xx answer, is CategoryUnavailable.
func (c *Client) Probe(ctx context.Context) (*model.HealthStatus, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.probe")
	defer span.End()

	start := time.Now()
	status, err := c.probe(ctx, c.cfg.ProbeTimeout)

	category := ""
	if ue, ok := AsError(err); ok {
		category = string(ue.Category)
		span.SetStatus(codes.Error, ue.Message)
	} else if err != nil {
		category = "canceled"
	}
	metrics.RecordUpstream("health", category, time.Since(start).Seconds())

	return status, err
}

func (c *Client) probe(parent context.Context, timeout time.Duration) (*model.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	status := &model.HealthStatus{URL: c.cfg.BaseURL + healthPath}

	res, err := c.http.R().SetContext(ctx).Get(healthPath)
	status.Elapsed = time.Since(start)
	status.ElapsedMs = status.Elapsed.Milliseconds()
	if err != nil {
		status.Error = err.Error()
		category, ctxErr := classifyTransport(parent, err)
		if ctxErr != nil {
			return status, ctxErr
		}
		if category == CategoryConnectionRefused {
			return status, &Error{
				Category: CategoryConnectionRefused,
				Message:  fmt.Sprintf("connection to %s refused", c.cfg.BaseURL),
				Err:      err,
			}
		}
		msg := "health check failed: " + err.Error()
		if category == CategoryTimeout {
			msg = fmt.Sprintf("health check did not answer within %s", timeout)
		}
		return status, &Error{Category: CategoryUnavailable, Message: msg, Err: err}
	}

	status.StatusCode = res.StatusCode()
	status.Body = truncate(res.String(), maxDiagnosticBody)
	if !res.IsSuccess() {
		return status, &Error{
			Category:   CategoryUnavailable,
			Message:    fmt.Sprintf("health check failed with HTTP %d", res.StatusCode()),
			StatusCode: res.StatusCode(),
		}
	}

	status.OK = true
	return status, nil
}

// Diagnose runs a probe with the longer diagnostic bound and reports the
// outcome without classifying it.
func (c *Client) Diagnose(ctx context.Context) *model.HealthStatus {
	status, err := c.probe(ctx, DiagnoseTimeout)
	if err != nil && status.Error == "" {
		status.Error = err.Error()
	}
	return status
}

// Query forwards a question within QueryTimeout. fetchAll asks the service
// for the unbounded result set.
func (c *Client) Query(ctx context.Context, question string, fetchAll bool) (*model.QueryResult, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.query",
		trace.WithAttributes(attribute.Bool("fetch_all", fetchAll)))
	defer span.End()

	start := time.Now()
	result, err := c.query(ctx, question, fetchAll)

	category := ""
	if ue, ok := AsError(err); ok {
		category = string(ue.Category)
		span.SetStatus(codes.Error, ue.Message)
		if ue.StatusCode != 0 {
			span.SetAttributes(attribute.Int("http.status_code", ue.StatusCode))
		}
	} else if err != nil {
		category = "canceled"
	} else {
		span.SetAttributes(attribute.Int("rows", len(result.Rows)))
	}
	metrics.RecordUpstream("query", category, time.Since(start).Seconds())

	return result, err
}

func (c *Client) query(parent context.Context, question string, fetchAll bool) (*model.QueryResult, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.QueryTimeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(queryRequest{Question: question, FetchAll: fetchAll}).
		Post(queryPath)
	if err != nil {
		category, ctxErr := classifyTransport(parent, err)
		if ctxErr != nil {
			return nil, ctxErr
		}
		var msg string
		switch category {
		case CategoryConnectionRefused:
			msg = fmt.Sprintf("connection to %s refused", c.cfg.BaseURL)
		case CategoryTimeout:
			msg = fmt.Sprintf("no answer within %s", c.cfg.QueryTimeout)
		default:
			msg = err.Error()
		}
		return nil, &Error{Category: category, Message: msg, Err: err}
	}

	if !res.IsSuccess() {
		detail := errorMessage(res.StatusCode(), res.Body())
		c.logger.Warn("upstream query failed",
			zap.Int("status", res.StatusCode()),
			zap.String("detail", detail),
		)
		return nil, &Error{
			Category:   CategoryHTTP,
			Message:    fmt.Sprintf("%s %s", c.ErrorPrefix(), detail),
			StatusCode: res.StatusCode(),
		}
	}

	var payload queryResponse
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		return nil, &Error{
			Category: CategoryUnknown,
			Message:  fmt.Sprintf("invalid response from %s service: %v", c.cfg.ServiceName, err),
			Err:      err,
		}
	}
	if payload.Data == nil {
		payload.Data = []model.Row{}
	}

	return &model.QueryResult{
		SQL:       payload.SQL,
		Rows:      payload.Data,
		Message:   payload.Message,
		ChartType: payload.ChartType,
	}, nil
}

// errorMessage extracts a human-readable message from a non-2xx body:
// a "detail" or "error" field, else the raw text, else "HTTP <status>".
func errorMessage(status int, body []byte) string {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err == nil && data != nil {
		if s := fieldText(data["detail"]); s != "" {
			return s
		}
		if s := fieldText(data["error"]); s != "" {
			return s
		}
		compact, _ := json.Marshal(data)
		return string(compact)
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}

func fieldText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// truncate keeps at most n characters of s.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
