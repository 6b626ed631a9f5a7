// Package execution dispatches marketplace tool calls: validate the supplied
// parameters against the tool's declared schema, call the backing endpoint
// with bounded retries, and append exactly one usage record to the ledger per
// call — validation failures included, so billing and analytics see every
// invocation attempt.
package execution

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
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agoramesh/agora/internal/observe"
	"github.com/agoramesh/agora/internal/resilience"
	"github.com/agoramesh/agora/pkg/market"
)

// maxResponseBytes caps how much of a tool's response body the engine reads.
const maxResponseBytes = 10 << 20

// backoffBase is the unit of the exponential retry schedule: base·2^(n-1)
// before attempt n, so 2s before the second attempt and 4s before the third.
const backoffBase = time.Second

// Engine executes tool calls. Safe for concurrent use.
type Engine struct {
	tools   market.ToolStore
	usage   market.UsageStore
	client  *http.Client
	clock   resilience.Clock
	metrics *observe.Metrics
}

// Option configures an [Engine].
type Option func(*Engine)

// WithHTTPClient replaces the outbound HTTP client. Per-attempt deadlines are
// enforced through the request context, so the client needs no timeout of its
// own.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithClock replaces the clock driving backoff waits and timestamps.
func WithClock(c resilience.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics attaches execution metrics. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine over the given stores.
func New(tools market.ToolStore, usage market.UsageStore, opts ...Option) *Engine {
	e := &Engine{
		tools:  tools,
		usage:  usage,
		client: &http.Client{},
		clock:  resilience.RealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one invocation of toolID with the supplied parameters and
// returns the usage record written for it.
//
// The call proceeds in three stages: resolve and gate the tool, validate the
// parameters (declared defaults are merged in first), then dispatch to the
// tool's endpoint with the tool's own retry budget and per-attempt timeout.
// Exactly one usage record is appended whenever the tool resolved and is
// active — validation failures produce a record with no status code so
// analytics can distinguish them from endpoint failures. The charge is
// recorded unpaid; settlement happens elsewhere.
//
// Errors: [market.ErrNotFound] for unknown tools, [market.ErrToolInactive]
// for deactivated ones (neither writes a record), a [market.ValidationError]
// for bad parameters, and [market.ErrExecutionFailed] (wrapped) when every
// dispatch attempt failed. A non-nil record is returned alongside the latter
// two.
func (e *Engine) Execute(ctx context.Context, toolID string, params map[string]any, callerID, sessionID string) (market.UsageRecord, error) {
	def, err := e.tools.GetTool(ctx, toolID)
	if err != nil {
		return market.UsageRecord{}, fmt.Errorf("execution: resolve %s: %w", toolID, err)
	}
	if !def.Metadata.IsActive {
		return market.UsageRecord{}, fmt.Errorf("execution: %s: %w", toolID, market.ErrToolInactive)
	}

	start := e.clock.Now()

	effective, issues := ValidateParams(def.Parameters, params)
	if len(issues) > 0 {
		verr := &market.ValidationError{Issues: issues}
		resp := market.ExecutionResponse{
			Error:         verr.Error(),
			ExecutionTime: e.clock.Now().Sub(start),
		}
		rec := e.record(ctx, def, callerID, sessionID, effective, resp)
		e.observeOutcome(ctx, def.ID, "invalid", resp.ExecutionTime)
		return rec, verr
	}

	resp := e.dispatchWithRetry(ctx, def, effective)
	resp.ExecutionTime = e.clock.Now().Sub(start)
	rec := e.record(ctx, def, callerID, sessionID, effective, resp)

	if !resp.Success {
		e.observeOutcome(ctx, def.ID, "failure", resp.ExecutionTime)
		return rec, fmt.Errorf("execution: %s: %w: %s", def.ID, market.ErrExecutionFailed, resp.Error)
	}
	e.observeOutcome(ctx, def.ID, "success", resp.ExecutionTime)
	slog.Debug("tool executed",
		"tool_id", def.ID,
		"caller_id", callerID,
		"status_code", resp.StatusCode,
		"elapsed", resp.ExecutionTime,
	)
	return rec, nil
}

// dispatchWithRetry calls the tool's endpoint under its declared retry
// budget. Any non-2xx status counts as a retryable failure; only requests
// that cannot even be constructed stop the loop early.
func (e *Engine) dispatchWithRetry(ctx context.Context, def market.ToolDefinition, params map[string]any) market.ExecutionResponse {
	policy := resilience.RetryPolicy{
		MaxAttempts:    def.API.MaxRetries,
		AttemptTimeout: def.API.Timeout,
		Backoff:        resilience.ExponentialBackoff(backoffBase),
		Clock:          e.clock,
	}

	var last market.ExecutionResponse
	attempt := 0
	err := policy.Do(ctx, func(attemptCtx context.Context) error {
		attempt++
		if attempt > 1 && e.metrics != nil {
			e.metrics.RetryAttempts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", def.ID),
			))
		}

		req, err := buildRequest(attemptCtx, def.API, params)
		if err != nil {
			last = market.ExecutionResponse{Error: err.Error()}
			return resilience.Permanent(err)
		}

		httpResp, err := e.client.Do(req)
		if err != nil {
			last = market.ExecutionResponse{Error: err.Error()}
			return err
		}
		body, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
		httpResp.Body.Close()
		if readErr != nil {
			last = market.ExecutionResponse{
				Error:      "read response: " + readErr.Error(),
				StatusCode: httpResp.StatusCode,
			}
			return readErr
		}

		last = market.ExecutionResponse{StatusCode: httpResp.StatusCode}
		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			last.Error = fmt.Sprintf("endpoint returned status %d", httpResp.StatusCode)
			return errors.New(last.Error)
		}
		last.Success = true
		last.Data = decodeBody(body)
		return nil
	})
	if err != nil {
		// Surface the terminal cause including the attempt count.
		last.Success = false
		last.Error = err.Error()
	}
	return last
}

// buildRequest constructs the outbound request. GET tools receive their
// parameters as query string values; every other method gets a JSON body.
func buildRequest(ctx context.Context, api market.APIConfig, params map[string]any) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if api.Method == market.MethodGet {
		endpoint, qerr := appendQuery(api.Endpoint, params)
		if qerr != nil {
			return nil, qerr
		}
		req, err = http.NewRequestWithContext(ctx, string(market.MethodGet), endpoint, nil)
	} else {
		var body []byte
		if len(params) > 0 {
			if body, err = json.Marshal(params); err != nil {
				return nil, fmt.Errorf("encode parameters: %w", err)
			}
		}
		req, err = http.NewRequestWithContext(ctx, string(api.Method), api.Endpoint, bytes.NewReader(body))
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}
	// The content type is fixed for every method; tool-declared headers
	// never override it.
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// appendQuery merges params into the endpoint's query string.
func appendQuery(endpoint string, params map[string]any) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	for name, value := range params {
		q.Set(name, queryValue(value))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// queryValue renders a parameter value for a query string. Scalars keep their
// natural textual form; composites fall back to JSON.
func queryValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

// decodeBody returns the JSON-decoded response payload, or the raw text when
// the body is not JSON. Empty bodies decode to nil.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body)
	}
	return decoded
}

// record appends the usage record for one invocation. The ledger write is
// detached from the caller's cancellation: once an outcome exists it must be
// recorded even if the caller has gone away. Append failures are logged, not
// returned — the invocation already happened and its outcome stands.
func (e *Engine) record(ctx context.Context, def market.ToolDefinition, callerID, sessionID string, params map[string]any, resp market.ExecutionResponse) market.UsageRecord {
	rec := market.UsageRecord{
		ID:        uuid.NewString(),
		ToolID:    def.ID,
		CallerID:  callerID,
		SessionID: sessionID,
		Params:    params,
		Response:  resp,
		Billing: market.Billing{
			CostInWei: def.Pricing.CostInWei,
			Paid:      false,
		},
		Timestamp: e.clock.Now().UTC(),
	}
	if err := e.usage.AppendUsage(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("usage record append failed",
			"record_id", rec.ID,
			"tool_id", def.ID,
			"caller_id", callerID,
			"error", err,
		)
	}
	return rec
}

func (e *Engine) observeOutcome(ctx context.Context, toolID, status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", toolID),
		attribute.String("status", status),
	)
	e.metrics.ToolExecutions.Add(ctx, 1, attrs)
	e.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(), attrs)
}
