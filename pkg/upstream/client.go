// Package upstream performs the single outbound call the gateway makes per
// client request and folds every possible outcome into an explicit Result.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-gateway/internal/governance"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/telemetry"
)

// DefaultMaxBodyBytes caps how much of an upstream response is buffered.
const DefaultMaxBodyBytes int64 = 10 << 20

// Outcome is the client-relevant category of an outbound call.
type Outcome string

const (
	// OutcomeSuccess means the backend answered 2xx with a well-formed body.
	OutcomeSuccess Outcome = "success"
	// OutcomeUnavailable covers every other result.
	OutcomeUnavailable Outcome = "unavailable"
)

// Reason refines OutcomeUnavailable for logs and metrics only.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonRequest  Reason = "request"
	ReasonConnect  Reason = "connect"
	ReasonTimeout  Reason = "timeout"
	ReasonCanceled Reason = "canceled"
	ReasonStatus   Reason = "status"
	ReasonBody     Reason = "body"
)

// Result is the outcome of one outbound call. Err is non-nil exactly when
// Outcome is OutcomeUnavailable.
type Result struct {
	Outcome    Outcome
	Reason     Reason
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Err        error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Config configures a Client.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	// Transport defaults to an OpenTelemetry-instrumented clone of http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client issues outbound GET requests to bound backends.
// It holds no per-request state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	timeouts   *governance.TimeoutManager
	maxBody    int64
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	transport := cfg.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone())
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		timeouts:   governance.NewTimeoutManager(governance.TimeoutConfig{RequestTimeout: cfg.Timeout}),
		maxBody:    cfg.MaxBodyBytes,
		logger:     cfg.Logger,
	}
}

// Timeout returns the per-call deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeouts.Config().RequestTimeout
}

// Fetch issues exactly one GET to the binding's endpoint. It never retries and
// never returns a transport error directly: every fault is folded into the Result.
func (c *Client) Fetch(ctx context.Context, binding domain.RouteBinding) (result Result) {
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		telemetry.RecordUpstreamCall(ctx, telemetry.UpstreamMetrics{
			Domain:     binding.Domain,
			Outcome:    string(result.Outcome),
			Reason:     string(result.Reason),
			StatusCode: result.StatusCode,
			Duration:   result.Duration,
		})
	}()

	callCtx, cancel := c.timeouts.WithRequestTimeout(ctx)
	defer cancel()

	target := binding.Endpoint()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, target, nil)
	if err != nil {
		return unavailable(binding, ReasonRequest, 0, domain.ErrUpstreamUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")
	if id, ok := RequestIDFromContext(ctx); ok {
		req.Header.Set(RequestIDHeader, id)
	}

	c.logger.Debug("forwarding request upstream",
		"domain", binding.Domain,
		"target_url", target,
		"timeout", c.Timeout(),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason, sentinel := classifyTransportError(ctx, err)
		return unavailable(binding, reason, 0, sentinel, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "failed to close upstream response body",
				slog.String("domain", binding.Domain),
				slog.String("error", cerr.Error()),
			)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBody))
		return unavailable(binding, ReasonStatus, resp.StatusCode, domain.ErrUpstreamStatus,
			errors.New(resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		reason, sentinel := classifyTransportError(ctx, err)
		if reason == ReasonConnect {
			reason, sentinel = ReasonBody, domain.ErrUpstreamBody
		}
		return unavailable(binding, reason, resp.StatusCode, sentinel, err)
	}
	if int64(len(body)) > c.maxBody {
		return unavailable(binding, ReasonBody, resp.StatusCode, domain.ErrUpstreamBody,
			fmt.Errorf("body exceeds %d bytes", c.maxBody))
	}
	if !json.Valid(body) {
		return unavailable(binding, ReasonBody, resp.StatusCode, domain.ErrUpstreamBody,
			errors.New("body is not valid JSON"))
	}

	return Result{
		Outcome:    OutcomeSuccess,
		StatusCode: resp.StatusCode,
		Body:       body,
	}
}

func unavailable(binding domain.RouteBinding, reason Reason, status int, sentinel, cause error) Result {
	return Result{
		Outcome:    OutcomeUnavailable,
		Reason:     reason,
		StatusCode: status,
		Err: &domain.UpstreamError{
			Domain:     binding.Domain,
			StatusCode: status,
			Err:        fmt.Errorf("%w: %v", sentinel, cause),
		},
	}
}

// classifyTransportError separates deadline expiry and client cancellation from
// connection faults. ctx is the caller's context, not the deadline-bound one.
func classifyTransportError(ctx context.Context, err error) (Reason, error) {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ReasonCanceled, domain.ErrUpstreamUnreachable
	}
	if governance.IsTimeout(err) {
		return ReasonTimeout, domain.ErrUpstreamTimeout
	}
	return ReasonConnect, domain.ErrUpstreamUnreachable
}
