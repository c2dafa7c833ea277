package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-gateway/pkg/config"
	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/telemetry"
	"github.com/polisai/polis-gateway/pkg/upstream"
)

const (
	healthPath     = "/health"
	unmatchedRoute = "unmatched"
)

// Options configures a Gateway.
type Options struct {
	Routes  *config.RouteTable
	Client  *upstream.Client
	Logger  *slog.Logger
	Metrics *Metrics
	// Service and Version are reported by the liveness probe.
	Service string
	Version string
}

// Gateway routes client requests to backend bindings. All of its fields are
// read-only after New returns, so a single Gateway serves any number of
// concurrent requests.
type Gateway struct {
	routes  *config.RouteTable
	client  *upstream.Client
	logger  *slog.Logger
	metrics *Metrics
	health  domain.GatewayLiveness
}

// New creates a Gateway from its dependencies.
func New(opts Options) (*Gateway, error) {
	if opts.Routes == nil {
		return nil, errors.New("gateway: route table is required")
	}
	if opts.Client == nil {
		return nil, errors.New("gateway: upstream client is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Service == "" {
		opts.Service = config.DefaultServiceName
	}
	if opts.Version == "" {
		opts.Version = config.DefaultVersion
	}

	return &Gateway{
		routes:  opts.Routes,
		client:  opts.Client,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		health: domain.GatewayLiveness{
			Status:  domain.StatusOK,
			Service: opts.Service,
			Version: opts.Version,
		},
	}, nil
}

// Handler builds the client-facing HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, g.handleHealth)
	for _, binding := range g.routes.Bindings() {
		mux.Handle("GET "+binding.Path, g.forward(binding))
	}

	var h http.Handler = mux
	h = recoverer(g.logger, h)
	h = observe(g.logger, g.metrics, g.routeLabel, h)
	h = requestID(h)
	return otelhttp.NewHandler(h, "gateway")
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, g.logger, http.StatusOK, g.health)
}

// forward returns the handler for one binding. Each invocation performs
// exactly one outbound call and shares nothing with other invocations.
func (g *Gateway) forward(binding domain.RouteBinding) http.Handler {
	unavailable := domain.ErrorBody{Error: binding.UnavailableMessage()}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		result := g.client.Fetch(ctx, binding)

		if !result.OK() {
			id, _ := upstream.RequestIDFromContext(ctx)
			g.logger.LogAttrs(ctx, slog.LevelWarn, "upstream unavailable",
				slog.String("domain", binding.Domain),
				slog.String("reason", string(result.Reason)),
				slog.Int("upstream_status", result.StatusCode),
				slog.Duration("duration", result.Duration),
				slog.String("error", errString(result.Err)),
				slog.String("request_id", id),
			)
			telemetry.RecordUpstreamFailure(trace.SpanFromContext(ctx), binding.Domain, string(result.Reason), result.Err)
			if g.metrics != nil {
				g.metrics.RecordUpstreamFailure(binding.Domain, string(result.Reason))
			}
			writeJSON(w, g.logger, http.StatusInternalServerError, unavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(result.Body); err != nil {
			g.logger.Debug("failed to write response", "domain", binding.Domain, "error", err)
		}
	})
}

// routeLabel keeps the route metric label bounded to known paths.
func (g *Gateway) routeLabel(r *http.Request) string {
	if r.URL.Path == healthPath {
		return healthPath
	}
	if _, err := g.routes.Lookup(r.URL.Path); err == nil {
		return r.URL.Path
	}
	return unmatchedRoute
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to encode response", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
