package backend

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-gateway/pkg/domain"
)

// NewHandler returns the HTTP surface of a backend service:
// GET /health and GET <svc.Path>.
func NewHandler(svc Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, domain.Liveness{Status: domain.StatusOK, Service: svc.Name})
	})
	mux.HandleFunc("GET "+svc.Path, func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("serving collection", "service", svc.Name, "path", r.URL.Path)
		writeJSON(w, logger, svc.Records())
	})

	return otelhttp.NewHandler(mux, svc.Name+"-service")
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
