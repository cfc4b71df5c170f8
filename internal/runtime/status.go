package runtime

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/srfbus/internal/runtime/jsoncodec"
	"github.com/drblury/srfbus/internal/runtime/logging"
)

// StatusOptions configures the StatusHandler.
type StatusOptions struct {
	// CORSAllowedOrigins lists origins allowed to read the API. "*" allows any.
	CORSAllowedOrigins []string
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// StatusHandler serves the list of active connections as JSON on
// /api/connections and, when configured, prometheus metrics on /metrics.
type StatusHandler struct {
	registry *Registry
	opts     StatusOptions
	logger   logging.ServiceLogger
	mux      *http.ServeMux
}

// NewStatusHandler builds the handler over registry.
func NewStatusHandler(registry *Registry, log logging.ServiceLogger, opts StatusOptions) *StatusHandler {
	h := &StatusHandler{
		registry: registry,
		opts:     opts,
		logger:   loggerOrNop(log),
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("/api/connections", h.handleGetConnections)
	if opts.Gatherer != nil {
		h.mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return h
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *StatusHandler) handleGetConnections(w http.ResponseWriter, r *http.Request) {
	if allowed := h.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(h.registry.Snapshot())
	if err != nil {
		h.logger.Error("Failed to encode connections", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (h *StatusHandler) allowedCORSOrigin(requestOrigin string) string {
	if requestOrigin == "" {
		return ""
	}
	for _, allowed := range h.opts.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
