package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/quillforge/genclient/internal/config"
	"github.com/quillforge/genclient/internal/gen"
)

// maxRequestBytes bounds inbound bodies; generation requests are small JSON
// documents.
const maxRequestBytes = 1 << 20

// Generator is the per-provider surface the handler dispatches to.
type Generator interface {
	Generate(ctx context.Context, spec gen.RequestSpec) (gen.ResponseEnvelope, error)
}

// Handler routes generation, health, and metrics traffic. Clients are resolved
// once at construction; an unknown provider in the URL is a 404, never a lazy
// construction attempt.
type Handler struct {
	clients map[string]Generator
	metrics http.Handler
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewHandler wires the routing table over the prepared per-provider clients.
// metricsHandler may be nil, in which case /metrics reports unavailable.
func NewHandler(clients map[string]Generator, metricsHandler http.Handler, logger *slog.Logger) *Handler {
	h := &Handler{
		clients: clients,
		metrics: metricsHandler,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("POST /generate/{provider}", h.serveGenerate)
	h.mux.HandleFunc("GET /healthz", h.serveHealth)
	h.mux.HandleFunc("GET /metrics", h.serveMetrics)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) serveGenerate(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	client, ok := h.clients[provider]
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", provider))
		return
	}

	var spec gen.RequestSpec
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&spec); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	envelope, err := client.Generate(r.Context(), spec)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gen.ErrSpec) || errors.Is(err, config.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		h.writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		h.logger.Error("encode response failed", slog.Any("error", err))
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"providers": len(h.clients),
	})
}

func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.writeError(w, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	h.metrics.ServeHTTP(w, r)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
