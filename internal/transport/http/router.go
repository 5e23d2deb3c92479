// Package httptransport wires the ops-only HTTP surface. The audit
// pipeline has no public API: producers call the writer in-process, and
// this router only exposes health and metrics.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auditcore/internal/audit/export"
	"auditcore/pkg/platform/sentinel"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// DepthReporter exposes the writer's buffer depth for the health payload.
type DepthReporter interface {
	BufferDepth() int
}

// Exporter triggers a compliance export for one tenant.
type Exporter interface {
	ExportTenant(ctx context.Context, tenantID string) (export.Manifest, error)
}

// NewRouter builds the ops router. checkers may be empty; nil entries are
// skipped so optional dependencies (redis, postgres) wire in cleanly. A
// nil exporter disables the export endpoint.
func NewRouter(writer DepthReporter, checkers map[string]HealthChecker, exporter Exporter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		deps := make(map[string]string, len(checkers))
		for name, c := range checkers {
			if c == nil {
				continue
			}
			if err := c.Health(req.Context()); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				deps[name] = "ok"
			}
		}

		body := map[string]any{"dependencies": deps}
		if writer != nil {
			body["buffer_depth"] = writer.BufferDepth()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})

	if exporter != nil {
		r.Post("/export/{tenantID}", func(w http.ResponseWriter, req *http.Request) {
			tenantID := chi.URLParam(req, "tenantID")
			manifest, err := exporter.ExportTenant(req.Context(), tenantID)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(exportStatus(err))
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(manifest)
		})
	}

	return r
}

// exportStatus maps sentinel errors from the export path onto status
// codes. Anything unrecognized is an internal failure.
func exportStatus(err error) int {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sentinel.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
