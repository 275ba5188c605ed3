package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"

	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/metrics"
	"github.com/exocortex-initiative/forcefield/internal/store"
	"github.com/exocortex-initiative/forcefield/internal/tracing"
)

// parseExportFormat normalizes the format query parameter against the
// allowed set.
func parseExportFormat(raw string, allowed ...string) (string, bool) {
	format := strings.ToLower(strings.TrimSpace(raw))
	if format == "" {
		return allowed[0], true
	}
	for _, a := range allowed {
		if format == a {
			return format, true
		}
	}
	return format, false
}

// ExportPositions streams the current positions as a download.
// GET /api/simulations/{id}/export?format=json|ndjson|csv
func (h *SimulationsHandler) ExportPositions(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.StartSpan(r.Context(), "handlers.ExportPositions")
	defer span.End()

	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	format, ok := parseExportFormat(r.URL.Query().Get("format"), "json", "ndjson", "csv")
	if !ok {
		apierr.WriteErrorWithContext(w, r,
			apierr.ValidationInvalidValue("format", "format must be json, ndjson or csv"))
		return
	}

	e := s.Engine()
	positions, err := e.Positions()
	if err != nil {
		h.writeEngineError(w, r, s.ID, err)
		return
	}

	export := &graphio.PositionExport{
		Name:      e.Name(),
		Backend:   e.BackendName(),
		Tick:      e.Ticks(),
		Alpha:     e.Alpha(),
		Positions: positions,
	}

	span.SetAttributes(
		attribute.String("format", format),
		attribute.Int("nodes", len(positions)),
	)
	metrics.APIRequestsTotal.WithLabelValues("/api/simulations/export", "GET", "200").Inc()

	filename := fmt.Sprintf("attachment; filename=%s_positions.%s", s.ID, format)
	switch format {
	case "ndjson":
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", filename)
		err = graphio.EncodePositionsNDJSON(w, export)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", filename)
		err = graphio.EncodePositionsCSV(w, export)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", filename)
		err = graphio.EncodePositions(w, export)
	}
	if err != nil {
		// Headers are gone already, all that is left is the log line.
		logger.ErrorContext(r.Context(), "Failed to stream position export", "simulation", s.ID, "error", err)
	}
}

// ExportGraph streams a stored graph document as a download.
// GET /api/graphs/{name}/export?format=json|ndjson
func (h *GraphsHandler) ExportGraph(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "handlers.ExportGraph")
	defer span.End()

	if !h.requireStore(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	format, ok := parseExportFormat(r.URL.Query().Get("format"), "json", "ndjson")
	if !ok {
		apierr.WriteErrorWithContext(w, r,
			apierr.ValidationInvalidValue("format", "format must be json or ndjson"))
		return
	}

	g, err := h.store.LoadGraph(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.WriteErrorWithContext(w, r, apierr.GraphNotFound(name))
			return
		}
		logger.ErrorContext(ctx, "Failed to load graph for export", "graph", name, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to load graph"))
		return
	}

	span.SetAttributes(
		attribute.String("format", format),
		attribute.String("graph", name),
		attribute.Int("nodes", len(g.Nodes)),
		attribute.Int("links", len(g.Edges)),
	)
	metrics.APIRequestsTotal.WithLabelValues("/api/graphs/export", "GET", "200").Inc()

	filename := fmt.Sprintf("attachment; filename=%s.%s", name, format)
	if format == "ndjson" {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", filename)
		err = graphio.EncodeNDJSON(w, g)
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", filename)
		err = graphio.Encode(w, g)
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to stream graph export", "graph", name, "error", err)
	}
}
