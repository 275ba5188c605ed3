package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/exocortex-initiative/forcefield/internal/admin"
	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/cache"
	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/integrity"
	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/metrics"
	"github.com/exocortex-initiative/forcefield/internal/middleware"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

// GraphsHandler serves the stored graph documents.
type GraphsHandler struct {
	store    *store.Store
	cache    cache.Cache
	checker  *integrity.Checker
	fetcher  *store.Fetcher
	sanitize middleware.SanitizeInput
	maxNodes int
	maxBytes int64
	cacheTTL time.Duration
}

// NewGraphsHandler creates a graph handler. A nil store disables
// persistence; the graph endpoints then answer 503.
func NewGraphsHandler(st *store.Store, c cache.Cache) *GraphsHandler {
	cfg := config.Load()
	return &GraphsHandler{
		store:    st,
		cache:    c,
		checker:  integrity.NewChecker(),
		fetcher:  store.NewFetcher(),
		maxNodes: cfg.SimMaxNodes,
		maxBytes: cfg.MaxFetchBytes,
		cacheTTL: cfg.CacheTTL,
	}
}

func (h *GraphsHandler) requireStore(w http.ResponseWriter, r *http.Request) bool {
	if h.store == nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Graph persistence is disabled, set DATABASE_URL"))
		return false
	}
	return true
}

func graphCacheKey(name string) string  { return "graph:" + name }
func layoutCacheKey(name string) string { return "layout:" + name + ":latest" }

func (h *GraphsHandler) invalidate(name string) {
	h.cache.Delete(graphCacheKey(name))
	h.cache.Delete(layoutCacheKey(name))
}

// UploadGraph stores a graph document.
// POST /api/graphs?name=social-net   (JSON or NDJSON body)
func (h *GraphsHandler) UploadGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	if enabled, _ := admin.GetBool(ctx, h.store.DB(), admin.KeyUploadsEnabled, true); !enabled {
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Graph uploads are paused"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	g, err := decodeGraphBody(r)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.GraphInvalidDocument(err.Error()))
		return
	}

	if name := r.URL.Query().Get("name"); name != "" {
		g.Name = name
	}
	if err := h.sanitize.ValidateGraphName(g.Name); err != nil {
		if strings.TrimSpace(g.Name) == "" {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("name"))
			return
		}
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("name", err.Error()))
		return
	}
	if len(g.Nodes) > h.maxNodes {
		apierr.WriteErrorWithContext(w, r, apierr.GraphTooLarge(len(g.Nodes), h.maxNodes))
		return
	}

	if err := h.store.SaveGraph(ctx, g, nil); err != nil {
		logger.ErrorContext(ctx, "Failed to save graph", "graph", g.Name, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to save graph"))
		return
	}
	h.invalidate(g.Name)

	writeJSON(w, http.StatusCreated, map[string]any{
		"name":  g.Name,
		"nodes": len(g.Nodes),
		"links": len(g.Edges),
	})
}

// decodeGraphBody picks the wire format from the Content-Type. NDJSON
// streams use the envelope framing, everything else is one JSON document.
func decodeGraphBody(r *http.Request) (*graphio.Graph, error) {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "ndjson") {
		return graphio.DecodeNDJSON(r.Body)
	}
	return graphio.Decode(r.Body)
}

// FetchGraph pulls a graph document from a URL and stores it.
// POST /api/graphs/fetch  {"url": "...", "name": "..."}
func (h *GraphsHandler) FetchGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	if enabled, _ := admin.GetBool(ctx, h.store.DB(), admin.KeyUploadsEnabled, true); !enabled {
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Graph uploads are paused"))
		return
	}

	var req struct {
		URL  string `json:"url"`
		Name string `json:"name,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}
	if req.URL == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("url"))
		return
	}

	g, err := h.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		logger.WarnContext(ctx, "Graph fetch failed", "url", req.URL, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.GraphFetchFailed(err.Error()))
		return
	}
	if req.Name != "" {
		g.Name = req.Name
	}
	if err := h.sanitize.ValidateGraphName(g.Name); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("name", err.Error()))
		return
	}
	if len(g.Nodes) > h.maxNodes {
		apierr.WriteErrorWithContext(w, r, apierr.GraphTooLarge(len(g.Nodes), h.maxNodes))
		return
	}

	if err := h.store.SaveGraph(ctx, g, nil); err != nil {
		logger.ErrorContext(ctx, "Failed to save fetched graph", "graph", g.Name, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to save graph"))
		return
	}
	h.invalidate(g.Name)

	writeJSON(w, http.StatusCreated, map[string]any{
		"name":  g.Name,
		"nodes": len(g.Nodes),
		"links": len(g.Edges),
	})
}

// ListGraphs returns the stored graph inventory.
// GET /api/graphs
func (h *GraphsHandler) ListGraphs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	infos, err := h.store.ListGraphs(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list graphs", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to list graphs"))
		return
	}
	if infos == nil {
		infos = []store.GraphInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"graphs": infos,
		"count":  len(infos),
	})
}

// GetGraph returns one stored graph document.
// GET /api/graphs/{name}
func (h *GraphsHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	cacheKey := graphCacheKey(name)
	if cached, found := h.cache.Get(cacheKey); found {
		metrics.APICacheHits.WithLabelValues("graph").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		_, _ = w.Write(cached)
		return
	}
	metrics.APICacheMisses.WithLabelValues("graph").Inc()

	g, err := h.store.LoadGraph(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.WriteErrorWithContext(w, r, apierr.GraphNotFound(name))
			return
		}
		logger.ErrorContext(ctx, "Failed to load graph", "graph", name, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to load graph"))
		return
	}

	data, err := json.Marshal(g)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal("Failed to serialize graph"))
		return
	}
	h.cache.Set(cacheKey, data, h.cacheTTL)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	_, _ = w.Write(data)
}

// DeleteGraph removes a stored graph and everything hanging off it.
// DELETE /api/graphs/{name}
func (h *GraphsHandler) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	if err := h.store.DeleteGraph(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.WriteErrorWithContext(w, r, apierr.GraphNotFound(name))
			return
		}
		logger.ErrorContext(ctx, "Failed to delete graph", "graph", name, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to delete graph"))
		return
	}
	h.invalidate(name)

	_ = admin.LogAction(ctx, h.store.DB(), "delete_graph", "graph", name, nil, clientIP(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

// CheckIntegrity runs the integrity checks against a stored graph.
// GET /api/graphs/{name}/integrity
func (h *GraphsHandler) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	g, err := h.store.LoadGraph(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.WriteErrorWithContext(w, r, apierr.GraphNotFound(name))
			return
		}
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to load graph"))
		return
	}

	report := h.checker.Check(g)
	writeJSON(w, http.StatusOK, report)
}

// RepairGraph applies integrity fixes and saves the result. The request
// body may carry repair options; an empty body applies the defaults.
// POST /api/graphs/{name}/repair
func (h *GraphsHandler) RepairGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	opts := integrity.DefaultRepair()
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
			return
		}
	}

	g, err := h.store.LoadGraph(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.WriteErrorWithContext(w, r, apierr.GraphNotFound(name))
			return
		}
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to load graph"))
		return
	}

	result := h.checker.Repair(g, opts)
	if result.Changed() {
		if err := h.store.SaveGraph(ctx, g, nil); err != nil {
			logger.ErrorContext(ctx, "Failed to save repaired graph", "graph", name, "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to save repaired graph"))
			return
		}
		h.invalidate(name)
		details, _ := json.Marshal(result)
		_ = admin.LogAction(ctx, h.store.DB(), "repair_graph", "graph", name, details, clientIP(r))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"repair": result,
		"nodes":  len(g.Nodes),
		"links":  len(g.Edges),
	})
}

// DetectGroups runs modularity grouping over a stored graph and persists
// the labels. Graphs that already carry groups are left alone unless the
// request forces a recompute.
// POST /api/graphs/{name}/groups  {"seed": 42, "force": false}
func (h *GraphsHandler) DetectGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	var req struct {
		Seed  int64 `json:"seed,omitempty"`
		Force bool  `json:"force,omitempty"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
			return
		}
	}

	g, err := h.store.LoadGraph(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.WriteErrorWithContext(w, r, apierr.GraphNotFound(name))
			return
		}
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to load graph"))
		return
	}

	if hasGroupLabels(g.Nodes) && !req.Force {
		apierr.WriteErrorWithContext(w, r, apierr.ResourceConflict("Graph already has group labels, pass force to recompute"))
		return
	}

	result := assignGraphGroups(g, req.Seed)
	if err := h.store.SaveGraph(ctx, g, nil); err != nil {
		logger.ErrorContext(ctx, "Failed to save grouped graph", "graph", name, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to save graph"))
		return
	}
	h.invalidate(name)

	details, _ := json.Marshal(map[string]any{"groups": result.Groups, "modularity": result.Modularity})
	_ = admin.LogAction(ctx, h.store.DB(), "detect_groups", "graph", name, details, clientIP(r))

	writeJSON(w, http.StatusOK, map[string]any{
		"graph":      name,
		"nodes":      len(g.Nodes),
		"groups":     result.Groups,
		"modularity": result.Modularity,
	})
}

// hasGroupLabels reports whether any node carries a nonzero group. Zero is
// the default for unlabeled nodes, so an all-zero document counts as
// ungrouped.
func hasGroupLabels(specs []layout.NodeSpec) bool {
	for _, s := range specs {
		if s.Group != 0 {
			return true
		}
	}
	return false
}

// assignGraphGroups detects groups over the document and writes the labels
// back onto the node specs.
func assignGraphGroups(g *graphio.Graph, seed int64) *layout.GroupResult {
	nodes := layout.BuildNodes(g.Nodes)
	result := layout.DetectGroups(nodes, g.Edges, seed)
	for i := range g.Nodes {
		if grp, ok := result.ByNode[g.Nodes[i].ID]; ok {
			g.Nodes[i].Group = grp
		}
	}
	return result
}

// GetLatestLayout returns the most recent persisted layout for a graph.
// GET /api/graphs/{name}/layout
func (h *GraphsHandler) GetLatestLayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireStore(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	cacheKey := layoutCacheKey(name)
	if cached, found := h.cache.Get(cacheKey); found {
		metrics.APICacheHits.WithLabelValues("layout").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		_, _ = w.Write(cached)
		return
	}
	metrics.APICacheMisses.WithLabelValues("layout").Inc()

	rec, err := h.store.LatestLayout(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e := apierr.ResourceNotFound("layout").WithDetails(map[string]interface{}{"graph": name})
			apierr.WriteErrorWithContext(w, r, e)
			return
		}
		logger.ErrorContext(ctx, "Failed to load layout", "graph", name, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to load layout"))
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal("Failed to serialize layout"))
		return
	}
	h.cache.Set(cacheKey, data, h.cacheTTL)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	_, _ = w.Write(data)
}
