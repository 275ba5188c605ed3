package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/preset"
)

// PresetsHandler lists the force presets a simulation can start from.
type PresetsHandler struct {
	dir string
}

func NewPresetsHandler() *PresetsHandler {
	return &PresetsHandler{dir: config.Load().PresetDir}
}

// presetSummary is the wire form of a preset. The TOML sections stay
// internal, clients only need the knobs to show in a picker.
type presetSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source"` // "builtin" or "file"
	Placement   string   `json:"placement,omitempty"`
	Forces      []string `json:"forces"`
	Issues      []string `json:"issues,omitempty"`
}

func summarize(p preset.Preset, source string) presetSummary {
	var forces []string
	if p.Charge != nil {
		forces = append(forces, "charge")
	}
	if p.Radial != nil {
		forces = append(forces, "radial")
	}
	if p.AxisX != nil {
		forces = append(forces, "x")
	}
	if p.AxisY != nil {
		forces = append(forces, "y")
	}
	if p.Center != nil {
		forces = append(forces, "center")
	}
	if p.Link != nil {
		forces = append(forces, "link")
	}
	if p.Collide != nil {
		forces = append(forces, "collision")
	}
	return presetSummary{
		Name:        p.Name,
		Description: p.Description,
		Source:      source,
		Placement:   p.Placement.Strategy,
		Forces:      forces,
		Issues:      p.Validate(),
	}
}

// ListPresets returns the built-in presets plus any TOML files in the
// preset directory. A file with a builtin's name shadows the builtin.
// GET /api/presets
func (h *PresetsHandler) ListPresets(w http.ResponseWriter, r *http.Request) {
	byName := make(map[string]presetSummary)
	for _, name := range preset.Names() {
		if p, ok := preset.Builtin(name); ok {
			byName[name] = summarize(p, "builtin")
		}
	}

	if h.dir != "" {
		entries, err := os.ReadDir(h.dir)
		if err != nil && !os.IsNotExist(err) {
			logger.WarnContext(r.Context(), "Failed to read preset directory", "dir", h.dir, "error", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
				continue
			}
			p, err := preset.LoadFile(filepath.Join(h.dir, entry.Name()))
			if err != nil {
				logger.WarnContext(r.Context(), "Skipping unreadable preset file", "file", entry.Name(), "error", err)
				continue
			}
			byName[p.Name] = summarize(p, "file")
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	presets := make([]presetSummary, 0, len(names))
	for _, name := range names {
		presets = append(presets, byName[name])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"presets": presets,
		"count":   len(presets),
		"default": config.Load().DefaultPreset,
	})
}

// GetPreset returns one preset by name, preferring a file over a builtin
// to match what simulation create resolves.
// GET /api/presets/{name}
func (h *PresetsHandler) GetPreset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if h.dir != "" {
		p, err := preset.LoadFile(filepath.Join(h.dir, name+".toml"))
		if err == nil {
			writeJSON(w, http.StatusOK, summarize(p, "file"))
			return
		}
		if !errors.Is(err, os.ErrNotExist) {
			logger.WarnContext(r.Context(), "Failed to load preset file", "preset", name, "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.PresetInvalid(err.Error()))
			return
		}
	}

	if p, ok := preset.Builtin(name); ok {
		writeJSON(w, http.StatusOK, summarize(p, "builtin"))
		return
	}
	apierr.WriteErrorWithContext(w, r, apierr.PresetNotFound(name))
}
