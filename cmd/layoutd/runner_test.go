package main

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/jobs"
	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

type fakeStore struct {
	graphs  map[string]*graphio.Graph
	saved   []*store.LayoutRecord
	version int64
	saveErr error
}

func (f *fakeStore) LoadGraph(ctx context.Context, name string) (*graphio.Graph, error) {
	g, ok := f.graphs[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) SaveLayout(ctx context.Context, rec *store.LayoutRecord) (int64, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.version++
	rec.Version = f.version
	f.saved = append(f.saved, rec)
	return f.version, nil
}

func runnerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GPU_ENABLED", "false")
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)
}

func chainGraph(name string) *graphio.Graph {
	return &graphio.Graph{
		Name:  name,
		Nodes: []layout.NodeSpec{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		Edges: []layout.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "d"},
		},
	}
}

func TestLayoutRunnerProducesLayout(t *testing.T) {
	runnerEnv(t)
	fs := &fakeStore{graphs: map[string]*graphio.Graph{"web": chainGraph("web")}}
	run := newLayoutRunner(fs, fs)

	res, err := run(context.Background(), jobs.Job{ID: "j1", GraphName: "web", MaxTicks: 50})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Ticks != 50 {
		t.Errorf("expected the full 50 tick budget, got %d", res.Ticks)
	}
	if res.Version != 1 {
		t.Errorf("expected layout version 1, got %d", res.Version)
	}
	if len(fs.saved) != 1 {
		t.Fatalf("expected one saved layout, got %d", len(fs.saved))
	}

	rec := fs.saved[0]
	if rec.GraphName != "web" {
		t.Errorf("expected graph name web, got %q", rec.GraphName)
	}
	if rec.Backend != "cpu" {
		t.Errorf("expected cpu backend, got %q", rec.Backend)
	}
	if rec.Preset != "default" {
		t.Errorf("expected the default preset, got %q", rec.Preset)
	}
	if rec.Tick != 50 {
		t.Errorf("expected record tick 50, got %d", rec.Tick)
	}
	if len(rec.Positions) != 4 {
		t.Fatalf("expected 4 positions, got %d", len(rec.Positions))
	}
	for _, p := range rec.Positions {
		if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
			t.Errorf("node %s has a non-finite position (%v, %v)", p.ID, p.X, p.Y)
		}
	}
}

func TestLayoutRunnerSeedIsDeterministic(t *testing.T) {
	runnerEnv(t)
	fs := &fakeStore{graphs: map[string]*graphio.Graph{"web": chainGraph("web")}}
	run := newLayoutRunner(fs, fs)

	for i := 0; i < 2; i++ {
		if _, err := run(context.Background(), jobs.Job{GraphName: "web", Seed: 7, MaxTicks: 30}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	a, b := fs.saved[0].Positions, fs.saved[1].Positions
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("position %d differs between identically seeded runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestLayoutRunnerUnknownGraph(t *testing.T) {
	runnerEnv(t)
	fs := &fakeStore{graphs: map[string]*graphio.Graph{}}
	run := newLayoutRunner(fs, fs)

	_, err := run(context.Background(), jobs.Job{ID: "j1", GraphName: "ghost"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLayoutRunnerUnknownPreset(t *testing.T) {
	runnerEnv(t)
	fs := &fakeStore{graphs: map[string]*graphio.Graph{"web": chainGraph("web")}}
	run := newLayoutRunner(fs, fs)

	_, err := run(context.Background(), jobs.Job{GraphName: "web", Preset: "does-not-exist"})
	if err == nil || !strings.Contains(err.Error(), "unknown preset") {
		t.Fatalf("expected an unknown preset error, got %v", err)
	}
}

func TestLayoutRunnerSaveFailure(t *testing.T) {
	runnerEnv(t)
	fs := &fakeStore{
		graphs:  map[string]*graphio.Graph{"web": chainGraph("web")},
		saveErr: errors.New("disk full"),
	}
	run := newLayoutRunner(fs, fs)

	_, err := run(context.Background(), jobs.Job{GraphName: "web", MaxTicks: 10})
	if err == nil || !strings.Contains(err.Error(), "save layout") {
		t.Fatalf("expected a save layout error, got %v", err)
	}
}

func TestLayoutRunnerHonorsContext(t *testing.T) {
	runnerEnv(t)
	fs := &fakeStore{graphs: map[string]*graphio.Graph{"web": chainGraph("web")}}
	run := newLayoutRunner(fs, fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := run(ctx, jobs.Job{GraphName: "web"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
