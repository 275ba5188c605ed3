package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/gpu"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/jobs"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/placement"
	"github.com/exocortex-initiative/forcefield/internal/preset"
	"github.com/exocortex-initiative/forcefield/internal/sim"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

// graphLoader and layoutSaver are the two store operations a layout job
// needs. *store.Store satisfies both.
type graphLoader interface {
	LoadGraph(ctx context.Context, name string) (*graphio.Graph, error)
}

type layoutSaver interface {
	SaveLayout(ctx context.Context, rec *store.LayoutRecord) (int64, error)
}

// newLayoutRunner builds the worker body: load the graph, run a headless
// simulation to convergence, persist the resulting layout version.
func newLayoutRunner(loader graphLoader, saver layoutSaver) jobs.Runner {
	log := logger.WithComponent("worker")
	return func(ctx context.Context, job jobs.Job) (jobs.Result, error) {
		cfg := config.Load()

		g, err := loader.LoadGraph(ctx, job.GraphName)
		if err != nil {
			err = fmt.Errorf("load graph %q: %w", job.GraphName, err)
			if errors.Is(err, store.ErrNotFound) {
				err = jobs.Permanent(err)
			}
			return jobs.Result{}, err
		}

		name := job.Preset
		if name == "" {
			name = cfg.DefaultPreset
		}
		p, ok, err := preset.Resolve(name, cfg.PresetDir)
		if err != nil {
			return jobs.Result{}, jobs.Permanent(fmt.Errorf("preset %q: %w", name, err))
		}
		if !ok {
			return jobs.Result{}, jobs.Permanent(fmt.Errorf("unknown preset %q", name))
		}

		e := sim.New(job.GraphName)
		defer e.Release()
		if err := p.Apply(e); err != nil {
			return jobs.Result{}, jobs.Permanent(fmt.Errorf("apply preset %q: %w", name, err))
		}
		if job.Placement != "" {
			e.SetPlacement(placement.ByName(job.Placement, job.Seed))
		}
		if job.Seed != 0 {
			e.SetSeed(uint64(job.Seed))
		}
		if err := e.SetNodes(g.Nodes); err != nil {
			return jobs.Result{}, jobs.Permanent(err)
		}
		if err := e.SetEdges(g.Edges); err != nil {
			return jobs.Result{}, jobs.Permanent(err)
		}

		// Same backend selection as interactive sessions; on any device
		// trouble the job just runs on the CPU.
		if cfg.GPUEnabled && len(g.Nodes) >= cfg.GPUMinNodes {
			if err := e.SetBackend(gpu.New()); err != nil {
				log.Warn("GPU backend unavailable for job, staying on CPU",
					"job", job.ID, "error", err)
			}
		}

		maxTicks := job.MaxTicks
		if maxTicks <= 0 {
			maxTicks = cfg.LayoutMaxTicks
		}
		ticks, err := e.RunToConvergence(ctx, maxTicks)
		if err != nil {
			return jobs.Result{}, fmt.Errorf("layout run: %w", err)
		}

		positions, err := e.Positions()
		if err != nil {
			return jobs.Result{}, err
		}
		version, err := saver.SaveLayout(ctx, &store.LayoutRecord{
			GraphName: job.GraphName,
			Tick:      e.Ticks(),
			Alpha:     e.Alpha(),
			Preset:    name,
			Backend:   e.BackendName(),
			Positions: positions,
		})
		if err != nil {
			return jobs.Result{}, fmt.Errorf("save layout: %w", err)
		}

		log.Info("layout job finished",
			"job", job.ID,
			"graph", job.GraphName,
			"preset", name,
			"ticks", ticks,
			"version", version)
		return jobs.Result{Ticks: uint64(ticks), Version: version}, nil
	}
}
