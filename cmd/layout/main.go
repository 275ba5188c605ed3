package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/gpu"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/placement"
	"github.com/exocortex-initiative/forcefield/internal/preset"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

func main() {
	presetName := flag.String("preset", "", "Force preset to apply (default: DEFAULT_PRESET)")
	placementName := flag.String("placement", "", "Initial placement: phyllotaxis, random, grid, noise")
	seed := flag.Int64("seed", 0, "Seed for deterministic runs (0 = engine default)")
	maxTicks := flag.Int("max-ticks", 0, "Tick budget (0 = run the cooling schedule to convergence)")
	backend := flag.String("backend", "auto", "Compute backend: auto, cpu, gpu")
	out := flag.String("out", "", "Output path, format by extension: .json, .ndjson, .csv (default: JSON to stdout)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: layout [options] <graph-file>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Runs a force-directed layout over a graph document and writes the")
		fmt.Fprintln(os.Stderr, "final node positions. Pass - to read the graph from stdin.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Presets: %s\n", strings.Join(preset.Names(), ", "))
	}
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	g := readGraph(flag.Arg(0))
	if len(g.Nodes) == 0 {
		log.Fatal("Graph has no nodes")
	}

	name := *presetName
	if name == "" {
		name = cfg.DefaultPreset
	}
	p, ok, err := preset.Resolve(name, cfg.PresetDir)
	if err != nil {
		log.Fatalf("Failed to load preset %q: %v", name, err)
	}
	if !ok {
		log.Fatalf("Unknown preset %q (known: %s)", name, strings.Join(preset.Names(), ", "))
	}

	e := sim.New(g.Name)
	defer e.Release()
	if err := p.Apply(e); err != nil {
		log.Fatalf("Failed to apply preset %q: %v", name, err)
	}
	if *placementName != "" {
		e.SetPlacement(placement.ByName(*placementName, *seed))
	}
	if *seed != 0 {
		e.SetSeed(uint64(*seed))
	}
	if err := e.SetNodes(g.Nodes); err != nil {
		log.Fatalf("Failed to load nodes: %v", err)
	}
	if err := e.SetEdges(g.Edges); err != nil {
		log.Fatalf("Failed to load links: %v", err)
	}

	selectBackend(e, *backend, cfg, len(g.Nodes))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	ticks, err := e.RunToConvergence(ctx, *maxTicks)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Warn("Interrupted, writing positions computed so far", "ticks", ticks)
	case err != nil:
		log.Fatalf("Layout failed after %d ticks: %v", ticks, err)
	}

	positions, err := e.Positions()
	if err != nil {
		log.Fatalf("Failed to read positions: %v", err)
	}
	exp := &graphio.PositionExport{
		Name:      g.Name,
		Backend:   e.BackendName(),
		Tick:      e.Ticks(),
		Alpha:     e.Alpha(),
		Positions: positions,
	}

	if *out != "" {
		if err := graphio.WritePositionsFile(*out, exp); err != nil {
			log.Fatalf("Failed to write %s: %v", *out, err)
		}
	} else if err := graphio.EncodePositions(os.Stdout, exp); err != nil {
		log.Fatalf("Failed to encode positions: %v", err)
	}

	logger.Info("Layout finished",
		"graph", g.Name, "nodes", len(g.Nodes), "links", len(g.Edges),
		"preset", name, "backend", e.BackendName(),
		"ticks", ticks, "alpha", e.Alpha(), "duration", time.Since(start))
}

func readGraph(path string) *graphio.Graph {
	if path == "" {
		flag.Usage()
		os.Exit(2)
	}
	if path == "-" {
		g, err := graphio.Decode(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read graph from stdin: %v", err)
		}
		return g
	}
	g, err := graphio.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	return g
}

// selectBackend applies the -backend flag. auto follows the same rules as
// the service: GPU when enabled and the graph is big enough to benefit.
func selectBackend(e *sim.Engine, mode string, cfg *config.Config, nodes int) {
	switch mode {
	case "cpu":
	case "gpu":
		if err := e.SetBackend(gpu.New()); err != nil {
			log.Fatalf("GPU backend unavailable: %v", err)
		}
	case "auto":
		if cfg.GPUEnabled && nodes >= cfg.GPUMinNodes {
			if err := e.SetBackend(gpu.New()); err != nil {
				logger.Warn("GPU backend unavailable, staying on CPU", "error", err)
			}
		}
	default:
		log.Fatalf("Unknown backend %q (known: auto, cpu, gpu)", mode)
	}
}
