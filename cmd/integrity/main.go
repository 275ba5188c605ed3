package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/integrity"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

func main() {
	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
	checkGraph := checkCmd.String("graph", "", "Check a stored graph by name instead of a file")

	repairCmd := flag.NewFlagSet("repair", flag.ExitOnError)
	repairGraph := repairCmd.String("graph", "", "Repair a stored graph by name instead of a file")
	repairOut := repairCmd.String("out", "", "Write the repaired document here (default: overwrite the input)")
	repairOrphans := repairCmd.Bool("drop-orphans", false, "Also drop nodes no link touches")
	repairDryRun := repairCmd.Bool("dry-run", false, "Report issues without changing anything")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	switch os.Args[1] {
	case "check":
		checkCmd.Parse(os.Args[2:])
		g, source := loadInput(ctx, cfg, *checkGraph, checkCmd.Arg(0))
		runCheck(g, source)
	case "repair":
		repairCmd.Parse(os.Args[2:])
		runRepair(ctx, cfg, *repairGraph, repairCmd.Arg(0), *repairOut, *repairOrphans, *repairDryRun)
	case "stats":
		statsCmd.Parse(os.Args[2:])
		runStats(ctx, cfg)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Forcefield - Graph Integrity Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  integrity check <file>             - Run integrity checks on a graph document")
	fmt.Println("  integrity check -graph <name>      - Run integrity checks on a stored graph")
	fmt.Println("  integrity repair [options] <file>  - Repair a graph document")
	fmt.Println("  integrity stats                    - Show stored graph statistics")
	fmt.Println()
	fmt.Println("Repair options:")
	fmt.Println("  -graph string    Repair a stored graph by name (requires DATABASE_URL)")
	fmt.Println("  -out string      Write the repaired document here (default: overwrite the input)")
	fmt.Println("  -drop-orphans    Also drop nodes no link touches (default: false)")
	fmt.Println("  -dry-run         Report issues without changing anything")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  integrity check web.json")
	fmt.Println("  integrity check -graph social")
	fmt.Println("  integrity repair -dry-run web.json")
	fmt.Println("  integrity repair -out fixed.json web.ndjson")
	fmt.Println("  integrity repair -graph social -drop-orphans")
	fmt.Println("  integrity stats")
}

func openStore(cfg *config.Config) *store.Store {
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return st
}

// loadInput reads the graph to work on, either a stored graph by name or
// a document file.
func loadInput(ctx context.Context, cfg *config.Config, graphName, path string) (*graphio.Graph, string) {
	if graphName != "" {
		st := openStore(cfg)
		defer st.Close()
		g, err := st.LoadGraph(ctx, graphName)
		if err != nil {
			log.Fatalf("Failed to load graph %q: %v", graphName, err)
		}
		return g, "graph " + graphName
	}
	if path == "" {
		printUsage()
		os.Exit(1)
	}
	g, err := graphio.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	return g, path
}

func runCheck(g *graphio.Graph, source string) {
	report := integrity.NewChecker().Check(g)

	fmt.Println()
	fmt.Printf("=== Integrity Check: %s ===\n", source)
	fmt.Println()
	for _, result := range report.Checks {
		status := "OK"
		if result.HasIssues {
			status = fmt.Sprintf("ISSUES FOUND: %d", result.IssueCount)
		}
		fmt.Printf("%-30s %s\n", result.CheckName+":", status)
		fmt.Printf("  %s\n", result.Details)
		if len(result.SampleIDs) > 0 {
			fmt.Printf("  samples: %s\n", strings.Join(result.SampleIDs, ", "))
		}
		fmt.Println()
	}

	if report.Clean {
		fmt.Println("All integrity checks passed!")
		return
	}
	fmt.Printf("Total issues: %d\n", report.TotalIssues)
	fmt.Println("Run 'integrity repair' to fix them")
	os.Exit(1)
}

func runRepair(ctx context.Context, cfg *config.Config, graphName, path, out string, dropOrphans, dryRun bool) {
	g, source := loadInput(ctx, cfg, graphName, path)
	checker := integrity.NewChecker()

	if dryRun {
		log.Println("Running in DRY-RUN mode (no changes will be made)")
		report := checker.Check(g)
		fmt.Println()
		fmt.Println("=== Dry-Run: Would Repair ===")
		for _, result := range report.Checks {
			if result.HasIssues {
				fmt.Printf("%s: %d items\n", result.CheckName, result.IssueCount)
			}
		}
		if report.Clean {
			fmt.Println("Nothing to repair.")
		}
		return
	}

	opts := integrity.DefaultRepair()
	opts.DropOrphans = dropOrphans

	start := time.Now()
	result := checker.Repair(g, opts)
	if !result.Changed() {
		fmt.Printf("%s is already clean, nothing written\n", source)
		return
	}

	fmt.Printf("Repaired %s:\n", source)
	fmt.Printf("  - Dropped %d nodes\n", result.NodesDropped)
	fmt.Printf("  - Dropped %d links\n", result.LinksDropped)
	fmt.Printf("  - Cleared %d non-finite coordinates\n", result.CoordsCleared)
	fmt.Printf("  - Reset %d invalid attributes\n", result.AttributesReset)

	if graphName != "" {
		st := openStore(cfg)
		defer st.Close()
		if err := st.SaveGraph(ctx, g, nil); err != nil {
			log.Fatalf("Failed to save graph %q: %v", graphName, err)
		}
	} else {
		if out == "" {
			out = path
		}
		if err := graphio.WriteFile(out, g); err != nil {
			log.Fatalf("Failed to write %s: %v", out, err)
		}
		fmt.Printf("Wrote %s\n", out)
	}
	fmt.Printf("Time taken: %v\n", time.Since(start))
}

func runStats(ctx context.Context, cfg *config.Config) {
	st := openStore(cfg)
	defer st.Close()

	log.Println("Retrieving graph statistics...")
	graphs, err := st.ListGraphs(ctx)
	if err != nil {
		log.Fatalf("Failed to list graphs: %v", err)
	}
	totals, err := st.Totals(ctx)
	if err != nil {
		log.Fatalf("Failed to aggregate totals: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Stored Graphs ===")
	fmt.Println()
	fmt.Printf("%-30s %10s %10s %20s %20s\n", "Graph", "Nodes", "Links", "Created", "Updated")
	fmt.Println(strings.Repeat("-", 95))
	for _, g := range graphs {
		fmt.Printf("%-30s %10d %10d %20s %20s\n",
			g.Name, g.NodeCount, g.LinkCount,
			g.CreatedAt.Format("2006-01-02 15:04"),
			g.UpdatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
	fmt.Printf("Total: %d graphs, %d nodes, %d links across %d groups\n",
		totals.Graphs, totals.Nodes, totals.Links, totals.Groups)
}
