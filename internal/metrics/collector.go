package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/logger"
)

// GraphTotals aggregates persisted graph state for the dashboard gauges.
type GraphTotals struct {
	Graphs       int
	Nodes        int64
	Links        int64
	Groups       int64
	NodesByGroup map[int]int64
}

// SetGraphTotals publishes stored-graph aggregates. The per-group vec is
// reset first so groups that disappeared from the store drop their series
// instead of reporting a stale count forever.
func SetGraphTotals(t GraphTotals) {
	GraphsStored.Set(float64(t.Graphs))
	GraphEdgesTotal.Set(float64(t.Links))
	GroupsTotal.Set(float64(t.Groups))

	GraphNodesTotal.Reset()
	for grp, n := range t.NodesByGroup {
		GraphNodesTotal.WithLabelValues(strconv.Itoa(grp)).Set(float64(n))
	}
}

// MarkGraphTotalsStale pins the aggregates to -1 so dashboards alert on a
// broken collection pass instead of trusting the last good numbers.
func MarkGraphTotalsStale() {
	GraphsStored.Set(-1)
	GraphEdgesTotal.Set(-1)
	GroupsTotal.Set(-1)
	GraphNodesTotal.Reset()
}

// SetCacheUsage publishes point-in-time cache occupancy. Evictions arrive as
// a cumulative count from the cache itself, so it is exposed as a gauge
// rather than a counter this process increments.
func SetCacheUsage(items, sizeBytes int64, evictions uint64) {
	APICacheItems.Set(float64(items))
	APICacheSize.Set(float64(sizeBytes))
	APICacheEvictions.Set(float64(evictions))
}

// Source is one gauge producer. Sources are plain funcs so the collector
// never has to import the store or cache packages, which themselves depend
// on this one.
type Source struct {
	Name    string
	Collect func(ctx context.Context) error
}

// Collector periodically refreshes gauges that describe state rather than
// events.
type Collector struct {
	interval time.Duration
	sources  []Source
	stop     chan struct{}
}

// NewCollector creates a collector over the given sources.
func NewCollector(interval time.Duration, sources ...Source) *Collector {
	return &Collector{
		interval: interval,
		sources:  sources,
		stop:     make(chan struct{}),
	}
}

// Start runs the collection loop until Stop is called or ctx is cancelled.
// The first pass happens immediately so gauges are populated before the
// first interval elapses.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collectAll(ctx)

	for {
		select {
		case <-ticker.C:
			c.collectAll(ctx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the collection loop.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) collectAll(ctx context.Context) {
	for _, src := range c.sources {
		if err := src.Collect(ctx); err != nil {
			logger.WithComponent("metrics").Warn("metric collection failed", "collector", src.Name, "error", err)
			MetricsCollectionErrors.WithLabelValues(src.Name).Inc()
		}
	}
}
