// Package store persists graph documents and computed layouts in
// Postgres. Graphs are saved with replace semantics: uploading a name
// again overwrites the document, while SavePositions only touches
// coordinates and can skip writes below a movement threshold.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/metrics"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

// ErrNotFound is returned when a named graph or layout does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a Postgres connection for graph and layout persistence.
type Store struct {
	db          *sql.DB
	log         *slog.Logger
	batchSize   int
	stmtTimeout time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	cfg := config.Load()
	batch := cfg.DBBatchSize
	if batch <= 0 {
		batch = 1000
	}
	return &Store{
		db:          db,
		log:         logger.WithComponent("store"),
		batchSize:   batch,
		stmtTimeout: cfg.DBStatementTimeout,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection so callers can run raw SQL when needed.
func (s *Store) DB() *sql.DB {
	return s.db
}

const schema = `
CREATE TABLE IF NOT EXISTS graphs (
	name TEXT PRIMARY KEY,
	node_count INT NOT NULL DEFAULT 0,
	link_count INT NOT NULL DEFAULT 0,
	attrs JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS graph_nodes (
	graph_name TEXT NOT NULL REFERENCES graphs(name) ON DELETE CASCADE,
	id TEXT NOT NULL,
	x DOUBLE PRECISION,
	y DOUBLE PRECISION,
	fx DOUBLE PRECISION,
	fy DOUBLE PRECISION,
	mass DOUBLE PRECISION NOT NULL DEFAULT 0,
	radius DOUBLE PRECISION NOT NULL DEFAULT 0,
	grp INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (graph_name, id)
);
CREATE TABLE IF NOT EXISTS graph_links (
	graph_name TEXT NOT NULL REFERENCES graphs(name) ON DELETE CASCADE,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	distance DOUBLE PRECISION,
	strength DOUBLE PRECISION,
	link_type TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (graph_name, source, target)
);
CREATE TABLE IF NOT EXISTS layouts (
	graph_name TEXT NOT NULL REFERENCES graphs(name) ON DELETE CASCADE,
	version BIGINT NOT NULL,
	tick BIGINT NOT NULL DEFAULT 0,
	alpha DOUBLE PRECISION NOT NULL DEFAULT 0,
	preset TEXT NOT NULL DEFAULT '',
	backend TEXT NOT NULL DEFAULT '',
	positions JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (graph_name, version)
);
CREATE INDEX IF NOT EXISTS idx_graph_links_graph ON graph_links (graph_name);
CREATE INDEX IF NOT EXISTS idx_layouts_graph_version ON layouts (graph_name, version DESC);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// GraphInfo describes a stored graph without its node and link payload.
type GraphInfo struct {
	Name      string                `json:"name"`
	NodeCount int                   `json:"node_count"`
	LinkCount int                   `json:"link_count"`
	Attrs     pqtype.NullRawMessage `json:"attrs,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// LayoutRecord is one persisted layout result for a graph.
type LayoutRecord struct {
	GraphName string         `json:"graph_name"`
	Version   int64          `json:"version"`
	Tick      uint64         `json:"tick"`
	Alpha     float64        `json:"alpha"`
	Preset    string         `json:"preset"`
	Backend   string         `json:"backend"`
	Positions []sim.Position `json:"positions"`
	CreatedAt time.Time      `json:"created_at"`
}

func (s *Store) observe(op string, start time.Time, err error) {
	metrics.DBOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBOperationErrors.WithLabelValues(op).Inc()
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.stmtTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.stmtTimeout)
}

// SaveGraph stores a graph document, replacing any previous version
// under the same name. attrs may be nil.
func (s *Store) SaveGraph(ctx context.Context, g *graphio.Graph, attrs json.RawMessage) (err error) {
	start := time.Now()
	defer func() { s.observe("save_graph", start, err) }()

	if g.Name == "" {
		return errors.New("graph needs a name to be stored")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var attrsArg any
	if len(attrs) > 0 {
		attrsArg = []byte(attrs)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO graphs (name, node_count, link_count, attrs)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET node_count = EXCLUDED.node_count,
		    link_count = EXCLUDED.link_count,
		    attrs = COALESCE(EXCLUDED.attrs, graphs.attrs),
		    updated_at = now()`,
		g.Name, len(g.Nodes), len(g.Edges), attrsArg)
	if err != nil {
		return fmt.Errorf("failed to upsert graph row: %w", err)
	}

	if err = s.upsertNodes(ctx, tx, g.Name, g.Nodes); err != nil {
		return err
	}
	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM graph_nodes WHERE graph_name = $1 AND NOT (id = ANY($2))`,
		g.Name, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to prune removed nodes: %w", err)
	}

	// Links carry no layout state, so a full replace is cheapest.
	_, err = tx.ExecContext(ctx, `DELETE FROM graph_links WHERE graph_name = $1`, g.Name)
	if err != nil {
		return fmt.Errorf("failed to clear links: %w", err)
	}
	if err = s.insertLinks(ctx, tx, g.Name, g.Edges); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	s.log.Info("graph saved", "graph", g.Name, "nodes", len(g.Nodes), "links", len(g.Edges))
	return nil
}

type txlike interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertNodes(ctx context.Context, tx txlike, graph string, nodes []layout.NodeSpec) error {
	if len(nodes) == 0 {
		return nil
	}
	for start := 0; start < len(nodes); start += s.batchSize {
		end := start + s.batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		batch := nodes[start:end]
		var sb strings.Builder
		sb.WriteString("INSERT INTO graph_nodes (graph_name,id,x,y,fx,fy,mass,radius,grp) VALUES ")
		args := make([]any, 0, len(batch)*8+1)
		args = append(args, graph)
		idx := 2
		for i, n := range batch {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "($1,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				idx, idx+1, idx+2, idx+3, idx+4, idx+5, idx+6, idx+7)
			args = append(args, n.ID,
				nullFloat(n.X), nullFloat(n.Y), nullFloat(n.FX), nullFloat(n.FY),
				n.Mass, n.Radius, n.Group)
			idx += 8
		}
		sb.WriteString(" ON CONFLICT (graph_name,id) DO UPDATE SET" +
			" x=EXCLUDED.x,y=EXCLUDED.y,fx=EXCLUDED.fx,fy=EXCLUDED.fy," +
			"mass=EXCLUDED.mass,radius=EXCLUDED.radius,grp=EXCLUDED.grp,updated_at=now()")
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("failed to upsert node batch: %w", err)
		}
	}
	return nil
}

func (s *Store) insertLinks(ctx context.Context, tx txlike, graph string, links []layout.Edge) error {
	if len(links) == 0 {
		return nil
	}
	// Deduplicate (source,target) pairs client-side to avoid useless
	// conflict checks.
	uniq := make(map[string]layout.Edge, len(links))
	for _, l := range links {
		uniq[l.Source+"\x00"+l.Target] = l
	}
	dedup := make([]layout.Edge, 0, len(uniq))
	for _, l := range uniq {
		dedup = append(dedup, l)
	}
	for start := 0; start < len(dedup); start += s.batchSize {
		end := start + s.batchSize
		if end > len(dedup) {
			end = len(dedup)
		}
		batch := dedup[start:end]
		var sb strings.Builder
		sb.WriteString("INSERT INTO graph_links (graph_name,source,target,distance,strength,link_type) VALUES ")
		args := make([]any, 0, len(batch)*5+1)
		args = append(args, graph)
		idx := 2
		for i, l := range batch {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "($1,$%d,$%d,$%d,$%d,$%d)", idx, idx+1, idx+2, idx+3, idx+4)
			args = append(args, l.Source, l.Target, nullFloat(l.Distance), nullFloat(l.Strength), l.Type)
			idx += 5
		}
		sb.WriteString(" ON CONFLICT (graph_name,source,target) DO NOTHING")
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("failed to insert link batch: %w", err)
		}
	}
	return nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

// LoadGraph fetches a stored graph document by name.
func (s *Store) LoadGraph(ctx context.Context, name string) (g *graphio.Graph, err error) {
	start := time.Now()
	defer func() { s.observe("load_graph", start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var exists string
	err = s.db.QueryRowContext(ctx, `SELECT name FROM graphs WHERE name = $1`, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: graph %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up graph: %w", err)
	}

	g = &graphio.Graph{Name: name}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, x, y, fx, fy, mass, radius, grp
		FROM graph_nodes WHERE graph_name = $1 ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var spec layout.NodeSpec
		var x, y, fx, fy sql.NullFloat64
		if err = rows.Scan(&spec.ID, &x, &y, &fx, &fy, &spec.Mass, &spec.Radius, &spec.Group); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		spec.X, spec.Y, spec.FX, spec.FY = floatPtr(x), floatPtr(y), floatPtr(fx), floatPtr(fy)
		g.Nodes = append(g.Nodes, spec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading nodes: %w", err)
	}

	linkRows, err := s.db.QueryContext(ctx, `
		SELECT source, target, distance, strength, link_type
		FROM graph_links WHERE graph_name = $1 ORDER BY source, target`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var e layout.Edge
		var dist, str sql.NullFloat64
		if err = linkRows.Scan(&e.Source, &e.Target, &dist, &str, &e.Type); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		e.Distance, e.Strength = floatPtr(dist), floatPtr(str)
		g.Edges = append(g.Edges, e)
	}
	if err = linkRows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading links: %w", err)
	}
	return g, nil
}

// ListGraphs returns metadata for every stored graph.
func (s *Store) ListGraphs(ctx context.Context) (infos []GraphInfo, err error) {
	start := time.Now()
	defer func() { s.observe("list_graphs", start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, node_count, link_count, attrs, created_at, updated_at
		FROM graphs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var info GraphInfo
		if err = rows.Scan(&info.Name, &info.NodeCount, &info.LinkCount, &info.Attrs,
			&info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan graph info: %w", err)
		}
		infos = append(infos, info)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading graphs: %w", err)
	}
	return infos, nil
}

// DeleteGraph removes a graph and everything hanging off it.
func (s *Store) DeleteGraph(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete_graph", start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete graph: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: graph %q", ErrNotFound, name)
	}
	return nil
}

// SavePositions updates node coordinates in batches. When epsilon > 0,
// nodes that moved less than epsilon since the stored position are
// skipped. Returns the number of rows written.
func (s *Store) SavePositions(ctx context.Context, graph string, positions []sim.Position, epsilon float64) (updated int, err error) {
	start := time.Now()
	defer func() { s.observe("save_positions", start, err) }()

	if len(positions) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	write := positions
	if epsilon > 0 {
		write, err = s.filterUnmoved(ctx, graph, positions, epsilon)
		if err != nil {
			return 0, err
		}
	}
	if len(write) == 0 {
		return 0, nil
	}

	for batchStart := 0; batchStart < len(write); batchStart += s.batchSize {
		batchEnd := batchStart + s.batchSize
		if batchEnd > len(write) {
			batchEnd = len(write)
		}
		batch := write[batchStart:batchEnd]
		ids := make([]string, len(batch))
		xs := make([]float64, len(batch))
		ys := make([]float64, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
			xs[i] = p.X
			ys[i] = p.Y
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE graph_nodes AS n
			SET x = v.x, y = v.y, updated_at = now()
			FROM (SELECT unnest($2::text[]) AS id,
			             unnest($3::float8[]) AS x,
			             unnest($4::float8[]) AS y) AS v
			WHERE n.graph_name = $1 AND n.id = v.id`,
			graph, pq.Array(ids), pq.Array(xs), pq.Array(ys))
		if err != nil {
			return updated, fmt.Errorf("failed to update position batch %d-%d: %w", batchStart, batchEnd, err)
		}
		updated += len(batch)
	}
	return updated, nil
}

func (s *Store) filterUnmoved(ctx context.Context, graph string, positions []sim.Position, epsilon float64) ([]sim.Position, error) {
	ids := make([]string, len(positions))
	for i, p := range positions {
		ids[i] = p.ID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, x, y FROM graph_nodes WHERE graph_name = $1 AND id = ANY($2)`,
		graph, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query existing positions: %w", err)
	}
	defer rows.Close()

	existing := make(map[string][2]float64, len(positions))
	for rows.Next() {
		var id string
		var x, y sql.NullFloat64
		if err := rows.Scan(&id, &x, &y); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if x.Valid && y.Valid {
			existing[id] = [2]float64{x.Float64, y.Float64}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading positions: %w", err)
	}

	kept := make([]sim.Position, 0, len(positions))
	for _, p := range positions {
		if old, ok := existing[p.ID]; ok {
			dx := p.X - old[0]
			dy := p.Y - old[1]
			if dx*dx+dy*dy < epsilon*epsilon {
				continue
			}
		}
		kept = append(kept, p)
	}
	return kept, nil
}

// SaveLayout stores a layout result under the next version for its
// graph and returns the assigned version.
func (s *Store) SaveLayout(ctx context.Context, rec *LayoutRecord) (version int64, err error) {
	start := time.Now()
	defer func() { s.observe("save_layout", start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(rec.Positions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal positions: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO layouts (graph_name, version, tick, alpha, preset, backend, positions)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6
		FROM layouts WHERE graph_name = $1
		RETURNING version`,
		rec.GraphName, int64(rec.Tick), rec.Alpha, rec.Preset, rec.Backend, payload).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to insert layout: %w", err)
	}
	rec.Version = version
	return version, nil
}

// LatestLayout returns the most recent layout stored for a graph.
func (s *Store) LatestLayout(ctx context.Context, graph string) (rec *LayoutRecord, err error) {
	start := time.Now()
	defer func() { s.observe("latest_layout", start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec = &LayoutRecord{GraphName: graph}
	var tick int64
	var positions pqtype.NullRawMessage
	err = s.db.QueryRowContext(ctx, `
		SELECT version, tick, alpha, preset, backend, positions, created_at
		FROM layouts WHERE graph_name = $1
		ORDER BY version DESC LIMIT 1`, graph).
		Scan(&rec.Version, &tick, &rec.Alpha, &rec.Preset, &rec.Backend, &positions, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: layout for graph %q", ErrNotFound, graph)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query layout: %w", err)
	}
	rec.Tick = uint64(tick)
	if positions.Valid {
		if err = json.Unmarshal(positions.RawMessage, &rec.Positions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal positions: %w", err)
		}
	}
	return rec, nil
}

// PruneLayouts drops old layout versions, keeping the newest keep
// versions per graph. Returns the number of rows removed.
func (s *Store) PruneLayouts(ctx context.Context, graph string, keep int) (removed int64, err error) {
	start := time.Now()
	defer func() { s.observe("prune_layouts", start, err) }()

	if keep < 1 {
		keep = 1
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM layouts
		WHERE graph_name = $1
		  AND version <= (SELECT COALESCE(MAX(version), 0) - $2 FROM layouts WHERE graph_name = $1)`,
		graph, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune layouts: %w", err)
	}
	removed, _ = res.RowsAffected()
	return removed, nil
}

// CountGraphs reports how many graphs are stored.
func (s *Store) CountGraphs(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graphs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count graphs: %w", err)
	}
	return n, nil
}

// Totals aggregates stored graph state across every graph.
type Totals struct {
	Graphs       int
	Nodes        int64
	Links        int64
	Groups       int64
	NodesByGroup map[int]int64
}

// Totals reports aggregate counts over all stored graphs, including a
// per-group node breakdown.
func (s *Store) Totals(ctx context.Context) (t Totals, err error) {
	start := time.Now()
	defer func() { s.observe("totals", start, err) }()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(node_count), 0), COALESCE(SUM(link_count), 0)
		FROM graphs`).Scan(&t.Graphs, &t.Nodes, &t.Links)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to aggregate graphs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT grp, COUNT(*) FROM graph_nodes GROUP BY grp`)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to count nodes by group: %w", err)
	}
	defer rows.Close()

	t.NodesByGroup = make(map[int]int64)
	for rows.Next() {
		var grp int
		var n int64
		if err = rows.Scan(&grp, &n); err != nil {
			return Totals{}, fmt.Errorf("failed to scan group count: %w", err)
		}
		t.NodesByGroup[grp] = n
	}
	if err = rows.Err(); err != nil {
		return Totals{}, fmt.Errorf("failed reading group counts: %w", err)
	}
	t.Groups = int64(len(t.NodesByGroup))
	return t, nil
}
