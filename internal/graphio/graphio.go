// Package graphio reads and writes the graph interchange documents: whole
// graphs for upload and generation, position exports for results. Two
// encodings are supported everywhere: a plain JSON document and NDJSON,
// one envelope per line with a trailing meta line that lets a reader detect
// a truncated stream.
package graphio

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

// Graph is the interchange document. The edge key is "links" to match the
// d3-style JSON most graph tooling produces.
type Graph struct {
	Name  string            `json:"name,omitempty"`
	Nodes []layout.NodeSpec `json:"nodes"`
	Edges []layout.Edge     `json:"links"`
}

// PositionExport is the result document a finished layout writes.
type PositionExport struct {
	Name      string         `json:"name,omitempty"`
	Backend   string         `json:"backend,omitempty"`
	Tick      uint64         `json:"tick"`
	Alpha     float64        `json:"alpha"`
	Positions []sim.Position `json:"positions"`
}

// Envelope is one NDJSON line. Type is "node", "link", "position" or
// "meta"; meta carries the totals written before it.
type Envelope struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	TotalNodes *int            `json:"total_nodes,omitempty"`
	TotalLinks *int            `json:"total_links,omitempty"`
}

// Decode reads one graph document from JSON.
func Decode(r io.Reader) (*Graph, error) {
	var g Graph
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return &g, nil
}

// Encode writes a graph as one JSON document.
func Encode(w io.Writer, g *Graph) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(g); err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return nil
}

// DecodeNDJSON reads a graph from envelope lines. A trailing meta line is
// optional; when present its totals must match what was read, catching
// streams cut off mid-transfer.
func DecodeNDJSON(r io.Reader) (*Graph, error) {
	g := &Graph{}
	var meta *Envelope

	dec := json.NewDecoder(r)
	for {
		var env Envelope
		if err := dec.Decode(&env); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decode graph stream: %w", err)
		}
		switch env.Type {
		case "node":
			var n layout.NodeSpec
			if err := json.Unmarshal(env.Data, &n); err != nil {
				return nil, fmt.Errorf("decode node line: %w", err)
			}
			g.Nodes = append(g.Nodes, n)
		case "link":
			var e layout.Edge
			if err := json.Unmarshal(env.Data, &e); err != nil {
				return nil, fmt.Errorf("decode link line: %w", err)
			}
			g.Edges = append(g.Edges, e)
		case "meta":
			m := env
			meta = &m
		default:
			return nil, fmt.Errorf("decode graph stream: unknown envelope type %q", env.Type)
		}
	}

	if meta != nil {
		if meta.TotalNodes != nil && *meta.TotalNodes != len(g.Nodes) {
			return nil, fmt.Errorf("graph stream truncated: %d of %d nodes", len(g.Nodes), *meta.TotalNodes)
		}
		if meta.TotalLinks != nil && *meta.TotalLinks != len(g.Edges) {
			return nil, fmt.Errorf("graph stream truncated: %d of %d links", len(g.Edges), *meta.TotalLinks)
		}
	}
	return g, nil
}

// EncodeNDJSON streams a graph as envelope lines followed by a meta line.
func EncodeNDJSON(w io.Writer, g *Graph) error {
	enc := json.NewEncoder(w)
	for i := range g.Nodes {
		if err := writeEnvelope(enc, "node", g.Nodes[i]); err != nil {
			return err
		}
	}
	for i := range g.Edges {
		if err := writeEnvelope(enc, "link", g.Edges[i]); err != nil {
			return err
		}
	}
	nodes, links := len(g.Nodes), len(g.Edges)
	if err := enc.Encode(Envelope{Type: "meta", TotalNodes: &nodes, TotalLinks: &links}); err != nil {
		return fmt.Errorf("encode meta line: %w", err)
	}
	return nil
}

// EncodePositions writes a position export as one JSON document.
func EncodePositions(w io.Writer, exp *PositionExport) error {
	if err := json.NewEncoder(w).Encode(exp); err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	return nil
}

// EncodePositionsNDJSON streams positions one per line plus a meta line.
func EncodePositionsNDJSON(w io.Writer, exp *PositionExport) error {
	enc := json.NewEncoder(w)
	for i := range exp.Positions {
		if err := writeEnvelope(enc, "position", exp.Positions[i]); err != nil {
			return err
		}
	}
	total := len(exp.Positions)
	if err := enc.Encode(Envelope{Type: "meta", TotalNodes: &total}); err != nil {
		return fmt.Errorf("encode meta line: %w", err)
	}
	return nil
}

// EncodePositionsCSV writes an id,x,y table.
func EncodePositionsCSV(w io.Writer, exp *PositionExport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "x", "y"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range exp.Positions {
		record := []string{
			p.ID,
			strconv.FormatFloat(p.X, 'g', -1, 64),
			strconv.FormatFloat(p.Y, 'g', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeEnvelope(enc *json.Encoder, kind string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s line: %w", kind, err)
	}
	if err := enc.Encode(Envelope{Type: kind, Data: raw}); err != nil {
		return fmt.Errorf("encode %s line: %w", kind, err)
	}
	return nil
}

// ReadFile loads a graph, picking the encoding from the extension:
// .ndjson and .jsonl stream envelopes, anything else is a JSON document.
func ReadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph %s: %w", path, err)
	}
	defer f.Close()
	if ndjsonPath(path) {
		return DecodeNDJSON(f)
	}
	return Decode(f)
}

// WriteFile writes a graph, picking the encoding from the extension.
func WriteFile(path string, g *Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graph %s: %w", path, err)
	}
	if ndjsonPath(path) {
		err = EncodeNDJSON(f, g)
	} else {
		err = Encode(f, g)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WritePositionsFile writes a position export, picking JSON, NDJSON or CSV
// from the extension.
func WritePositionsFile(path string, exp *PositionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export %s: %w", path, err)
	}
	switch {
	case ndjsonPath(path):
		err = EncodePositionsNDJSON(f, exp)
	case strings.EqualFold(filepath.Ext(path), ".csv"):
		err = EncodePositionsCSV(f, exp)
	default:
		err = EncodePositions(f, exp)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ndjsonPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		return true
	}
	return false
}
