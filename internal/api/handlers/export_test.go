package handlers

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/exocortex-initiative/forcefield/internal/cache"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
)

func exportPositions(t *testing.T, h *SimulationsHandler, id, query string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/simulations/"+id+"/export"+query, nil)
	h.ExportPositions(rr, withVars(req, "id", id))
	return rr
}

func TestExportPositions_JSON(t *testing.T) {
	h, sessions := newSimHandler(t)
	s := newSession(t, sessions, chainGraph(3))

	rr := exportPositions(t, h, s.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	want := fmt.Sprintf("attachment; filename=%s_positions.json", s.ID)
	if cd := rr.Header().Get("Content-Disposition"); cd != want {
		t.Errorf("expected disposition %q, got %q", want, cd)
	}

	var out graphio.PositionExport
	decodeBody(t, rr, &out)
	if out.Backend != "cpu" {
		t.Errorf("expected cpu backend, got %q", out.Backend)
	}
	if out.Tick != 0 {
		t.Errorf("expected tick 0 before any stepping, got %d", out.Tick)
	}
	if len(out.Positions) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(out.Positions))
	}
}

func TestExportPositions_NDJSON(t *testing.T) {
	h, sessions := newSimHandler(t)
	s := newSession(t, sessions, chainGraph(3))

	rr := exportPositions(t, h, s.ID, "?format=ndjson")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("expected application/x-ndjson, got %q", ct)
	}

	lines := bytes.Split(bytes.TrimSpace(rr.Body.Bytes()), []byte("\n"))
	if len(lines) != 4 {
		t.Fatalf("expected 3 position lines plus meta, got %d lines", len(lines))
	}
	var envs []graphio.Envelope
	for i, line := range lines {
		var env graphio.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			t.Fatalf("decode line %d %q: %v", i, line, err)
		}
		envs = append(envs, env)
	}
	for i := 0; i < 3; i++ {
		if envs[i].Type != "position" {
			t.Errorf("line %d: expected position envelope, got %q", i, envs[i].Type)
		}
	}
	meta := envs[3]
	if meta.Type != "meta" || meta.TotalNodes == nil || *meta.TotalNodes != 3 {
		t.Errorf("expected meta line with 3 totals, got %+v", meta)
	}
}

func TestExportPositions_CSV(t *testing.T) {
	h, sessions := newSimHandler(t)
	s := newSession(t, sessions, chainGraph(3))

	rr := exportPositions(t, h, s.ID, "?format=csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %q", ct)
	}
	want := fmt.Sprintf("attachment; filename=%s_positions.csv", s.ID)
	if cd := rr.Header().Get("Content-Disposition"); cd != want {
		t.Errorf("expected disposition %q, got %q", want, cd)
	}

	records, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d records", len(records))
	}
	if records[0][0] != "id" || records[0][1] != "x" || records[0][2] != "y" {
		t.Errorf("unexpected header %v", records[0])
	}
	seen := make(map[string]bool)
	for _, rec := range records[1:] {
		seen[rec[0]] = true
		for col := 1; col <= 2; col++ {
			if _, err := strconv.ParseFloat(rec[col], 64); err != nil {
				t.Errorf("row %v column %d: not a float: %v", rec, col, err)
			}
		}
	}
	for _, id := range []string{"n0", "n1", "n2"} {
		if !seen[id] {
			t.Errorf("node %s missing from csv", id)
		}
	}
}

func TestExportPositions_Validation(t *testing.T) {
	h, sessions := newSimHandler(t)
	s := newSession(t, sessions, chainGraph(2))

	if rr := exportPositions(t, h, s.ID, "?format=xml"); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown format, got %d", rr.Code)
	}
	if rr := exportPositions(t, h, "no-such-id", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown simulation, got %d", rr.Code)
	}
}

func TestExportGraph_WithoutStore(t *testing.T) {
	resetTestConfig(t)
	h := NewGraphsHandler(nil, cache.NewMockCache())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/graphs/web/export", nil)
	h.ExportGraph(rr, withVars(req, "name", "web"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without persistence, got %d", rr.Code)
	}
}

func TestParseExportFormat(t *testing.T) {
	cases := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"", "json", true},
		{"json", "json", true},
		{"NDJSON", "ndjson", true},
		{" csv ", "csv", true},
		{"xml", "xml", false},
	}
	for _, tc := range cases {
		got, ok := parseExportFormat(tc.raw, "json", "ndjson", "csv")
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("parseExportFormat(%q) = %q, %v; want %q, %v", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}
