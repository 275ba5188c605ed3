package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/time/rate"

	"github.com/exocortex-initiative/forcefield/internal/circuitbreaker"
	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/httpx"
	"github.com/exocortex-initiative/forcefield/internal/logger"
)

// Fetcher downloads graph documents from remote HTTP sources. A
// circuit breaker fails fast while a source is down and a token bucket
// keeps the fetch rate polite.
type Fetcher struct {
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	limiter  *rate.Limiter
	log      *slog.Logger
	maxBytes int64
}

func NewFetcher() *Fetcher {
	cfg := config.Load()
	return &Fetcher{
		client:   httpx.NewClient(),
		breaker:  circuitbreaker.New(circuitbreaker.Config{Name: "graph_fetch"}),
		limiter:  rate.NewLimiter(rate.Limit(cfg.FetchRPS), cfg.FetchBurst),
		log:      logger.WithComponent("fetch"),
		maxBytes: cfg.MaxFetchBytes,
	}
}

// Fetch downloads and parses a graph document. NDJSON streams are
// detected by path extension or content type; everything else is
// parsed as a single JSON document.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*graphio.Graph, error) {
	var g *graphio.Graph
	err := f.breaker.Call(func() error {
		resp, err := httpx.DoWithRetryFactory(f.client, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", config.Load().UserAgent)
			req.Header.Set("Accept", "application/json, application/x-ndjson")
			return req, nil
		}, func(ctx context.Context, attempt int) error {
			return f.limiter.Wait(ctx)
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("graph source returned status %d", resp.StatusCode)
		}

		// One extra byte past the cap tells oversized and exactly-at-cap apart.
		lr := &io.LimitedReader{R: resp.Body, N: f.maxBytes + 1}
		if isNDJSON(rawURL, resp.Header.Get("Content-Type")) {
			g, err = graphio.DecodeNDJSON(lr)
		} else {
			g, err = graphio.Decode(lr)
		}
		if err != nil {
			return err
		}
		if lr.N <= 0 {
			return fmt.Errorf("graph document exceeds %d bytes", f.maxBytes)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph from %s: %w", rawURL, err)
	}

	if g.Name == "" {
		g.Name = nameFromURL(rawURL)
	}
	f.log.Info("graph fetched", "url", rawURL, "nodes", len(g.Nodes), "links", len(g.Edges))
	return g, nil
}

func isNDJSON(rawURL, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "ndjson") || strings.Contains(ct, "jsonl") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".ndjson", ".jsonl":
		return true
	}
	return false
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}
