package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs.
const (
	URIQueryMetrics = "notegraph://query_metrics"
	URIGraph        = "notegraph://graph"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "graph",
		URI:         URIGraph,
		Description: "Node-link JSON snapshot of the page graph",
		MIMEType:    "application/json",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		text, err := s.graphJSON()
		if err != nil {
			return nil, MapError(err)
		}
		return jsonResource(URIGraph, text), nil
	})

	if s.engine.Metrics() == nil {
		return
	}
	s.mcp.AddResource(&mcp.Resource{
		Name:        "query_metrics",
		URI:         URIQueryMetrics,
		Description: "Query pattern telemetry: volume, latency, top terms and zero-result queries",
		MIMEType:    "application/json",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		text, err := s.queryMetricsJSON()
		if err != nil {
			return nil, MapError(err)
		}
		return jsonResource(URIQueryMetrics, text), nil
	})
}

func jsonResource(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: text}},
	}
}

func (s *Server) graphJSON() (string, error) {
	var buf bytes.Buffer
	if err := s.engine.Graph().Export(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// QueryMetrics returns the telemetry snapshot in resource form, or an error
// when telemetry is disabled.
func (s *Server) QueryMetrics() (QueryMetricsOutput, error) {
	metrics := s.engine.Metrics()
	if metrics == nil {
		return QueryMetricsOutput{}, NewInvalidParamsError("query metrics not available")
	}
	snap := metrics.Snapshot()

	out := QueryMetricsOutput{
		TotalQueries:      snap.Total,
		ZeroResultPct:     snap.ZeroResultRate() * 100,
		Truncated:         snap.Truncated,
		Since:             snap.Since.UTC().Format(time.RFC3339),
		QueryKindCounts:   make(map[string]int64, len(snap.Kinds)),
		Latency:           make(map[string]int64, len(snap.Latency)),
		TopTerms:          make([]TermCount, 0, len(snap.TopTerms)),
		ZeroResultQueries: snap.ZeroResultQueries,
	}
	for k, n := range snap.Kinds {
		out.QueryKindCounts[string(k)] = n
	}
	for b, n := range snap.Latency {
		out.Latency[string(b)] = n
	}
	for _, tc := range snap.TopTerms {
		out.TopTerms = append(out.TopTerms, TermCount{Term: tc.Term, Count: tc.Count})
	}
	if out.ZeroResultQueries == nil {
		out.ZeroResultQueries = []string{}
	}
	return out, nil
}

func (s *Server) queryMetricsJSON() (string, error) {
	out, err := s.QueryMetrics()
	if err != nil {
		return "", err
	}
	content, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(content), nil
}
