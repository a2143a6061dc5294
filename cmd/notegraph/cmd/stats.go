package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/notegraph/internal/engine"
	"github.com/Aman-CERP/notegraph/internal/output"
	"github.com/Aman-CERP/notegraph/internal/telemetry"
)

// statsReport is the output of the stats command.
type statsReport struct {
	Pages   int                 `json:"pages"`
	Indices engine.Stats        `json:"indices"`
	Cache   cacheStats          `json:"cache"`
	Queries *telemetry.Snapshot `json:"queries,omitempty"`
}

type cacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

func newStatsCmd(g *globalOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show page, index and query statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				pages, err := a.engine.List(cmd.Context())
				if err != nil {
					return err
				}
				report := statsReport{Pages: len(pages), Indices: a.engine.Stats()}
				report.Cache.Hits, report.Cache.Misses, report.Cache.Entries = a.cache.CacheStats()
				snap, err := querySnapshot(a, days)
				if err != nil {
					return err
				}
				report.Queries = snap
				return g.writer(cmd).Value(report, func(w *output.Writer) { printStats(w, report) })
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Days of query history to summarize")
	return cmd
}

// querySnapshot returns persisted query history when telemetry is on disk,
// the in-memory counters otherwise, or nil when telemetry is disabled.
func querySnapshot(a *app, days int) (*telemetry.Snapshot, error) {
	m := a.engine.Metrics()
	if m == nil {
		return nil, nil
	}
	if a.telemetry == nil {
		snap := m.Snapshot()
		return &snap, nil
	}
	if err := m.Flush(); err != nil {
		return nil, err
	}
	now := time.Now()
	snap, err := a.telemetry.History(now.AddDate(0, 0, -max(days-1, 0)), now, 10)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func printStats(w *output.Writer, r statsReport) {
	w.Table([]string{"Metric", "Value"}, [][]string{
		{"Pages", strconv.Itoa(r.Pages)},
		{"Graph edges", strconv.Itoa(r.Indices.Graph.Edges)},
		{"Unresolved targets", strconv.Itoa(r.Indices.Graph.Unresolved)},
		{"Tombstones", strconv.Itoa(r.Indices.Graph.Tombstones)},
		{"Indexed documents", strconv.Itoa(r.Indices.Text.Documents)},
		{"Distinct terms", strconv.Itoa(r.Indices.Text.Terms)},
		{"Pending sync", strconv.Itoa(r.Indices.Pending)},
		{"Cache hits / misses", fmt.Sprintf("%d / %d", r.Cache.Hits, r.Cache.Misses)},
	})
	if r.Queries == nil || r.Queries.Total == 0 {
		return
	}

	w.Newline()
	w.Statusf("🔎", "%d queries, %.1f%% with no results", r.Queries.Total, r.Queries.ZeroResultRate()*100)
	kinds := make([]string, 0, len(r.Queries.Kinds))
	for k := range r.Queries.Kinds {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	rows := make([][]string, 0, len(kinds))
	for _, k := range kinds {
		rows = append(rows, []string{k, strconv.FormatInt(r.Queries.Kinds[telemetry.QueryKind(k)], 10)})
	}
	w.Table([]string{"Query kind", "Count"}, rows)

	if len(r.Queries.TopTerms) > 0 {
		rows = rows[:0]
		for _, tc := range r.Queries.TopTerms[:min(10, len(r.Queries.TopTerms))] {
			rows = append(rows, []string{tc.Term, strconv.FormatInt(tc.Count, 10)})
		}
		w.Table([]string{"Top term", "Count"}, rows)
	}
}

func newExportCmd(g *globalOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the link graph as node-link JSON",
		Long: `Export the link graph as node-link JSON, the format read by
networkx.node_link_graph and d3-force.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				var w io.Writer = cmd.OutOrStdout()
				if outPath != "" {
					f, err := os.Create(outPath)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", outPath, err)
					}
					defer func() { _ = f.Close() }()
					w = f
				}
				return a.engine.Graph().Export(w)
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write to file instead of stdout")
	return cmd
}
