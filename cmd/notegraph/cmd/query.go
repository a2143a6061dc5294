package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/notegraph/internal/engine"
	"github.com/Aman-CERP/notegraph/internal/output"
)

func newBacklinksCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backlinks <id>",
		Short: "List pages that reference a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				ids, err := a.engine.GetBacklinks(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return g.writer(cmd).Value(ids, func(w *output.Writer) {
					if len(ids) == 0 {
						w.Statusf("", "No pages reference %s", args[0])
						return
					}
					w.Lines(ids)
				})
			})
		},
	}
}

type traverseOptions struct {
	direction string
	depth     int
}

func newTraverseCmd(g *globalOptions) *cobra.Command {
	var opts traverseOptions

	cmd := &cobra.Command{
		Use:   "traverse <id>",
		Short: "Walk the link graph from a page",
		Long: `Walk the link graph breadth-first from a page.

--direction out follows the page's own links; in follows backlinks.
The start page is always listed first.

Examples:
  notegraph traverse Projects --depth 3
  notegraph traverse Inbox --direction in`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				ids, truncated, err := a.engine.TraverseGraph(cmd.Context(), args[0], opts.direction, opts.depth)
				if err != nil {
					return err
				}
				result := struct {
					Pages     []string `json:"pages"`
					Truncated bool     `json:"truncated"`
				}{ids, truncated}
				return g.writer(cmd).Value(result, func(w *output.Writer) {
					w.Lines(ids)
					if truncated {
						w.Warning("Traversal stopped early; results are partial")
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&opts.direction, "direction", "d", "out", "Direction: out, in")
	cmd.Flags().IntVar(&opts.depth, "depth", 2, "Maximum hops from the start page")
	return cmd
}

type searchOptions struct {
	limit   int
	timeout time.Duration
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across pages",
		Long: `Rank pages containing every query term by tf-idf.

Examples:
  notegraph search "graph index"
  notegraph search retry --limit 5
  notegraph search meeting --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Stop early and return partial results after this long")
	return cmd
}

func runSearch(cmd *cobra.Command, g *globalOptions, query string, opts searchOptions) error {
	return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
		ctx := cmd.Context()
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}
		res, err := a.engine.Search(ctx, query, opts.limit)
		if err != nil {
			return err
		}
		return g.writer(cmd).Value(res, func(w *output.Writer) {
			if len(res.Hits) == 0 {
				w.Statusf("", "No results for %q", query)
				return
			}
			rows := make([][]string, 0, len(res.Hits))
			for i, h := range res.Hits {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					h.ID,
					strconv.FormatFloat(h.Score, 'f', 4, 64),
				})
			}
			w.Table([]string{"#", "Page", "Score"}, rows)
			w.Statusf("", "%d of %d matches", len(res.Hits), res.Total)
			if res.Truncated {
				w.Warning("Search timed out; results are partial")
			}
		})
	})
}

func newRenderCmd(g *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "render <id>",
		Short: "Render a page for display",
		Long: `Render a page to html, markdown or text in-process. Other pandoc
output formats such as docx or latex are handed to pandoc.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				out, err := a.engine.Render(cmd.Context(), args[0], format)
				if err != nil {
					return err
				}
				result := struct {
					ID      string `json:"id"`
					Format  string `json:"format"`
					Content string `json:"content"`
				}{args[0], format, out}
				return g.writer(cmd).Value(result, func(w *output.Writer) {
					w.Text(out)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "html", "Output format")
	return cmd
}

func newCheckCmd(g *globalOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the indices agree with the page store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				report, err := a.engine.Check(cmd.Context())
				if err != nil {
					return err
				}
				out := g.writer(cmd)
				if !repair || report.OK() {
					if err := out.Value(report, func(w *output.Writer) { printReport(w, report) }); err != nil {
						return err
					}
					if !report.OK() {
						return fmt.Errorf("%d index issues found, run 'notegraph check --repair'", len(report.Issues)+len(report.Pending))
					}
					return nil
				}

				stats, err := a.engine.Repair(cmd.Context(), report)
				if err != nil {
					return err
				}
				result := struct {
					Report any `json:"report"`
					Repair any `json:"repair"`
				}{report, stats}
				return out.Value(result, func(w *output.Writer) {
					printReport(w, report)
					w.Successf("Repaired: %d reindexed, %d purged, %d failed", stats.Reindexed, stats.Purged, stats.Failed)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Reindex or purge pages with issues")
	return cmd
}

func printReport(w *output.Writer, report engine.Report) {
	if report.OK() {
		w.Successf("%d pages checked, indices consistent", report.Pages)
		return
	}
	rows := make([][]string, 0, len(report.Issues)+len(report.Pending))
	for _, is := range report.Issues {
		rows = append(rows, []string{
			is.ID,
			string(is.Side),
			string(is.Kind),
			strconv.FormatInt(is.StoreVersion, 10),
			strconv.FormatInt(is.IndexVersion, 10),
		})
	}
	for _, st := range report.Pending {
		rows = append(rows, []string{st.ID, "", st.State.String(), strconv.FormatInt(st.Version, 10), ""})
	}
	w.Warningf("%d pages checked, %d issues", report.Pages, len(rows))
	w.Table([]string{"Page", "Index", "Issue", "Store", "Indexed"}, rows)
}
