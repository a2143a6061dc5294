package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/notegraph/internal/engine"
	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/output"
	"github.com/Aman-CERP/notegraph/internal/page"
)

func newPutCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <id> [file]",
		Short: "Create or update a page",
		Long: `Store the content of a page and index its links and text.

Content is read from file, or from stdin when file is omitted or "-".

Examples:
  notegraph put "Daily/2026-10-16" notes.md
  echo "see [[Projects]]" | notegraph put Inbox`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 2 {
				src = args[1]
			}
			content, err := readContent(cmd, src)
			if err != nil {
				return err
			}
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				res, err := a.engine.Apply(cmd.Context(), engine.Put(args[0], content))
				if err != nil && !accepted(res, err) {
					return err
				}
				return reportWrite(g.writer(cmd), res)
			})
		},
	}
}

func readContent(cmd *cobra.Command, src string) (string, error) {
	var (
		data []byte
		err  error
	)
	if src == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return string(data), nil
}

// accepted reports whether err is a Degraded outcome of a stored mutation.
func accepted(res engine.Result, err error) bool {
	return res.Version > 0 && ngerrors.GetCode(err) == ngerrors.ErrCodeDegraded
}

func reportWrite(out *output.Writer, res engine.Result) error {
	return out.Value(res, func(w *output.Writer) {
		verb := "Stored"
		if res.Deleted {
			verb = "Deleted"
		}
		if res.State == engine.Degraded {
			w.Warningf("%s %s (version %d) but indexing is pending, retry token %s",
				verb, res.ID, res.Version, res.RetryToken)
		} else {
			w.Successf("%s %s (version %d)", verb, res.ID, res.Version)
		}
		for _, warn := range res.Warnings {
			w.Warningf("offset %d: %s (%s)", warn.Offset, warn.Text, warn.Reason)
		}
		for _, e := range res.Dangling {
			w.Statusf("↳", "%s still links to %s", e.Source, e.Target)
		}
	})
}

func newGetCmd(g *globalOptions) *cobra.Command {
	var showLinks bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print the content of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				p, err := a.engine.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				refs := a.engine.Links(p.ID)
				view := struct {
					*page.Page
					Links any `json:"links"`
				}{p, refs}
				return g.writer(cmd).Value(view, func(w *output.Writer) {
					if !showLinks {
						w.Text(p.Content)
						return
					}
					rows := make([][]string, 0, len(refs))
					for _, r := range refs {
						rows = append(rows, []string{r.Target, string(r.Kind)})
					}
					w.Table([]string{"Target", "Kind"}, rows)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&showLinks, "links", false, "Print outgoing references instead of content")
	return cmd
}

func newDeleteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a page",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				res, err := a.engine.Apply(cmd.Context(), engine.Delete(args[0]))
				if err != nil && !accepted(res, err) {
					return err
				}
				return reportWrite(g.writer(cmd), res)
			})
		},
	}
}

func newListCmd(g *globalOptions) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored pages",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(cmd.Context(), openOptions{}, func(a *app) error {
				pages, err := listPages(cmd.Context(), a, prefix)
				if err != nil {
					return err
				}
				return g.writer(cmd).Value(pages, func(w *output.Writer) {
					rows := make([][]string, 0, len(pages))
					for _, p := range pages {
						rows = append(rows, []string{
							p.ID,
							strconv.FormatInt(p.Version, 10),
							p.Modified.Local().Format(time.DateTime),
						})
					}
					w.Table([]string{"ID", "Version", "Modified"}, rows)
				})
			})
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list ids starting with prefix")
	return cmd
}

func listPages(ctx context.Context, a *app, prefix string) ([]page.Summary, error) {
	all, err := a.engine.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]page.Summary, 0, len(all))
	for _, p := range all {
		if strings.HasPrefix(p.ID, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}
