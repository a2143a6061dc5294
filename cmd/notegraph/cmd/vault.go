package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/notegraph/internal/output"
	"github.com/Aman-CERP/notegraph/internal/ui"
	"github.com/Aman-CERP/notegraph/internal/vault"
	"github.com/Aman-CERP/notegraph/internal/watcher"
)

type importOptions struct {
	prune   bool
	noTUI   bool
	noColor bool
}

func newImportCmd(g *globalOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import a directory of markdown notes",
		Long: `Import every markdown file under dir as a page. The page id is the
file path relative to dir without its extension. Files whose content
already matches the stored page are skipped.

Examples:
  notegraph import ~/notes
  notegraph import ~/notes --prune    # also delete pages whose file is gone`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runImport(ctx, cmd, g, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Delete pages with no matching file")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain progress output")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colors")
	return cmd
}

func newProgress(cmd *cobra.Command, g *globalOptions, title string, opts importOptions) ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(cmd.ErrOrStderr(),
		ui.WithTitle(title),
		ui.WithForcePlain(opts.noTUI || g.json),
		ui.WithNoColor(opts.noColor || ui.DetectNoColor()),
	))
}

func runImport(ctx context.Context, cmd *cobra.Command, g *globalOptions, dir string, opts importOptions) error {
	progress := newProgress(cmd, g, dir, opts)
	if err := progress.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = progress.Stop() }()

	return g.withApp(ctx, openOptions{progress: progress}, func(a *app) error {
		stats, elapsed, err := importVault(ctx, a, dir, opts.prune, progress)
		if err != nil {
			return err
		}
		return g.writer(cmd).Value(stats, func(w *output.Writer) {
			w.Successf("Imported %s: %d files in %s", dir, stats.Files, elapsed.Round(time.Millisecond))
		})
	})
}

// importVault imports dir into the opened app and reports to progress.
func importVault(ctx context.Context, a *app, dir string, prune bool, progress ui.Renderer) (vault.Stats, time.Duration, error) {
	start := time.Now()
	v, err := vault.New(dir, a.engine, vault.Options{
		Extensions: a.cfg.Watch.Extensions,
		Prune:      prune,
		Logger:     a.logger,
	})
	if err != nil {
		return vault.Stats{}, 0, err
	}

	progress.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: v.Root()})
	stats, err := v.Import(ctx, ui.ProgressFunc(progress, ui.StageImporting))
	if err != nil {
		progress.AddError(ui.ErrorEvent{Page: v.Root(), Err: err})
		return stats, time.Since(start), err
	}

	elapsed := time.Since(start)
	progress.Complete(ui.CompletionStats{
		Pages:     stats.Files,
		Written:   stats.Written,
		Unchanged: stats.Unchanged,
		Deleted:   stats.Deleted,
		Skipped:   stats.Skipped,
		Degraded:  stats.Degraded,
		Errors:    stats.Failed,
		Duration:  elapsed,
	})
	return stats, elapsed, nil
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	var opts importOptions
	var polling bool

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Import a directory and keep it in sync",
		Long: `Import dir, then apply file changes as they happen until interrupted.
Deleted and renamed files delete their pages.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			progress := newProgress(cmd, g, args[0], opts)
			if err := progress.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = progress.Stop() }()

			return g.withApp(ctx, openOptions{progress: progress}, func(a *app) error {
				_, _, err := importVault(ctx, a, args[0], opts.prune, progress)
				_ = progress.Stop()
				if err != nil {
					return err
				}
				g.writer(cmd).Statusf("👀", "Watching %s (Ctrl+C to stop)", args[0])
				return watchVault(ctx, a, args[0], polling)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Delete pages with no matching file before watching")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain progress output")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colors")
	cmd.Flags().BoolVar(&polling, "poll", false, "Poll for changes instead of using filesystem events")
	return cmd
}

// watchVault applies changes under dir until ctx ends.
func watchVault(ctx context.Context, a *app, dir string, polling bool) error {
	v, err := vault.New(dir, a.engine, vault.Options{
		Extensions: a.cfg.Watch.Extensions,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	w, err := watcher.New(watcher.Options{
		Debounce:     a.cfg.WatchDebounce(),
		Extensions:   a.cfg.Watch.Extensions,
		ForcePolling: polling,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return w.Run(ctx, v.Root()) })
	eg.Go(func() error { return v.Watch(ctx, w) })

	err = eg.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		a.logger.Info("watch_stopped", slog.String("root", v.Root()))
		return nil
	}
	return err
}
