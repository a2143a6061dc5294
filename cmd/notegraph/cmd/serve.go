package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/notegraph/internal/logging"
	"github.com/Aman-CERP/notegraph/internal/mcp"
	"github.com/Aman-CERP/notegraph/internal/ui"
)

type serveOptions struct {
	vault   string
	prune   bool
	polling bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pages to AI assistants over MCP",
		Long: `Start an MCP server on stdio exposing page, graph and search tools.

With --vault the directory is imported first and watched while serving.
Logs go to ~/.notegraph/logs/ only; stdout carries the protocol.`,
		Example: `  notegraph serve
  notegraph serve --vault ~/notes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.vault, "vault", "", "Directory of notes to import and watch")
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "Delete pages with no matching file in --vault")
	cmd.Flags().BoolVar(&opts.polling, "poll", false, "Poll --vault instead of using filesystem events")
	return cmd
}

// runServe must not write anything to stdout before the server owns it.
func runServe(ctx context.Context, g *globalOptions, opts serveOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	level := cfg.Server.LogLevel
	if g.debug {
		level = "debug"
	}
	cleanup, err := logging.SetupServeMode(level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	return g.withApp(ctx, openOptions{}, func(a *app) error {
		srv, err := mcp.NewServer(a.engine, mcp.WithLogger(a.logger))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			// The client closing stdin ends the session and the vault watch.
			defer cancel()
			return srv.Serve(ctx, a.cfg.Server.Transport)
		})
		if opts.vault != "" {
			// Import in the background so the MCP handshake is not delayed.
			eg.Go(func() error {
				if _, _, err := importVault(ctx, a, opts.vault, opts.prune, ui.NewPlainRenderer(ui.NewConfig(io.Discard))); err != nil {
					a.logger.Error("vault_import_failed", slog.String("vault", opts.vault), slog.String("error", err.Error()))
					return nil
				}
				return watchVault(ctx, a, opts.vault, opts.polling)
			})
		}

		err = eg.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
