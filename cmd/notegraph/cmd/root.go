// Package cmd provides the CLI commands for notegraph.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	ngerrors "github.com/Aman-CERP/notegraph/internal/errors"
	"github.com/Aman-CERP/notegraph/internal/logging"
	"github.com/Aman-CERP/notegraph/internal/output"
	"github.com/Aman-CERP/notegraph/internal/profiling"
	"github.com/Aman-CERP/notegraph/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	dataDir    string
	configPath string
	debug      bool
	memory     bool
	json       bool
	profiles   profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// writer returns the output writer for cmd, honoring --json.
func (g *globalOptions) writer(cmd *cobra.Command) *output.Writer {
	if g.json {
		return output.NewJSON(cmd.OutOrStdout())
	}
	return output.New(cmd.OutOrStdout())
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&globalOptions{})
}

func newRootCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notegraph",
		Short: "Note graph and full-text search engine",
		Long: `notegraph stores markdown note pages, indexes their [[links]] and
![[embeds]] into a backlink graph, and serves ranked full-text search.

Pages live in a local SQLite database under --data-dir. Import a
directory of notes with 'notegraph import', keep it in sync with
'notegraph watch', or expose everything to AI assistants over MCP
with 'notegraph serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("notegraph version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", ".notegraph", "Directory holding the page database")
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file (default: .notegraph.yaml and user config)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.notegraph/logs/")
	cmd.PersistentFlags().BoolVar(&g.memory, "memory", false, "Keep pages in memory only")
	cmd.PersistentFlags().BoolVar(&g.json, "json", false, "Write machine-readable JSON")
	cmd.PersistentFlags().StringVar(&g.profiles.CPU, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&g.profiles.Heap, "memprofile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&g.profiles.Trace, "trace", "", "Write an execution trace to this file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := g.startLogging(cmd); err != nil {
			return err
		}
		return g.startProfiling()
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		g.stopLogging()
		return g.stopProfiling()
	}

	cmd.AddCommand(
		newPutCmd(g),
		newGetCmd(g),
		newDeleteCmd(g),
		newListCmd(g),
		newBacklinksCmd(g),
		newTraverseCmd(g),
		newSearchCmd(g),
		newRenderCmd(g),
		newCheckCmd(g),
		newImportCmd(g),
		newWatchCmd(g),
		newExportCmd(g),
		newStatsCmd(g),
		newServeCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return cmd
}

// startLogging installs the default logger. Without --debug only warnings
// reach stderr. serve installs its own file-only logger.
func (g *globalOptions) startLogging(cmd *cobra.Command) error {
	if cmd.Name() == "serve" {
		return nil
	}
	cfg := logging.DefaultConfig()
	cfg.Level = "warn"
	cfg.Stderr = cmd.ErrOrStderr()
	if g.debug {
		cfg = logging.DebugConfig()
		cfg.Stderr = cmd.ErrOrStderr()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.loggingCleanup = cleanup
	slog.SetDefault(logger)
	if g.debug {
		slog.Debug("debug_logging_enabled", slog.String("log_file", cfg.FilePath))
	}
	return nil
}

func (g *globalOptions) startProfiling() error {
	if !g.profiles.Enabled() {
		return nil
	}
	s, err := profiling.Start(g.profiles)
	if err != nil {
		return err
	}
	g.profiler = s
	return nil
}

// stopProfiling also runs from Execute, since PersistentPostRunE is skipped
// when a command fails.
func (g *globalOptions) stopProfiling() error {
	err := g.profiler.Stop()
	g.profiler = nil
	return err
}

func (g *globalOptions) stopLogging() {
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	g := &globalOptions{}
	root := newRootCmd(g)
	err := root.Execute()
	if perr := g.stopProfiling(); err == nil {
		err = perr
	}
	g.stopLogging()
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

func printError(w io.Writer, err error) {
	if w == nil {
		w = os.Stderr
	}
	_, _ = fmt.Fprint(w, ngerrors.FormatForCLI(err))
}
