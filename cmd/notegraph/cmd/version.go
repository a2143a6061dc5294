package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/notegraph/internal/output"
	"github.com/Aman-CERP/notegraph/pkg/version"
)

// newVersionCmd creates the version command. --json comes from the root.
func newVersionCmd() *cobra.Command {
	var shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print version information including git commit, build date, and Go version.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if shortOutput {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			}
			jsonOutput, _ := cmd.Flags().GetBool("json")
			w := output.New(cmd.OutOrStdout())
			if jsonOutput {
				w = output.NewJSON(cmd.OutOrStdout())
			}
			return w.Value(version.GetInfo(), func(w *output.Writer) {
				w.Text(version.String())
			})
		},
	}

	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")
	return cmd
}
