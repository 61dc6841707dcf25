// Package cli implements the sceneboard command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Build      BuildInfo
}

// NewRootCommand creates the root command.
func NewRootCommand(build BuildInfo) *cobra.Command {
	opts := &RootOptions{Build: build}

	cmd := &cobra.Command{
		Use:   "sceneboard",
		Short: "Scene editing with undo/redo and background persistence",
		Long: `sceneboard replays edit scripts against a scene document.

Every edit is undoable locally and written to the configured store in the
background. Undo and redo change only the local document; save writes the
whole document back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewPanelCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := opts.Build
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sceneboard %s (commit %s, built %s)\n", b.Version, b.Commit, b.Date)
			return err
		},
	}
}
