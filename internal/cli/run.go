package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/sceneboard/internal/app"
	"github.com/dshills/sceneboard/internal/engine"
	"github.com/dshills/sceneboard/internal/panel"
	"github.com/dshills/sceneboard/internal/persist"
	"github.com/dshills/sceneboard/internal/script"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Save      bool
	ShowPanel bool
	Timeout   time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Replay an edit script against the configured store",
		Long: `Replay an edit script through the engine.

A script with a document section replaces the stored document first;
without one, editing starts from what the store already holds. Queued
writes are drained before exit.

Example:
  sceneboard run edits.yaml
  sceneboard run --save --panel -c sceneboard.toml edits.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Save, "save", false, "save the full document after the script")
	cmd.Flags().BoolVar(&opts.ShowPanel, "panel", false, "print the history panel after the script")
	cmd.Flags().DurationVar(&opts.Timeout, "drain-timeout", 30*time.Second, "how long to wait for queued writes on exit")

	return cmd
}

func runScript(cmd *cobra.Command, opts *RunOptions, path string) (err error) {
	s, err := script.Load(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{
		ConfigPath: opts.ConfigPath,
		Seed:       s.Document,
		Verbose:    opts.Verbose,
		LogOutput:  cmd.ErrOrStderr(),
		Version:    opts.Build.Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		if serr := a.Shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
	}()

	var failures atomic.Int64
	unsubscribe := a.Engine().OnPersistFailure(func(o persist.Outcome) {
		failures.Add(1)
		a.Logger().Warn("remote write failed", "mutation", o.Mutation.String(), "error", o.Err)
	})
	defer unsubscribe()

	res, runErr := script.NewRunner(a.Engine(), script.WithRunnerLogger(a.Logger())).Run(ctx, s)

	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := a.Engine().Flush(dctx); err != nil {
		return fmt.Errorf("draining writes: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	if opts.Save {
		if err := a.Engine().Save(ctx); err != nil {
			return fmt.Errorf("saving document: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d steps, %d writes, %d failed\n", res.Steps, len(res.Pending), failures.Load())
	if a.Engine().Dirty() {
		fmt.Fprintln(out, "document has unsaved undo/redo changes")
	}
	if opts.ShowPanel {
		fmt.Fprint(out, panel.New(out).Render(a.Engine()))
	}
	return nil
}

// NewPanelCommand creates the panel command.
func NewPanelCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "panel <script.yaml>",
		Short: "Replay a script locally and print the history panel",
		Long: `Replay an edit script against a throwaway in-memory store and print
the resulting undo history. Useful for checking how edits group into
undo steps.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := script.Load(args[0])
			if err != nil {
				return err
			}

			// Writes go to a throwaway in-memory store so save and flush
			// steps behave as they do under run.
			d := persist.NewDispatcher(persist.NewMemoryGateway())
			if err := d.Start(); err != nil {
				return err
			}
			defer func() {
				_ = d.Stop(context.Background())
			}()

			eopts := []engine.Option{engine.WithDispatcher(d)}
			if s.Document != nil {
				eopts = append(eopts, engine.WithDocument(*s.Document))
			}
			eng, err := engine.New(eopts...)
			if err != nil {
				return err
			}
			if _, err := script.NewRunner(eng).Run(commandContext(cmd), s); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, err = fmt.Fprint(out, panel.New(out).Render(eng))
			return err
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
