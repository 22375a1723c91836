// Command gracectl is the administrative tool for the cluster-wide grace
// object: dump its state, start or extend a grace period for a set of
// nodes, or lift it for nodes that have finished reclaim. Grounded on the
// source's single flag-driven command, not a subcommand tree.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/gracecoord/internal/cli/output"
	"github.com/marmos91/gracecoord/internal/cli/prompt"
	"github.com/marmos91/gracecoord/pkg/config"
	"github.com/marmos91/gracecoord/pkg/grace"
	"github.com/marmos91/gracecoord/pkg/objectstore/postgres"
)

func main() {
	os.Exit(Execute())
}

// Execute builds and runs the root command, returning the process exit
// code: 0 on success, 1 on any failure.
func Execute() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		lift       bool
		force      bool
		formatStr  string
	)

	cmd := &cobra.Command{
		Use:   "gracectl [node-id...]",
		Short: "Inspect and administer the cluster-wide grace object",
		Long: "gracectl dumps the grace object by default. Passing node ids without -l " +
			"starts or extends a grace period for those nodes; -l lifts grace for the " +
			"listed nodes instead.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(formatStr)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("gracectl: load config: %w", err)
			}

			opts := options{
				object: cfg.Grace.GraceObject,
				lift:   lift,
				force:  force,
				format: format,
			}

			ctx := context.Background()
			store, err := postgres.New(ctx, postgres.Config{
				DSN:           cfg.Store.DSN,
				MaxConns:      cfg.Store.MaxConns,
				MinConns:      cfg.Store.MinConns,
				ChannelPrefix: cfg.Store.ChannelPrefix,
			}, nil)
			if err != nil {
				return fmt.Errorf("gracectl: connect: %w", err)
			}
			defer store.Close()

			// gracectl ensures the schema exists unconditionally, mirroring
			// the source tool's unconditional pool-create-then-mutate-then-
			// dump contract: a fresh database must not surface a raw
			// "relation does not exist" error from the first CAS write.
			if err := postgres.Migrate(ctx, cfg.Store.DSN, nil); err != nil {
				return fmt.Errorf("gracectl: ensure schema: %w", err)
			}

			coord := grace.New(store)

			return run(ctx, coord, opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr(), prompt.ConfirmWithForce)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to gracectl config file")
	cmd.Flags().BoolVarP(&lift, "lift", "l", false, "lift grace for the listed node ids instead of starting it")
	cmd.Flags().BoolVarP(&force, "force", "y", false, "skip the confirmation prompt")
	cmd.Flags().StringVar(&formatStr, "format", "table", "output format: table, json, yaml")

	return cmd
}
