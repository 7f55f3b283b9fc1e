// Package community provides the community command implementation.
package community

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/grimoire/internal/appcontext"
	"github.com/agentstation/grimoire/internal/lock"
	"github.com/agentstation/grimoire/pkg/community"
	"github.com/agentstation/grimoire/pkg/save"
)

// NewCommand creates the community command group.
func NewCommand(app appcontext.Interface) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "community",
		GroupID: "core",
		Short:   "Manage community annotation bundles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newIngestCommand(app))
	return cmd
}

func newIngestCommand(app appcontext.Interface) *cobra.Command {
	var opts community.Options

	cmd := &cobra.Command{
		Use:   "ingest [bundle-path...]",
		Short: "Merge annotation bundles into the processed tables",
		Long: `Ingest applies create, update and delete bundles to the community tables.

A bundle whose updated_at does not strictly exceed the last applied one is
reported as a stale_bundle conflict and left unapplied, unless --force
(apply silently) or --allow-conflicts (apply and report) is given.

With no paths every bundle in the configured bundle directory is read.`,
		Example: `  grimoire community ingest
  grimoire community ingest bundles/ann-1.yaml --dry-run
  grimoire community ingest --allow-conflicts --actor moderator`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config()
			if opts.Actor == "" {
				opts.Actor = cfg.Actor
			}
			store := community.New(cfg.ProcessedDir, community.WithBundleDir(cfg.BundleDir))

			if !opts.DryRun {
				l, err := lock.Acquire(cfg.ProcessedDir)
				if err != nil {
					return err
				}
				defer func() { _ = l.Release() }()
			}

			result, err := store.Ingest(cmd.Context(), args, opts)
			if result != nil {
				if werr := save.Write(result, save.WithWriter(cmd.OutOrStdout())); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "count transitions without writing anything")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "apply stale bundles without reporting conflicts")
	cmd.Flags().BoolVar(&opts.AllowConflicts, "allow-conflicts", false, "apply stale bundles and still report the conflicts")
	cmd.Flags().BoolVar(&opts.FailOnConflict, "fail-on-conflict", false, "exit non-zero and write no tables when any conflict is found")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "name recorded in the audit log (default from config)")
	return cmd
}
