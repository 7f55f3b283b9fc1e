// Package reconcile provides the reconcile command implementation.
package reconcile

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/grimoire/internal/appcontext"
	"github.com/agentstation/grimoire/pkg/manifest"
	"github.com/agentstation/grimoire/pkg/save"
)

// NewCommand creates the reconcile command using app context.
func NewCommand(app appcontext.Interface) *cobra.Command {
	var (
		dryRun bool
		force  bool
		since  string
	)

	cmd := &cobra.Command{
		Use:     "reconcile",
		GroupID: "core",
		Short:   "Merge all configured sources into the canonical corpus",
		Long: `Reconcile loads every configured source, merges records that name the
same entity (lower source priority wins), attaches free-text snippets by
fuzzy name match and writes the corpus database and YAML snapshot.

Runs where no source file changed are skipped unless --force or --since
is given.`,
		Example: `  grimoire reconcile
  grimoire reconcile --dry-run
  grimoire reconcile --since 2024-06-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cutoff, err := manifest.ParseSince(since)
			if err != nil {
				return err
			}
			summary, err := Run(cmd.Context(), app.Config(), Options{
				DryRun: dryRun,
				Force:  force,
				Since:  cutoff,
			})
			if err != nil {
				return err
			}
			return save.Write(summary, save.WithWriter(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the result without writing the corpus or manifest")
	cmd.Flags().BoolVar(&force, "force", false, "reconcile even when no source changed")
	cmd.Flags().StringVar(&since, "since", "", "reprocess records recorded at or after this ISO-8601 time")
	return cmd
}
