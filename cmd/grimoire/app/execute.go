package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentstation/grimoire/cmd/grimoire/cmd/community"
	"github.com/agentstation/grimoire/cmd/grimoire/cmd/manifest"
	"github.com/agentstation/grimoire/cmd/grimoire/cmd/reconcile"
	"github.com/agentstation/grimoire/internal/config"
	"github.com/agentstation/grimoire/pkg/errors"
	"github.com/agentstation/grimoire/pkg/logging"
)

// Execute runs the grimoire CLI application with the given arguments.
// This is the main entry point called from main.go.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// flags holds the persistent flag values before they are folded into config.
type flags struct {
	configFile string
	verbose    bool
	quiet      bool
	noColor    bool
	logLevel   string
}

// createRootCommand creates the root cobra command with all subcommands.
func (a *App) createRootCommand() *cobra.Command {
	f := &flags{}
	rootCmd := &cobra.Command{
		Use:     "grimoire",
		Short:   "Game entity corpus builder",
		Version: a.version,
		Long: `Grimoire builds a canonical, deduplicated corpus of game entities from
several inconsistent sources, skips records that did not change since the
last run, and merges community annotation bundles with conflict detection.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setupCommand(cmd, f)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "management", Title: "Management Commands:"})

	rootCmd.PersistentFlags().StringVar(&f.configFile, "config", "", "config file (default is ./grimoire.yaml or $HOME/.grimoire.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	rootCmd.PersistentFlags().BoolVarP(&f.quiet, "quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	rootCmd.PersistentFlags().BoolVar(&f.noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	rootCmd.SetVersionTemplate("grimoire {{.Version}}\n")
	a.registerCommands(rootCmd)
	return rootCmd
}

// setupCommand is called before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, f *flags) error {
	if f.configFile != "" {
		cfg, err := config.Load(f.configFile)
		if err != nil {
			return errors.WrapResource("load", "config", f.configFile, err)
		}
		a.config = cfg
	}
	a.config.UpdateFromFlags(f.verbose, f.quiet, f.noColor, f.logLevel)

	logger := NewLogger(a.config)
	a.logger = &logger
	logging.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, a.logger)
	ctx = logging.WithRunID(ctx, uuid.NewString())
	cmd.SetContext(ctx)
	return nil
}

func (a *App) registerCommands(rootCmd *cobra.Command) {
	// Core commands
	rootCmd.AddCommand(reconcile.NewCommand(a))
	rootCmd.AddCommand(community.NewCommand(a))

	// Management commands
	rootCmd.AddCommand(manifest.NewCommand(a))

	// Utility commands
	rootCmd.AddCommand(a.newVersionCommand())
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "grimoire %s\n", a.version)
			if a.config.Verbose {
				_, _ = fmt.Fprintf(out, "  commit: %s\n", a.commit)
				_, _ = fmt.Fprintf(out, "  built:  %s\n", a.date)
			}
		},
	}
}

// ExitOnError prints err and exits with status 1.
// This is meant to be used in main.go for top-level error handling.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
