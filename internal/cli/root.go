// Package cli implements the plenum command line.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/plenum/internal/config"
)

// RootOptions holds global flags and the configuration they resolve to.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // sqlite path, overrides database.path
	DSN        string // postgres dsn, overrides database.dsn and selects postgres

	// Config is loaded before any subcommand runs.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "plenum",
		Short: "plenum - assembly action backend",
		Long: `Write-path backend for assembly management: validates, authorizes and
commits batches of actions (agenda, motions, speakers, elections, chat,
media) against a relational datastore, with history for every change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.Database, "db", "", "path to SQLite database")
	flags.StringVar(&opts.DSN, "dsn", "", "Postgres connection string")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewHandleCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewModelsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// load resolves the configuration, applies flag overrides and installs the
// default logger on stderr.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = o.Database
	}
	if o.DSN != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = o.DSN
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	o.Config = cfg
	slog.SetDefault(slog.New(cfg.Log.Handler(cmd.ErrOrStderr(), o.Verbose)))
	return nil
}

// formatter builds an OutputFormatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
