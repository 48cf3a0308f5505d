/*
Package cli implements tokenctl, the clinic admin command line.

PURPOSE:
  Runs the same engine the server runs, against the same sqlite file or
  Postgres database, for desk staff and operators without the web admin:

    tokenctl book --name Asha --phone 9876543210 --date 2025-06-01
    tokenctl bookings --date 2025-06-01 --status confirmed
    tokenctl availability [date]
    tokenctl disable 2025-06-01 [--keep-count]
    tokenctl close-today
    tokenctl stats

CONFIGURATION:
  The environment (and .env) is read exactly like the server does; the
  persistent flags below override it. Notifications are off unless
  --notify is given.

SEE ALSO:
  - app/app.go: Shared wiring
*/
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/warp/token-engine/app"
	"github.com/warp/token-engine/config"
	"github.com/warp/token-engine/logging"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Store       string
	DB          string
	DatabaseURL string
	PolicyFile  string
	Timezone    string
	Notify      string
	Format      string
	Verbose     bool
}

// NewRootCommand creates the root command for tokenctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tokenctl",
		Short: "Clinic token booking admin",
		Long:  "Book tokens, inspect availability and run the daily close for a clinic token engine.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "store backend: sqlite or postgres (default from STORE)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite database path (default from SQLITE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "Postgres URL (default from DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.PolicyFile, "policy", "", "policy document, JSON or YAML")
	cmd.PersistentFlags().StringVar(&opts.Timezone, "timezone", "", "clinic timezone, e.g. Asia/Kolkata")
	cmd.PersistentFlags().StringVar(&opts.Notify, "notify", "none", "notifiers to use for bookings made here")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine activity to stderr")

	cmd.AddCommand(NewBookCommand(opts))
	cmd.AddCommand(NewBookingsCommand(opts))
	cmd.AddCommand(NewAvailabilityCommand(opts))
	cmd.AddCommand(NewDisableCommand(opts))
	cmd.AddCommand(NewCloseTodayCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// config merges the flags over the environment.
func (o *RootOptions) config() config.Config {
	cfg := config.Load()
	if o.Store != "" {
		cfg.Store = o.Store
	}
	if o.DB != "" {
		cfg.SQLitePath = o.DB
	}
	if o.DatabaseURL != "" {
		cfg.DatabaseURL = o.DatabaseURL
	}
	if o.PolicyFile != "" {
		cfg.PolicyFile = o.PolicyFile
	}
	if o.Timezone != "" {
		cfg.Timezone = o.Timezone
	}
	cfg.Notifier = o.Notify
	return cfg
}

// withApp builds the engine, runs fn and releases everything afterwards.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *app.App) error) error {
	cfg := opts.config()
	if cfg.Store == "memory" {
		return fmt.Errorf("tokenctl needs a persistent store (sqlite or postgres)")
	}

	logger := logging.Discard()
	if opts.Verbose {
		logger = logging.NewWithWriter("debug", cmd.ErrOrStderr())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
