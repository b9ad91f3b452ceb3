// Package cli implements the intentmesh command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/speedrun-hq/intentmesh/pkg/apiclient"
	"github.com/speedrun-hq/intentmesh/pkg/config"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Endpoint string
	Format   string // "json" | "text"
	Verbose  bool

	// Config is loaded from the environment on first use when nil
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the intentmesh CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intentmesh",
		Short: "intentmesh - peer-to-peer trade intents",
		Long:  "Publish trade intents, find compatible counter-intents and settle them.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", "", "API endpoint (defaults to API_ENDPOINT)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewMatchesCommand(opts))
	cmd.AddCommand(NewFulfillCommand(opts))
	cmd.AddCommand(NewConfirmCommand(opts))
	cmd.AddCommand(NewSettleCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewTokensCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewStaleCommand(opts))

	return cmd
}

func (o *RootOptions) config() (*config.Config, error) {
	if o.Config == nil {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		o.Config = cfg
	}
	return o.Config, nil
}

func (o *RootOptions) logger() logger.Logger {
	level := logger.ErrorLevel
	if o.Verbose {
		level = logger.DebugLevel
	}
	return logger.NewStdLogger(false, level)
}

func (o *RootOptions) client() (*apiclient.Client, error) {
	endpoint := o.Endpoint
	if endpoint == "" {
		cfg, err := o.config()
		if err != nil {
			return nil, err
		}
		endpoint = cfg.APIEndpoint
	}
	return apiclient.New(endpoint, o.logger()), nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
