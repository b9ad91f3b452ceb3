package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/speedrun-hq/intentmesh/pkg/service"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the intentmesh server",
		Long: `Run the intentmesh server: the HTTP API, the periodic expiry sweep and
the stale match monitor. Configuration is read from the environment and an
optional .env file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}

			// Set up context with cancellation on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := service.NewService(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = svc.Close()
			}()

			return svc.Start(ctx)
		},
	}
}

// Execute runs the root command with a background context
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}
