package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/speedrun-hq/intentmesh/pkg/models"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	FromToken  string
	FromAmount string
	ToToken    string
	ToAmount   string
	Creator    string
	ExpiresIn  time.Duration
	Expiry     string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a new trade intent",
		Long: `Publish a new trade intent.

Example:
  intentmesh create --give 100 --give-token NAM --want 50 --want-token ATOM --creator tnam1q... --expires-in 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			expiry := time.Now().UTC().Add(opts.ExpiresIn)
			if opts.Expiry != "" {
				t, err := time.Parse(time.RFC3339, opts.Expiry)
				if err != nil {
					return fmt.Errorf("invalid --expiry %q: %w", opts.Expiry, err)
				}
				expiry = t
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			intent, err := client.Create(cmd.Context(), models.CreateIntent{
				FromToken:      opts.FromToken,
				FromAmount:     opts.FromAmount,
				ToToken:        opts.ToToken,
				ToAmount:       opts.ToAmount,
				Expiry:         expiry,
				CreatorAddress: opts.Creator,
			})
			if err != nil {
				return err
			}
			return newPrinter(opts.RootOptions, cmd.OutOrStdout()).intent(intent)
		},
	}

	cmd.Flags().StringVar(&opts.FromAmount, "give", "", "amount offered")
	cmd.Flags().StringVar(&opts.FromToken, "give-token", "", "token offered")
	cmd.Flags().StringVar(&opts.ToAmount, "want", "", "amount requested")
	cmd.Flags().StringVar(&opts.ToToken, "want-token", "", "token requested")
	cmd.Flags().StringVar(&opts.Creator, "creator", "", "creator address")
	cmd.Flags().DurationVar(&opts.ExpiresIn, "expires-in", 24*time.Hour, "lifetime of the intent")
	cmd.Flags().StringVar(&opts.Expiry, "expiry", "", "absolute expiry (RFC 3339), overrides --expires-in")

	return cmd
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Filter models.IntentFilter
	Status string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List intents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			opts.Filter.Status = models.IntentStatus(opts.Status)
			intents, err := client.List(cmd.Context(), opts.Filter)
			if err != nil {
				return err
			}
			return newPrinter(opts.RootOptions, cmd.OutOrStdout()).intents(intents)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter (active|matched|fulfilled|expired)")
	cmd.Flags().StringVar(&opts.Filter.FromToken, "give-token", "", "offered token filter")
	cmd.Flags().StringVar(&opts.Filter.ToToken, "want-token", "", "requested token filter")
	cmd.Flags().StringVar(&opts.Filter.CreatorAddress, "creator", "", "creator address filter")

	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <intent-id>",
		Short: "Show one intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rootOpts.client()
			if err != nil {
				return err
			}
			intent, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).intent(intent)
		},
	}
}

// ActorOptions holds the acting address of commands that act on an intent.
type ActorOptions struct {
	*RootOptions
	As string
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cancel <intent-id>",
		Short: "Withdraw an active intent you created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Cancel(cmd.Context(), args[0], opts.As); err != nil {
				return err
			}
			return newPrinter(opts.RootOptions, cmd.OutOrStdout()).message("Cancelled %s", args[0])
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "creator address")

	return cmd
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Created bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "Show the completed trades of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var intents []models.Intent
			if opts.Created {
				intents, err = client.UserIntents(cmd.Context(), args[0])
			} else {
				intents, err = client.History(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return newPrinter(opts.RootOptions, cmd.OutOrStdout()).intents(intents)
		},
	}

	cmd.Flags().BoolVar(&opts.Created, "created", false, "list every intent the address created instead")

	return cmd
}

// StaleOptions holds flags for the stale command.
type StaleOptions struct {
	*RootOptions
	OlderThan time.Duration
}

// NewStaleCommand creates the stale command.
func NewStaleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StaleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List matched intents whose settlement was never confirmed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			intents, err := client.StaleMatched(cmd.Context(), opts.OlderThan)
			if err != nil {
				return err
			}
			return newPrinter(opts.RootOptions, cmd.OutOrStdout()).intents(intents)
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 15*time.Minute, "minimum age of the claim")

	return cmd
}
