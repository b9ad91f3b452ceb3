package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/service"
	"github.com/speedrun-hq/intentmesh/pkg/settlement"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
	"github.com/speedrun-hq/intentmesh/pkg/wallet"
)

// MatchesOptions holds flags for the matches command.
type MatchesOptions struct {
	*RootOptions
	Best bool
}

// NewMatchesCommand creates the matches command.
func NewMatchesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "matches [intent-id]",
		Short: "Show compatible counter-intents",
		Long: `Show compatible counter-intents.

Without an intent id, expired intents are swept and every fulfillable pair
in the active pool is listed. With an id, the counter-intents of that intent
are ranked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			p := newPrinter(opts.RootOptions, cmd.OutOrStdout())

			if len(args) == 0 {
				result, err := client.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				return p.matches(result.Matches)
			}

			if opts.Best {
				match, ok, err := client.BestMatchFor(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return p.matches(nil)
				}
				return p.matches([]models.IntentMatch{match})
			}

			matches, err := client.MatchesFor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return p.matches(matches)
		},
	}

	cmd.Flags().BoolVar(&opts.Best, "best", false, "show only the best match of the intent")

	return cmd
}

// NewFulfillCommand creates the fulfill command.
func NewFulfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fulfill <intent-id>",
		Short: "Claim an intent without settling it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			intent, err := client.Fulfill(cmd.Context(), args[0], opts.As)
			if err != nil {
				return err
			}
			return newPrinter(opts.RootOptions, cmd.OutOrStdout()).intent(intent)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "claiming address")

	return cmd
}

// ConfirmOptions holds flags for the confirm command.
type ConfirmOptions struct {
	*RootOptions
	Reference string
}

// NewConfirmCommand creates the confirm command.
func NewConfirmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfirmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "confirm <intent-id>",
		Short: "Record the settlement of a claimed intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			intent, err := client.ConfirmFulfillment(cmd.Context(), args[0], opts.Reference)
			if err != nil {
				return err
			}
			return newPrinter(opts.RootOptions, cmd.OutOrStdout()).intent(intent)
		},
	}

	cmd.Flags().StringVar(&opts.Reference, "reference", "", "settlement reference, such as a transaction hash")

	return cmd
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settle <intent-id>",
		Short: "Claim an intent, pay its creator from the configured wallet and confirm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}
			client, err := rootOpts.client()
			if err != nil {
				return err
			}
			l := rootOpts.logger()

			w, err := service.NewWallet(cmd.Context(), cfg, l)
			if err != nil {
				return err
			}
			settler := settlement.NewSettler(client, w,
				settlement.WithBreaker(service.NewBreaker(cfg.CircuitBreaker, l)),
				settlement.WithLogger(l),
			)
			defer settler.Close()

			result, err := settler.Settle(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			p := newPrinter(rootOpts, cmd.OutOrStdout())
			if p.format == "json" {
				return p.json(result)
			}
			return p.message("Settled %s: sent %s %s to %s (reference %s)",
				result.Intent.ID, result.Transfer.Amount, result.Transfer.Token,
				result.Transfer.ToAddress, result.Reference)
		},
	}
}

// BalanceResult is the JSON output of the balance command
type BalanceResult struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <token>",
		Short: "Show the configured wallet's balance of a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := tokens.Normalize(args[0])
			if !tokens.IsSupported(symbol) {
				return fmt.Errorf("unsupported token %q", args[0])
			}
			cfg, err := rootOpts.config()
			if err != nil {
				return err
			}

			w, err := service.NewWallet(cmd.Context(), cfg, rootOpts.logger())
			if err != nil {
				return err
			}
			reader, ok := w.(wallet.BalanceReader)
			if !ok {
				return fmt.Errorf("wallet driver %q does not report balances", cfg.Wallet.Driver)
			}
			address, connected, err := w.CurrentAddress(cmd.Context())
			if err != nil {
				return err
			}
			if !connected {
				return wallet.ErrNotConnected
			}
			balance, err := reader.Balance(cmd.Context(), symbol)
			if err != nil {
				return err
			}

			p := newPrinter(rootOpts, cmd.OutOrStdout())
			if p.format == "json" {
				return p.json(BalanceResult{Address: address, Token: symbol, Balance: balance.String()})
			}
			return p.message("%s holds %s %s", address, balance.String(), symbol)
		},
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every active intent past its expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rootOpts.client()
			if err != nil {
				return err
			}
			count, err := client.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).message("Expired %d intents", count)
		},
	}
}

// NewTokensCommand creates the tokens command.
func NewTokensCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "List the supported tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rootOpts.client()
			if err != nil {
				return err
			}
			list, err := client.Tokens(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).tokens(list)
		},
	}
}
