// Package settlement runs the caller side of a trade: claim the intent,
// submit the transfer through the wallet, and confirm the result.
package settlement

import (
	"context"
	"fmt"

	"github.com/speedrun-hq/intentmesh/pkg/circuitbreaker"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/metrics"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/wallet"
)

// Lifecycle is the part of the intent lifecycle a settlement drives. Both the
// in-process controller and the HTTP API client implement it.
type Lifecycle interface {
	Fulfill(ctx context.Context, id, actingAddress string) (*models.Intent, error)
	ConfirmFulfillment(ctx context.Context, id, reference string) (*models.Intent, error)
}

// Result describes a completed settlement
type Result struct {
	Intent    *models.Intent      `json:"intent"`
	Transfer  models.TransferSpec `json:"transfer"`
	Reference string              `json:"reference"`
}

// Settler settles intents on behalf of the wallet's account
type Settler struct {
	lifecycle Lifecycle
	wallet    wallet.Wallet
	conn      *wallet.Connection
	unwatch   func()
	breaker   *circuitbreaker.CircuitBreaker
	logger    logger.Logger
}

// Option configures a Settler
type Option func(*Settler)

// WithBreaker guards submissions with a circuit breaker
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Settler) {
		s.breaker = cb
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *Settler) {
		s.logger = l
	}
}

// NewSettler creates a settler. When w announces account changes the
// settler follows them until Close.
func NewSettler(lc Lifecycle, w wallet.Wallet, opts ...Option) *Settler {
	s := &Settler{
		lifecycle: lc,
		wallet:    w,
		unwatch:   func() {},
		breaker:   circuitbreaker.NewCircuitBreaker(false, 0, 0, 0),
		logger:    &logger.EmptyLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.conn = wallet.NewConnection(w, s.logger)
	if n, ok := w.(wallet.Notifier); ok {
		s.unwatch = s.conn.Watch(n)
	}
	return s
}

// Account returns the acting address, checking the wallet when no account
// is cached yet
func (s *Settler) Account(ctx context.Context) (string, error) {
	if address, ok := s.conn.Address(); ok {
		return address, nil
	}
	address, ok, err := s.conn.CheckConnection(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read wallet account: %w", err)
	}
	if !ok {
		return "", wallet.ErrNotConnected
	}
	return address, nil
}

// Close stops following account changes
func (s *Settler) Close() {
	s.unwatch()
}

// Settle claims intent id for the wallet's account, pays the creator and
// confirms the fulfillment. A failed submission returns a *FaultError and
// leaves the intent matched.
func (s *Settler) Settle(ctx context.Context, id string) (*Result, error) {
	address, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}

	claimed, err := s.lifecycle.Fulfill(ctx, id, address)
	if err != nil {
		return nil, err
	}

	spec := models.SettlementTransfer(*claimed, address)
	s.logger.InfoWithComponent(logger.Settlement, "Settling %s: %s %s from %s to %s",
		id, spec.Amount, spec.Token, spec.FromAddress, spec.ToAddress)

	var reference string
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		ref, err := s.wallet.SubmitSettlement(ctx, spec)
		if err != nil {
			return err
		}
		reference = ref
		return nil
	})
	if err != nil {
		retryable, kind := ClassifyError(err)
		metrics.SettlementFailures.WithLabelValues(kind).Inc()
		s.logger.ErrorWithComponent(logger.Settlement, "Settlement of %s failed (%s, retryable: %v): %v", id, kind, retryable, err)
		return nil, &FaultError{IntentID: id, Kind: kind, Retryable: retryable, Err: err}
	}

	confirmed, err := s.lifecycle.ConfirmFulfillment(ctx, id, reference)
	if err != nil {
		s.logger.ErrorWithComponent(logger.Settlement, "Transfer %s for %s submitted but confirmation failed: %v", reference, id, err)
		return nil, fmt.Errorf("transfer %s submitted but confirmation of %s failed: %w", reference, id, err)
	}

	s.logger.InfoWithComponent(logger.Settlement, "Settled %s with reference %s", id, reference)
	return &Result{Intent: confirmed, Transfer: spec, Reference: reference}, nil
}
