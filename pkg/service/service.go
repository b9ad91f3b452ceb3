// Package service assembles and runs the intentmesh server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/speedrun-hq/intentmesh/pkg/api"
	"github.com/speedrun-hq/intentmesh/pkg/circuitbreaker"
	"github.com/speedrun-hq/intentmesh/pkg/clock"
	"github.com/speedrun-hq/intentmesh/pkg/config"
	"github.com/speedrun-hq/intentmesh/pkg/events"
	"github.com/speedrun-hq/intentmesh/pkg/lifecycle"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
	"github.com/speedrun-hq/intentmesh/pkg/storage/memory"
	"github.com/speedrun-hq/intentmesh/pkg/storage/postgres"
	"github.com/speedrun-hq/intentmesh/pkg/storage/sqlite"
	"github.com/speedrun-hq/intentmesh/pkg/wallet"
	"github.com/speedrun-hq/intentmesh/pkg/wallet/evm"
	"github.com/speedrun-hq/intentmesh/pkg/wallet/local"
)

// Service runs the API server, the expiry sweep and the stale match monitor
type Service struct {
	config     *config.Config
	logger     logger.Logger
	store      storage.IntentStore
	publisher  events.Publisher
	controller *lifecycle.Controller
	server     *api.Server
}

// Option configures a Service
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger logger.Logger
}

// WithClock sets the clock shared by the store and the controller
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger overrides the logger built from the configuration
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewService builds the store, event publisher, controller and API server
// described by cfg
func NewService(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	o := options{clock: clock.System{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = cfg.NewLogger()
	}

	store, err := OpenStore(ctx, cfg.Store, storage.WithClock(o.clock))
	if err != nil {
		return nil, err
	}

	publisher, err := NewPublisher(cfg.Events, o.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	controller := lifecycle.NewController(store,
		lifecycle.WithClock(o.clock),
		lifecycle.WithLogger(o.logger),
		lifecycle.WithPublisher(publisher),
	)

	server := api.NewServer(cfg.HTTPPort, controller,
		api.WithLogger(o.logger),
		api.WithMetricsAPIKey(cfg.MetricsAPIKey),
		api.WithStaleAfter(cfg.StaleMatchAfter),
	)

	o.logger.Info("Using %s store and %s event sink", cfg.Store.Driver, cfg.Events.Sink)

	return &Service{
		config:     cfg,
		logger:     o.logger,
		store:      store,
		publisher:  publisher,
		controller: controller,
		server:     server,
	}, nil
}

// OpenStore opens the intent store selected by cfg.Driver
func OpenStore(ctx context.Context, cfg config.StoreConfig, opts ...storage.Option) (storage.IntentStore, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory:
		return memory.NewIntentStore(opts...), nil
	case config.StoreDriverSQLite:
		store, err := sqlite.OpenIntentStore(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store at %s: %w", cfg.SQLitePath, err)
		}
		return store, nil
	case config.StoreDriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate postgres store: %w", err)
		}
		return postgres.NewIntentStore(pool, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// NewPublisher creates the lifecycle event publisher selected by cfg.Sink
func NewPublisher(cfg config.EventsConfig, l logger.Logger) (events.Publisher, error) {
	switch cfg.Sink {
	case config.EventsSinkLog:
		return events.NewLogPublisher(l), nil
	case config.EventsSinkNone:
		return events.NopPublisher{}, nil
	case config.EventsSinkKafka:
		p, err := events.NewKafkaPublisher(cfg.KafkaBrokers,
			events.WithTopic(cfg.KafkaTopic),
			events.WithLogger(l),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported events sink %q", cfg.Sink)
	}
}

// NewWallet creates the settlement wallet selected by the configuration
func NewWallet(ctx context.Context, cfg *config.Config, l logger.Logger) (wallet.Wallet, error) {
	if err := cfg.ValidateWallet(); err != nil {
		return nil, err
	}
	switch cfg.Wallet.Driver {
	case config.WalletDriverLocal:
		return local.New(cfg.Wallet.Address), nil
	case config.WalletDriverEVM:
		w, err := evm.Dial(ctx, cfg.Wallet.RPCURL, cfg.Wallet.PrivateKey, cfg.Wallet.TokenAddresses, l)
		if err != nil {
			return nil, fmt.Errorf("failed to create evm wallet: %w", err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unsupported wallet driver %q", cfg.Wallet.Driver)
	}
}

// NewBreaker creates the circuit breaker guarding settlement submissions
func NewBreaker(cfg config.CircuitBreakerConfig, l logger.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(
		cfg.Enabled,
		cfg.Threshold,
		cfg.WindowDuration,
		cfg.ResetTimeout,
		circuitbreaker.WithLogger(l),
	)
}

// Controller returns the lifecycle controller
func (s *Service) Controller() *lifecycle.Controller {
	return s.controller
}

// Handler returns the HTTP handler of the API server
func (s *Service) Handler() http.Handler {
	return s.server.Handler()
}

// Start runs the API server, the periodic sweep and the stale match monitor
// until ctx is cancelled or one of them fails
func (s *Service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.server.Start(ctx)
	})

	g.Go(func() error {
		s.logger.InfoWithComponent(logger.Sweeper, "Expiry sweep started with interval %v", s.config.SweepInterval)
		s.runEvery(ctx, s.config.SweepInterval, s.SweepTick)
		s.logger.InfoWithComponent(logger.Sweeper, "Expiry sweep shutting down")
		return nil
	})

	g.Go(func() error {
		interval := s.config.StaleMatchAfter / 2
		if interval < time.Second {
			interval = time.Second
		}
		s.logger.InfoWithComponent(logger.Lifecycle, "Stale match monitor started, threshold %v", s.config.StaleMatchAfter)
		s.runEvery(ctx, interval, s.StaleTick)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) runEvery(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// SweepTick runs one expiry sweep. Failures are logged and retried on the
// next tick.
func (s *Service) SweepTick(ctx context.Context) {
	count, err := s.controller.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorWithComponent(logger.Sweeper, "Sweep failed: %v", err)
		}
		return
	}
	if count > 0 {
		s.logger.InfoWithComponent(logger.Sweeper, "Expired %d intents", count)
	}
}

// StaleTick reports matched intents whose settlement was never confirmed
func (s *Service) StaleTick(ctx context.Context) {
	stale, err := s.controller.StaleMatched(ctx, s.config.StaleMatchAfter)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorWithComponent(logger.Lifecycle, "Stale match check failed: %v", err)
		}
		return
	}
	for _, intent := range stale {
		s.logger.NoticeWithComponent(logger.Lifecycle, "Intent %s matched by %s at %s is still unconfirmed",
			intent.ID, intent.MatchedBy, intent.UpdatedAt.Format(time.RFC3339))
	}
}

// Close releases the publisher and the store
func (s *Service) Close() error {
	var errs []error
	if err := s.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close publisher: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}
