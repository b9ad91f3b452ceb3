// Package lifecycle drives intents through their status graph:
//
//	active -> matched -> fulfilled
//	active -> expired
//
// Nothing ever re-enters active. The controller coordinates the store and
// the matcher without owning either.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/speedrun-hq/intentmesh/pkg/clock"
	"github.com/speedrun-hq/intentmesh/pkg/events"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/matcher"
	"github.com/speedrun-hq/intentmesh/pkg/metrics"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
)

// Controller orchestrates the intent store and the matcher
type Controller struct {
	store     storage.IntentStore
	matcher   *matcher.Matcher
	clock     clock.Clock
	logger    logger.Logger
	publisher events.Publisher
}

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock used for expiry and matching decisions
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(ctrl *Controller) {
		ctrl.logger = l
	}
}

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(ctrl *Controller) {
		ctrl.publisher = p
	}
}

// WithMatcher replaces the matcher
func WithMatcher(m *matcher.Matcher) Option {
	return func(ctrl *Controller) {
		ctrl.matcher = m
	}
}

// NewController creates a controller over store
func NewController(store storage.IntentStore, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		clock:     clock.System{},
		logger:    &logger.EmptyLogger{},
		publisher: events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.matcher == nil {
		c.matcher = matcher.New(c.logger)
	}
	return c
}

// RefreshResult is the state of the pool after a refresh
type RefreshResult struct {
	Active  []models.Intent      `json:"active"`
	Matches []models.IntentMatch `json:"matches"`
}

// Create validates data and stores it as a new active intent
func (c *Controller) Create(ctx context.Context, data models.CreateIntent) (*models.Intent, error) {
	data = data.Normalize()
	if err := data.Validate(c.clock.Now()); err != nil {
		return nil, err
	}

	intent, err := c.store.Create(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create intent: %w", err)
	}

	metrics.IntentsCreated.WithLabelValues(intent.FromToken, intent.ToToken).Inc()
	c.logger.InfoWithComponent(logger.Lifecycle, "Created intent %s: %s %s for %s %s by %s",
		intent.ID, intent.FromAmount, intent.FromToken, intent.ToAmount, intent.ToToken, intent.CreatorAddress)
	c.publish(ctx, events.ForIntent(events.Created, *intent, intent.CreatedAt))
	return intent, nil
}

// Get returns one intent
func (c *Controller) Get(ctx context.Context, id string) (*models.Intent, error) {
	return c.store.Get(ctx, id)
}

// List returns the intents matching filter, newest first
func (c *Controller) List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, models.NewValidationError("status", "unknown status %q", filter.Status)
	}
	return c.store.List(ctx, filter)
}

// UserIntents returns every intent created by address
func (c *Controller) UserIntents(ctx context.Context, address string) ([]models.Intent, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, models.NewValidationError("address", "is required")
	}
	return c.store.List(ctx, models.IntentFilter{CreatorAddress: address})
}

// History returns the fulfilled intents address took part in, as creator or
// as claimer, most recently settled first.
func (c *Controller) History(ctx context.Context, address string) ([]models.Intent, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, models.NewValidationError("address", "is required")
	}

	fulfilled, err := c.store.List(ctx, models.IntentFilter{Status: models.StatusFulfilled})
	if err != nil {
		return nil, err
	}

	history := make([]models.Intent, 0)
	for _, intent := range fulfilled {
		if intent.CreatorAddress == address || intent.MatchedBy == address {
			history = append(history, intent)
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].UpdatedAt.Equal(history[j].UpdatedAt) {
			return history[i].UpdatedAt.After(history[j].UpdatedAt)
		}
		return history[i].ID > history[j].ID
	})
	return history, nil
}

// SweepExpired expires every active intent past its expiry
func (c *Controller) SweepExpired(ctx context.Context) (int, error) {
	count, err := c.store.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired intents: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	metrics.IntentsSwept.Add(float64(count))
	metrics.StatusTransitions.WithLabelValues(string(models.StatusActive), string(models.StatusExpired)).Add(float64(count))
	c.logger.InfoWithComponent(logger.Sweeper, "Expired %d intents", count)
	c.publish(ctx, events.Event{Type: events.Expired, Status: models.StatusExpired, Count: count, At: c.clock.Now()})
	return count, nil
}

// Refresh sweeps, reloads the active pool and computes every fulfillable pair
func (c *Controller) Refresh(ctx context.Context) (*RefreshResult, error) {
	start := time.Now()
	defer func() {
		metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	}()

	if _, err := c.SweepExpired(ctx); err != nil {
		return nil, err
	}

	pool, err := c.activePool(ctx)
	if err != nil {
		return nil, err
	}

	// intents that expired after the sweep stay out of both lists
	now := c.clock.Now()
	active := make([]models.Intent, 0, len(pool))
	for _, intent := range pool {
		if !intent.IsExpired(now) {
			active = append(active, intent)
		}
	}
	matches := c.matcher.AllPairs(active, now)

	metrics.ActiveIntents.Set(float64(len(active)))
	metrics.FulfillableMatches.Set(float64(len(matches)))
	c.logger.DebugWithComponent(logger.Lifecycle, "Refreshed %d active intents, %d fulfillable pairs", len(active), len(matches))

	return &RefreshResult{Active: active, Matches: matches}, nil
}

// MatchesFor ranks the active counter-intents of one intent. An intent that
// is no longer active has no matches.
func (c *Controller) MatchesFor(ctx context.Context, id string) ([]models.IntentMatch, error) {
	target, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.Status != models.StatusActive {
		return []models.IntentMatch{}, nil
	}

	pool, err := c.activePool(ctx)
	if err != nil {
		return nil, err
	}
	return c.matcher.FindMatches(*target, pool, c.clock.Now()), nil
}

// BestMatchFor returns the highest ranked counter-intent of one intent.
// ok is false when there is none.
func (c *Controller) BestMatchFor(ctx context.Context, id string) (match models.IntentMatch, ok bool, err error) {
	matches, err := c.MatchesFor(ctx, id)
	if err != nil {
		return models.IntentMatch{}, false, err
	}
	if len(matches) == 0 {
		return models.IntentMatch{}, false, nil
	}
	return matches[0], true, nil
}

// Fulfill claims an active, unexpired intent for actingAddress and moves it
// to matched. The check and the write are one atomic store modification, so
// of two concurrent claims exactly one wins.
func (c *Controller) Fulfill(ctx context.Context, id, actingAddress string) (*models.Intent, error) {
	actingAddress = strings.TrimSpace(actingAddress)
	if actingAddress == "" {
		metrics.FulfillFailures.WithLabelValues("validation").Inc()
		return nil, models.NewValidationError("actingAddress", "is required")
	}

	var previous models.IntentStatus
	intent, err := c.store.Modify(ctx, id, func(current models.Intent) (models.IntentUpdate, error) {
		previous = current.Status
		if current.Status != models.StatusActive {
			return models.IntentUpdate{}, &StateError{IntentID: id, Current: current.Status, Reason: fulfillReason(current.Status)}
		}
		if current.IsExpired(c.clock.Now()) {
			return models.IntentUpdate{}, &StateError{IntentID: id, Current: current.Status, Reason: ReasonExpired}
		}
		if current.CreatorAddress == actingAddress {
			return models.IntentUpdate{}, models.NewValidationError("actingAddress", "creator cannot fulfill their own intent")
		}

		update := models.StatusUpdate(models.StatusMatched)
		update.MatchedBy = &actingAddress
		return update, nil
	})
	if err != nil {
		metrics.FulfillFailures.WithLabelValues(failureReason(err)).Inc()
		c.logger.NoticeWithComponent(logger.Lifecycle, "Rejected fulfill of %s by %s: %v", id, actingAddress, err)
		return nil, err
	}

	c.transitioned(previous, intent.Status)
	c.logger.InfoWithComponent(logger.Lifecycle, "Intent %s matched by %s", intent.ID, actingAddress)
	c.publish(ctx, events.ForIntent(events.Matched, *intent, intent.UpdatedAt))
	return intent, nil
}

// ConfirmFulfillment records a successful settlement of a matched intent and
// moves it to fulfilled.
func (c *Controller) ConfirmFulfillment(ctx context.Context, id, reference string) (*models.Intent, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, models.NewValidationError("reference", "is required")
	}

	intent, err := c.store.Modify(ctx, id, func(current models.Intent) (models.IntentUpdate, error) {
		switch current.Status {
		case models.StatusMatched:
		case models.StatusFulfilled:
			return models.IntentUpdate{}, &StateError{IntentID: id, Current: current.Status, Reason: ReasonAlreadyFulfilled}
		default:
			return models.IntentUpdate{}, &StateError{IntentID: id, Current: current.Status, Reason: ReasonNotMatched}
		}

		update := models.StatusUpdate(models.StatusFulfilled)
		update.SettlementRef = &reference
		return update, nil
	})
	if err != nil {
		c.logger.NoticeWithComponent(logger.Lifecycle, "Rejected confirmation of %s: %v", id, err)
		return nil, err
	}

	c.transitioned(models.StatusMatched, models.StatusFulfilled)
	metrics.SettlementsCompleted.WithLabelValues(intent.ToToken).Inc()
	c.logger.InfoWithComponent(logger.Lifecycle, "Intent %s fulfilled, reference %s", intent.ID, reference)
	c.publish(ctx, events.ForIntent(events.Fulfilled, *intent, intent.UpdatedAt))
	return intent, nil
}

// Cancel deletes an active intent on behalf of its creator. The ownership
// and status checks run in the same store operation as the delete, so a
// concurrent claim either lands first and blocks the cancel or fails.
func (c *Controller) Cancel(ctx context.Context, id, actingAddress string) error {
	actingAddress = strings.TrimSpace(actingAddress)
	if actingAddress == "" {
		return models.NewValidationError("actingAddress", "is required")
	}

	intent, err := c.store.DeleteIf(ctx, id, func(current models.Intent) error {
		if current.CreatorAddress != actingAddress {
			return fmt.Errorf("cannot cancel intent %s: %w", id, ErrNotOwner)
		}
		if current.Status != models.StatusActive {
			return &StateError{IntentID: id, Current: current.Status, Reason: ReasonNotActive}
		}
		return nil
	})
	if err != nil {
		c.logger.NoticeWithComponent(logger.Lifecycle, "Rejected cancel of %s by %s: %v", id, actingAddress, err)
		return err
	}

	metrics.IntentsCancelled.Inc()
	c.logger.InfoWithComponent(logger.Lifecycle, "Intent %s cancelled by its creator", id)
	c.publish(ctx, events.ForIntent(events.Cancelled, *intent, c.clock.Now()))
	return nil
}

// StaleMatched returns the matched intents whose claim is at least olderThan
// old and still unconfirmed, oldest claim first.
func (c *Controller) StaleMatched(ctx context.Context, olderThan time.Duration) ([]models.Intent, error) {
	matched, err := c.store.List(ctx, models.IntentFilter{Status: models.StatusMatched})
	if err != nil {
		return nil, err
	}

	cutoff := c.clock.Now().Add(-olderThan)
	stale := make([]models.Intent, 0)
	for _, intent := range matched {
		if !intent.UpdatedAt.After(cutoff) {
			stale = append(stale, intent)
		}
	}
	sort.SliceStable(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	metrics.StaleMatched.Set(float64(len(stale)))
	return stale, nil
}

// Ping checks the store
func (c *Controller) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *Controller) activePool(ctx context.Context) ([]models.Intent, error) {
	active, err := c.store.List(ctx, models.IntentFilter{Status: models.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to load active intents: %w", err)
	}
	return active, nil
}

func (c *Controller) transitioned(from, to models.IntentStatus) {
	metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Controller) publish(ctx context.Context, event events.Event) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		c.logger.ErrorWithComponent(logger.Events, "Failed to publish %s for %s: %v", event.Type, event.Key(), err)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type), "ok").Inc()
}

// failureReason labels a rejected fulfill for metrics
func failureReason(err error) string {
	if reason, ok := ReasonOf(err); ok {
		return string(reason)
	}
	switch {
	case isNotFound(err):
		return "not_found"
	case isValidation(err):
		return "validation"
	default:
		return "store_fault"
	}
}
