package storage

import (
	"time"

	"github.com/speedrun-hq/intentmesh/pkg/clock"
	"github.com/speedrun-hq/intentmesh/pkg/models"
)

// Options configure a store implementation
type Options struct {
	Clock clock.Clock
	NewID func() string
}

// Option mutates Options
type Option func(*Options)

// WithClock sets the clock used for timestamps and the expiry sweep
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithIDGenerator replaces the intent id generator
func WithIDGenerator(newID func() string) Option {
	return func(o *Options) {
		o.NewID = newID
	}
}

// ApplyOptions resolves opts over the defaults
func ApplyOptions(opts ...Option) Options {
	o := Options{
		Clock: clock.System{},
		NewID: models.NewIntentID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Precision is the timestamp resolution every store keeps
const Precision = time.Microsecond

// Stamp normalizes t to UTC at store precision
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// NextUpdatedAt returns a timestamp for a mutation at now that is strictly
// after prev, even when the clock has not advanced.
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = Stamp(now)
	if now.After(prev) {
		return now
	}
	return prev.Add(Precision)
}

// NewRecord builds the stored form of a new intent
func NewRecord(id string, data models.CreateIntent, now time.Time) models.Intent {
	now = Stamp(now)
	return models.Intent{
		ID:             id,
		FromToken:      data.FromToken,
		FromAmount:     data.FromAmount,
		ToToken:        data.ToToken,
		ToAmount:       data.ToAmount,
		Expiry:         Stamp(data.Expiry),
		CreatorAddress: data.CreatorAddress,
		Status:         models.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Merge applies update to current and refreshes UpdatedAt.
// Returns ErrInvalidInput for an unknown status.
func Merge(current models.Intent, update models.IntentUpdate, now time.Time) (models.Intent, error) {
	if update.Status != nil && !update.Status.Valid() {
		return current, ErrInvalidInput
	}
	merged := current
	update.Apply(&merged)
	merged.Expiry = Stamp(merged.Expiry)
	merged.UpdatedAt = NextUpdatedAt(current.UpdatedAt, now)
	return merged, nil
}

// Newer orders intents newest first with ties broken by id descending
func Newer(a, b models.Intent) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
