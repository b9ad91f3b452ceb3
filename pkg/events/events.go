// Package events publishes intent lifecycle events to downstream consumers.
// Publishing is best-effort: a failed publish never undoes the store write
// that produced the event.
package events

import (
	"context"
	"time"

	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/models"
)

// Type names a lifecycle event
type Type string

const (
	Created   Type = "intent.created"
	Matched   Type = "intent.matched"
	Fulfilled Type = "intent.fulfilled"
	Expired   Type = "intent.expired"
	Cancelled Type = "intent.cancelled"
)

// Event describes one lifecycle change. Sweeps publish a single Expired event
// carrying the number of intents that expired instead of an intent id.
type Event struct {
	Type      Type                `json:"type"`
	IntentID  string              `json:"intentId,omitempty"`
	Status    models.IntentStatus `json:"status,omitempty"`
	Creator   string              `json:"creatorAddress,omitempty"`
	Actor     string              `json:"actor,omitempty"`
	Reference string              `json:"reference,omitempty"`
	Count     int                 `json:"count,omitempty"`
	At        time.Time           `json:"at"`
}

// ForIntent builds an event describing the given intent after a change
func ForIntent(t Type, intent models.Intent, at time.Time) Event {
	return Event{
		Type:      t,
		IntentID:  intent.ID,
		Status:    intent.Status,
		Creator:   intent.CreatorAddress,
		Actor:     intent.MatchedBy,
		Reference: intent.SettlementRef,
		At:        at,
	}
}

// Key returns the partition key of the event
func (e Event) Key() string {
	if e.IntentID != "" {
		return e.IntentID
	}
	return string(e.Type)
}

// Publisher delivers lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// LogPublisher writes events to the logger
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a publisher that logs every event
func NewLogPublisher(logger logger.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	switch {
	case event.Count > 0:
		p.logger.InfoWithComponent(logger.Events, "%s: %d intents", event.Type, event.Count)
	case event.Reference != "":
		p.logger.InfoWithComponent(logger.Events, "%s: %s (status %s, ref %s)", event.Type, event.IntentID, event.Status, event.Reference)
	default:
		p.logger.InfoWithComponent(logger.Events, "%s: %s (status %s)", event.Type, event.IntentID, event.Status)
	}
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error {
	return nil
}
