// Package testutil provides fixtures shared by the package tests.
package testutil

import (
	"time"

	"github.com/speedrun-hq/intentmesh/pkg/models"
)

// BaseTime is the reference instant used by fixtures
var BaseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// IntentOption customizes a fixture intent
type IntentOption func(*models.Intent)

// NewIntent builds an active NAM->ATOM intent expiring a day after BaseTime
func NewIntent(id string, opts ...IntentOption) models.Intent {
	intent := models.Intent{
		ID:             id,
		FromToken:      "NAM",
		FromAmount:     "100",
		ToToken:        "ATOM",
		ToAmount:       "50",
		Expiry:         BaseTime.Add(24 * time.Hour),
		CreatorAddress: "creator-" + id,
		Status:         models.StatusActive,
		CreatedAt:      BaseTime,
		UpdatedAt:      BaseTime,
	}
	for _, opt := range opts {
		opt(&intent)
	}
	return intent
}

// WithPair sets the traded tokens
func WithPair(from, to string) IntentOption {
	return func(i *models.Intent) {
		i.FromToken = from
		i.ToToken = to
	}
}

// WithAmounts sets both amounts
func WithAmounts(from, to string) IntentOption {
	return func(i *models.Intent) {
		i.FromAmount = from
		i.ToAmount = to
	}
}

// WithExpiry sets the expiry
func WithExpiry(expiry time.Time) IntentOption {
	return func(i *models.Intent) {
		i.Expiry = expiry
	}
}

// WithStatus sets the status
func WithStatus(status models.IntentStatus) IntentOption {
	return func(i *models.Intent) {
		i.Status = status
	}
}

// WithCreator sets the creator address
func WithCreator(address string) IntentOption {
	return func(i *models.Intent) {
		i.CreatorAddress = address
	}
}

// WithCreatedAt sets both timestamps
func WithCreatedAt(at time.Time) IntentOption {
	return func(i *models.Intent) {
		i.CreatedAt = at
		i.UpdatedAt = at
	}
}

// CreateFrom returns the creation payload of an intent fixture
func CreateFrom(i models.Intent) models.CreateIntent {
	return models.CreateIntent{
		FromToken:      i.FromToken,
		FromAmount:     i.FromAmount,
		ToToken:        i.ToToken,
		ToAmount:       i.ToAmount,
		Expiry:         i.Expiry,
		CreatorAddress: i.CreatorAddress,
	}
}
