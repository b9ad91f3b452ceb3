// Package storage defines the intent store and its shared semantics.
package storage

import (
	"context"

	"github.com/speedrun-hq/intentmesh/pkg/models"
)

// ModifyFunc computes the update to apply to the current record.
// Returning an error aborts the write and the error is passed to the caller unchanged.
type ModifyFunc func(current models.Intent) (models.IntentUpdate, error)

// CheckFunc inspects the current record before a conditional delete.
// Returning an error keeps the record and the error is passed to the caller unchanged.
type CheckFunc func(current models.Intent) error

// IntentStore is the durable keyed collection of intents.
// Implementations serialize modifications of the same id.
type IntentStore interface {
	// Create stores a new active intent with a fresh id.
	// Returns ErrDuplicateKey if the generated id already exists.
	Create(ctx context.Context, data models.CreateIntent) (*models.Intent, error)

	// Get returns the intent with id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*models.Intent, error)

	// List returns the intents matching every set field of filter,
	// newest first with ties broken by id descending.
	List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error)

	// Update merges update into the record and refreshes UpdatedAt.
	// Returns ErrNotFound if absent.
	Update(ctx context.Context, id string, update models.IntentUpdate) (*models.Intent, error)

	// Modify atomically reads the record, applies fn and writes the result.
	Modify(ctx context.Context, id string, fn ModifyFunc) (*models.Intent, error)

	// Delete removes the record. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// DeleteIf atomically reads the record, runs fn and removes the record
	// when fn returns nil. The removed record is returned.
	DeleteIf(ctx context.Context, id string, fn CheckFunc) (*models.Intent, error)

	// SweepExpired moves every active intent whose expiry is at or before now
	// to expired and returns how many moved.
	SweepExpired(ctx context.Context) (int, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}
