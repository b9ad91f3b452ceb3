package lifecycle

import (
	"errors"
	"fmt"

	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
)

var (
	// ErrInvalidState is matched by every rejected status transition
	ErrInvalidState = errors.New("invalid state")

	// ErrNotOwner is returned when someone other than the creator cancels an intent
	ErrNotOwner = errors.New("not the intent owner")
)

// Reason explains why a transition was rejected
type Reason string

const (
	ReasonExpired          Reason = "expired"
	ReasonAlreadyClaimed   Reason = "already_claimed"
	ReasonAlreadyFulfilled Reason = "already_fulfilled"
	ReasonNotMatched       Reason = "not_matched"
	ReasonNotActive        Reason = "not_active"
)

// StateError reports a transition the current status does not allow
type StateError struct {
	IntentID string
	Current  models.IntentStatus
	Reason   Reason
}

func (e *StateError) Error() string {
	return fmt.Sprintf("intent %s is %s: %s", e.IntentID, e.Current, e.Reason)
}

// Is matches ErrInvalidState
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ReasonOf returns the reason carried by err, if it is a StateError
func ReasonOf(err error) (Reason, bool) {
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return stateErr.Reason, true
	}
	return "", false
}

// fulfillReason maps the status of an intent that cannot be claimed to a reason
func fulfillReason(status models.IntentStatus) Reason {
	switch status {
	case models.StatusMatched:
		return ReasonAlreadyClaimed
	case models.StatusFulfilled:
		return ReasonAlreadyFulfilled
	case models.StatusExpired:
		return ReasonExpired
	default:
		return ReasonNotActive
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func isValidation(err error) bool {
	return errors.Is(err, models.ErrValidation)
}
