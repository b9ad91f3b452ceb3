package models

import (
	"time"

	"github.com/google/uuid"
)

// IntentStatus is the lifecycle state of an intent
type IntentStatus string

const (
	StatusActive    IntentStatus = "active"
	StatusMatched   IntentStatus = "matched"
	StatusFulfilled IntentStatus = "fulfilled"
	StatusExpired   IntentStatus = "expired"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []IntentStatus{StatusActive, StatusMatched, StatusFulfilled, StatusExpired}

// Valid reports whether s is a known status
func (s IntentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusMatched, StatusFulfilled, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s IntentStatus) IsTerminal() bool {
	return s == StatusFulfilled || s == StatusExpired
}

// CanTransitionTo reports whether s -> next is an edge of the lifecycle graph
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	switch s {
	case StatusActive:
		return next == StatusMatched || next == StatusExpired
	case StatusMatched:
		return next == StatusFulfilled
	}
	return false
}

// IntentIDPrefix prefixes every generated intent id
const IntentIDPrefix = "intent_"

// Intent is a published offer to trade FromAmount of FromToken for ToAmount of ToToken
type Intent struct {
	ID             string       `json:"id"`
	FromToken      string       `json:"fromToken"`
	FromAmount     string       `json:"fromAmount"`
	ToToken        string       `json:"toToken"`
	ToAmount       string       `json:"toAmount"`
	Expiry         time.Time    `json:"expiry"`
	CreatorAddress string       `json:"creatorAddress"`
	Status         IntentStatus `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	MatchedBy      string       `json:"matchedBy,omitempty"`
	SettlementRef  string       `json:"settlementRef,omitempty"`
}

// IsExpired reports whether the intent is past its expiry at now.
// An intent is no longer valid at the expiry instant itself.
func (i Intent) IsExpired(now time.Time) bool {
	return !now.Before(i.Expiry)
}

// NewIntentID returns a fresh, time ordered intent identifier
func NewIntentID() string {
	return IntentIDPrefix + uuid.Must(uuid.NewV7()).String()
}

// CreateIntent carries the caller supplied fields of a new intent
type CreateIntent struct {
	FromToken      string    `json:"fromToken"`
	FromAmount     string    `json:"fromAmount"`
	ToToken        string    `json:"toToken"`
	ToAmount       string    `json:"toAmount"`
	Expiry         time.Time `json:"expiry"`
	CreatorAddress string    `json:"creatorAddress"`
}

// IntentUpdate is a partial update. Nil fields are left untouched.
type IntentUpdate struct {
	Status        *IntentStatus
	FromAmount    *string
	ToAmount      *string
	Expiry        *time.Time
	MatchedBy     *string
	SettlementRef *string
}

// Apply merges the set fields of u into intent
func (u IntentUpdate) Apply(intent *Intent) {
	if u.Status != nil {
		intent.Status = *u.Status
	}
	if u.FromAmount != nil {
		intent.FromAmount = *u.FromAmount
	}
	if u.ToAmount != nil {
		intent.ToAmount = *u.ToAmount
	}
	if u.Expiry != nil {
		intent.Expiry = *u.Expiry
	}
	if u.MatchedBy != nil {
		intent.MatchedBy = *u.MatchedBy
	}
	if u.SettlementRef != nil {
		intent.SettlementRef = *u.SettlementRef
	}
}

// IsEmpty reports whether u sets no field
func (u IntentUpdate) IsEmpty() bool {
	return u.Status == nil && u.FromAmount == nil && u.ToAmount == nil &&
		u.Expiry == nil && u.MatchedBy == nil && u.SettlementRef == nil
}

// StatusUpdate is shorthand for an update that only changes the status
func StatusUpdate(status IntentStatus) IntentUpdate {
	return IntentUpdate{Status: &status}
}

// IntentFilter selects intents by conjunction of its non-empty fields
type IntentFilter struct {
	Status         IntentStatus `json:"status,omitempty"`
	FromToken      string       `json:"fromToken,omitempty"`
	ToToken        string       `json:"toToken,omitempty"`
	CreatorAddress string       `json:"creatorAddress,omitempty"`
}

// Matches reports whether intent satisfies every set field of f
func (f IntentFilter) Matches(intent Intent) bool {
	if f.Status != "" && intent.Status != f.Status {
		return false
	}
	if f.FromToken != "" && intent.FromToken != f.FromToken {
		return false
	}
	if f.ToToken != "" && intent.ToToken != f.ToToken {
		return false
	}
	if f.CreatorAddress != "" && intent.CreatorAddress != f.CreatorAddress {
		return false
	}
	return true
}
