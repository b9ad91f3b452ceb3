// Package local is an in-process wallet for development and tests. Its
// settlement references are deterministic Keccak-256 digests of the transfer.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/wallet"
)

// Wallet holds one selectable account and records submitted transfers
type Wallet struct {
	mu          sync.Mutex
	address     string
	submitted   []models.TransferSpec
	failure     error
	subscribers wallet.Subscribers
}

var (
	_ wallet.Wallet   = (*Wallet)(nil)
	_ wallet.Notifier = (*Wallet)(nil)
)

// New creates a wallet connected to address. An empty address starts disconnected.
func New(address string) *Wallet {
	return &Wallet{address: strings.TrimSpace(address)}
}

// CurrentAddress returns the selected account
func (w *Wallet) CurrentAddress(_ context.Context) (string, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.address, w.address != "", nil
}

// SwitchAccount selects address and notifies subscribers
func (w *Wallet) SwitchAccount(address string) {
	w.mu.Lock()
	w.address = strings.TrimSpace(address)
	w.mu.Unlock()
	w.subscribers.Notify()
}

// Disconnect clears the selected account and notifies subscribers
func (w *Wallet) Disconnect() {
	w.SwitchAccount("")
}

// FailWith makes every following submission fail with err; nil restores success
func (w *Wallet) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failure = err
}

// SubmitSettlement records spec and returns its reference
func (w *Wallet) SubmitSettlement(ctx context.Context, spec models.TransferSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.address == "" {
		return "", wallet.ErrNotConnected
	}
	if spec.FromAddress != w.address {
		return "", fmt.Errorf("transfer sender %s is not the selected account %s", spec.FromAddress, w.address)
	}
	if w.failure != nil {
		return "", w.failure
	}

	w.submitted = append(w.submitted, spec)
	return Reference(spec, len(w.submitted)), nil
}

// Submitted returns the transfers accepted so far
func (w *Wallet) Submitted() []models.TransferSpec {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.TransferSpec, len(w.submitted))
	copy(out, w.submitted)
	return out
}

// SubscribeAccountChanges registers fn for account switches
func (w *Wallet) SubscribeAccountChanges(fn func()) func() {
	return w.subscribers.Subscribe(fn)
}

// Reference is the hex Keccak-256 digest of the seq-th submission of spec
func Reference(spec models.TransferSpec, seq int) string {
	payload := strings.Join([]string{spec.FromAddress, spec.ToAddress, spec.Token, spec.Amount, fmt.Sprint(seq)}, "|")
	return crypto.Keccak256Hash([]byte(payload)).Hex()
}
