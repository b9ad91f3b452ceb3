// Package wallet defines the collaborator that supplies the acting address
// and submits settlement transfers, plus the connection state built on it.
package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/models"
)

// ErrNotConnected is returned when no account is available
var ErrNotConnected = errors.New("wallet not connected")

// Wallet supplies the acting address and submits settlement transfers
type Wallet interface {
	// CurrentAddress returns the selected account. ok is false when none is.
	CurrentAddress(ctx context.Context) (address string, ok bool, err error)

	// SubmitSettlement signs and submits spec, returning an external reference
	SubmitSettlement(ctx context.Context, spec models.TransferSpec) (string, error)
}

// BalanceReader reports token balances of the wallet account
type BalanceReader interface {
	Balance(ctx context.Context, token string) (decimal.Decimal, error)
}

// Notifier announces account changes. The returned function unsubscribes fn.
type Notifier interface {
	SubscribeAccountChanges(fn func()) (unsubscribe func())
}

// Subscribers is a set of account change callbacks
type Subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

// Subscribe adds fn and returns a function that removes it
func (s *Subscribers) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func())
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.fns, id)
		})
	}
}

// Notify calls every subscribed callback outside the lock
func (s *Subscribers) Notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of subscribers
func (s *Subscribers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// Connection tracks the current account of a wallet
type Connection struct {
	wallet    Wallet
	logger    logger.Logger
	mu        sync.RWMutex
	address   string
	connected bool
}

// NewConnection creates a disconnected connection over w
func NewConnection(w Wallet, l logger.Logger) *Connection {
	return &Connection{wallet: w, logger: l}
}

// CheckConnection asks the wallet for its current account and caches it
func (c *Connection) CheckConnection(ctx context.Context) (string, bool, error) {
	address, ok, err := c.wallet.CurrentAddress(ctx)
	if err != nil {
		c.set("", false)
		c.logger.ErrorWithComponent(logger.Settlement, "Failed to read wallet account: %v", err)
		return "", false, err
	}
	c.set(address, ok)
	return address, ok, nil
}

// Address returns the cached account
func (c *Connection) Address() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address, c.connected
}

// Watch re-checks the connection on every account change announced by n
func (c *Connection) Watch(n Notifier) (stop func()) {
	return n.SubscribeAccountChanges(func() {
		// failures are logged by CheckConnection
		_, _, _ = c.CheckConnection(context.Background())
	})
}

func (c *Connection) set(address string, connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address != address || c.connected != connected {
		c.logger.InfoWithComponent(logger.Settlement, "Wallet account changed: %q (connected: %v)", address, connected)
	}
	c.address = address
	c.connected = connected
}
