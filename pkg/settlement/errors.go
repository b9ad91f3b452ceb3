package settlement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/speedrun-hq/intentmesh/pkg/circuitbreaker"
	"github.com/speedrun-hq/intentmesh/pkg/wallet"
)

// ErrSettlementFault is matched by every failed settlement submission
var ErrSettlementFault = errors.New("settlement failed")

// Error kinds reported by ClassifyError
const (
	KindAlreadyProcessed    = "already_processed"
	KindNetwork             = "network_error"
	KindNodeState           = "node_state_error"
	KindGas                 = "gas_error"
	KindNonce               = "nonce_error"
	KindInsufficientBalance = "insufficient_balance"
	KindContract            = "contract_error"
	KindRejected            = "rejected"
	KindCircuitOpen         = "circuit_open"
	KindNotConnected        = "not_connected"
	KindUnknown             = "unknown_error"
)

// FaultError reports a transfer that could not be submitted. The intent it
// belongs to stays matched.
type FaultError struct {
	IntentID  string
	Kind      string
	Retryable bool
	Err       error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("settlement of %s failed (%s): %v", e.IntentID, e.Kind, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// Is matches ErrSettlementFault
func (e *FaultError) Is(target error) bool {
	return target == ErrSettlementFault
}

// ClassifyError determines the kind of a submission failure and whether
// submitting again may succeed.
func ClassifyError(err error) (retryable bool, kind string) {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return true, KindCircuitOpen
	}
	if errors.Is(err, wallet.ErrNotConnected) {
		return false, KindNotConnected
	}

	errStr := err.Error()

	if strings.Contains(errStr, "already known") ||
		strings.Contains(errStr, "already settled") ||
		strings.Contains(errStr, "already fulfilled") {
		return false, KindAlreadyProcessed
	}

	// Network/RPC errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "network error") ||
		strings.Contains(errStr, "EOF") {
		return true, KindNetwork
	}

	if strings.Contains(errStr, "missing trie node") ||
		strings.Contains(errStr, "receipt not found") ||
		strings.Contains(errStr, "block not found") {
		return true, KindNodeState
	}

	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "gas price too low") {
		return true, KindGas
	}

	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return true, KindNonce
	}

	// Balance-related errors are permanent
	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") ||
		strings.Contains(errStr, "transfer amount exceeds balance") {
		return false, KindInsufficientBalance
	}

	if strings.Contains(errStr, "execution reverted") ||
		strings.Contains(errStr, "invalid opcode") ||
		strings.Contains(errStr, "out of gas") {
		return false, KindContract
	}

	if strings.Contains(errStr, "rejected") ||
		strings.Contains(errStr, "denied") ||
		strings.Contains(errStr, "invalid recipient") ||
		strings.Contains(errStr, "not the wallet account") ||
		strings.Contains(errStr, "not the selected account") {
		return false, KindRejected
	}

	return false, KindUnknown
}
