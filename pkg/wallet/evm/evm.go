// Package evm settles intents with ERC20 transfers on an EVM chain.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/intentmesh/pkg/contracts"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
	"github.com/speedrun-hq/intentmesh/pkg/wallet"
)

// Backend is the chain access the wallet needs; *ethclient.Client satisfies it
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Wallet sends settlement transfers from the account of a private key.
// Submissions are serialized so each one gets the next pending nonce.
// Amounts are shifted by the decimals each token contract reports.
type Wallet struct {
	backend Backend
	auth    *bind.TransactOpts
	address common.Address
	tokens  map[string]common.Address
	logger  logger.Logger
	mu      sync.Mutex

	decimalsMu sync.Mutex
	decimals   map[string]int32
}

var (
	_ wallet.Wallet        = (*Wallet)(nil)
	_ wallet.BalanceReader = (*Wallet)(nil)
)

// Dial connects to rpcURL and creates a wallet for privateKeyHex
func Dial(ctx context.Context, rpcURL, privateKeyHex string, tokenAddresses map[string]string, l logger.Logger) (*Wallet, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	chainID, err := client.ChainID(timeoutCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	w, err := NewWallet(client, privateKeyHex, chainID, tokenAddresses, l)
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := w.LoadDecimals(timeoutCtx); err != nil {
		client.Close()
		return nil, err
	}
	return w, nil
}

// NewWallet creates a wallet on backend for the given chain
func NewWallet(backend Backend, privateKeyHex string, chainID *big.Int, tokenAddresses map[string]string, l logger.Logger) (*Wallet, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	resolved, err := ResolveTokens(tokenAddresses)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		backend:  backend,
		auth:     auth,
		address:  auth.From,
		tokens:   resolved,
		logger:   l,
		decimals: make(map[string]int32, len(resolved)),
	}, nil
}

// ParsePrivateKey parses a hex private key with or without 0x prefix
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// AddressFromKey returns the account address of a hex private key
func AddressFromKey(privateKeyHex string) (common.Address, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// ResolveTokens validates the contract address of every configured token
func ResolveTokens(addresses map[string]string) (map[string]common.Address, error) {
	resolved := make(map[string]common.Address, len(addresses))
	for symbol, hex := range addresses {
		symbol = tokens.Normalize(symbol)
		if !tokens.IsSupported(symbol) {
			return nil, fmt.Errorf("unsupported token %s", symbol)
		}
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("invalid contract address for %s: %q", symbol, hex)
		}
		resolved[symbol] = common.HexToAddress(hex)
	}
	return resolved, nil
}

// CurrentAddress returns the checksummed account address
func (w *Wallet) CurrentAddress(_ context.Context) (string, bool, error) {
	return w.address.Hex(), true, nil
}

// Transfer is a validated settlement ready to be sent
type Transfer struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

// LoadDecimals reads the decimals of every configured token contract
func (w *Wallet) LoadDecimals(ctx context.Context) error {
	for symbol := range w.tokens {
		if _, err := w.TokenDecimals(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}

// TokenDecimals returns the decimals reported by the contract of symbol.
// The first answer per token is cached.
func (w *Wallet) TokenDecimals(ctx context.Context, symbol string) (int32, error) {
	token, err := w.contract(symbol)
	if err != nil {
		return 0, err
	}

	w.decimalsMu.Lock()
	defer w.decimalsMu.Unlock()
	if decimals, ok := w.decimals[symbol]; ok {
		return decimals, nil
	}

	raw, err := token.Decimals(&bind.CallOpts{Context: ctx})
	if err != nil {
		return 0, fmt.Errorf("failed to read decimals of %s at %s: %w", symbol, token.Address().Hex(), err)
	}
	decimals := int32(raw)
	if registered, ok := tokens.Get(symbol); ok && registered.Decimals != decimals {
		w.logger.NoticeWithComponent(logger.Settlement, "Token %s at %s uses %d decimals, registry lists %d",
			symbol, token.Address().Hex(), decimals, registered.Decimals)
	}
	w.decimals[symbol] = decimals
	return decimals, nil
}

// Balance returns the wallet account's balance of symbol
func (w *Wallet) Balance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = tokens.Normalize(symbol)
	units, err := w.balanceUnits(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	decimals, err := w.TokenDecimals(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(units, -decimals), nil
}

func (w *Wallet) balanceUnits(ctx context.Context, symbol string) (*big.Int, error) {
	token, err := w.contract(symbol)
	if err != nil {
		return nil, err
	}
	units, err := token.BalanceOf(&bind.CallOpts{Context: ctx}, w.address)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s balance of %s: %w", symbol, w.address.Hex(), err)
	}
	return units, nil
}

func (w *Wallet) contract(symbol string) (*contracts.ERC20, error) {
	address, ok := w.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("no contract address configured for %s (set %s)", symbol, tokens.AddressEnvKey(symbol))
	}
	token, err := contracts.NewERC20(address, w.backend)
	if err != nil {
		return nil, fmt.Errorf("failed to bind ERC20 contract: %w", err)
	}
	return token, nil
}

// PrepareTransfer checks spec against the wallet and converts it to chain units
func (w *Wallet) PrepareTransfer(ctx context.Context, spec models.TransferSpec) (Transfer, error) {
	if !common.IsHexAddress(spec.FromAddress) || common.HexToAddress(spec.FromAddress) != w.address {
		return Transfer{}, fmt.Errorf("transfer sender %s is not the wallet account %s", spec.FromAddress, w.address.Hex())
	}
	if !common.IsHexAddress(spec.ToAddress) {
		return Transfer{}, fmt.Errorf("invalid recipient address %q", spec.ToAddress)
	}

	symbol := tokens.Normalize(spec.Token)
	tokenAddress, ok := w.tokens[symbol]
	if !ok {
		return Transfer{}, fmt.Errorf("no contract address configured for %s (set %s)", symbol, tokens.AddressEnvKey(symbol))
	}

	amount, err := models.ParseAmount(spec.Amount)
	if err != nil || !amount.IsPositive() {
		return Transfer{}, fmt.Errorf("invalid amount %q", spec.Amount)
	}
	decimals, err := w.TokenDecimals(ctx, symbol)
	if err != nil {
		return Transfer{}, err
	}
	units, err := tokens.ToUnits(amount, decimals)
	if err != nil {
		return Transfer{}, fmt.Errorf("%w of %s", err, symbol)
	}

	return Transfer{Token: tokenAddress, To: common.HexToAddress(spec.ToAddress), Amount: units}, nil
}

// SubmitSettlement sends the ERC20 transfer and waits for it to be mined.
// The reference is the transaction hash.
func (w *Wallet) SubmitSettlement(ctx context.Context, spec models.TransferSpec) (string, error) {
	transfer, err := w.PrepareTransfer(ctx, spec)
	if err != nil {
		return "", err
	}

	symbol := tokens.Normalize(spec.Token)
	balance, err := w.balanceUnits(ctx, symbol)
	if err != nil {
		return "", err
	}
	if balance.Cmp(transfer.Amount) < 0 {
		return "", fmt.Errorf("insufficient balance: %s holds %s units of %s, transfer needs %s",
			w.address.Hex(), balance.String(), symbol, transfer.Amount.String())
	}

	token, err := w.contract(symbol)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	txOpts := *w.auth
	txOpts.Context = ctx

	w.logger.InfoWithComponent(logger.Settlement, "Sending %s %s (%s units) to %s",
		spec.Amount, spec.Token, transfer.Amount.String(), transfer.To.Hex())

	tx, err := token.Transfer(&txOpts, transfer.To, transfer.Amount)
	if err != nil {
		return "", fmt.Errorf("failed to send transfer: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, w.backend, tx)
	if err != nil {
		return "", fmt.Errorf("failed to wait for transaction %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == 0 {
		return "", fmt.Errorf("execution reverted: transaction %s failed", tx.Hash().Hex())
	}

	w.logger.InfoWithComponent(logger.Settlement, "Transfer mined: %s (gas used: %d)", tx.Hash().Hex(), receipt.GasUsed)
	return tx.Hash().Hex(), nil
}
