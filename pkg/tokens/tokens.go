// Package tokens holds the registry of tradable token symbols.
package tokens

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Token describes a supported asset
type Token struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int32  `json:"decimals"`
}

// SymbolList contains the supported token symbols in display order
var SymbolList = []string{
	"NAM",
	"ATOM",
	"OSMO",
	"USDC",
}

// supportedTokens maps symbols to their metadata
var supportedTokens = map[string]Token{
	"NAM":  {Symbol: "NAM", Name: "Namada", Decimals: 6},
	"ATOM": {Symbol: "ATOM", Name: "Cosmos Hub", Decimals: 6},
	"OSMO": {Symbol: "OSMO", Name: "Osmosis", Decimals: 6},
	"USDC": {Symbol: "USDC", Name: "USD Coin", Decimals: 6},
}

// IsSupported reports whether symbol is a tradable token
func IsSupported(symbol string) bool {
	_, exists := supportedTokens[symbol]
	return exists
}

// Get returns the token for a given symbol
func Get(symbol string) (Token, bool) {
	token, exists := supportedTokens[symbol]
	return token, exists
}

// All returns every supported token in display order
func All() []Token {
	all := make([]Token, 0, len(SymbolList))
	for _, symbol := range SymbolList {
		all = append(all, supportedTokens[symbol])
	}
	return all
}

// Normalize upper-cases and trims a user supplied symbol
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// AddressEnvKey returns the environment variable naming the contract address of symbol
func AddressEnvKey(symbol string) string {
	return symbol + "_TOKEN_ADDRESS"
}

// MaxAmountDigits bounds the integer and fractional digits of an amount
const MaxAmountDigits = 40

// ToBaseUnits converts a human amount of symbol into its integer base units.
// It fails when the amount carries more precision than the token supports.
func ToBaseUnits(symbol string, amount decimal.Decimal) (*big.Int, error) {
	token, exists := supportedTokens[symbol]
	if !exists {
		return nil, fmt.Errorf("unsupported token: %s", symbol)
	}
	units, err := ToUnits(amount, token.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w of %s", err, symbol)
	}
	return units, nil
}

// ToUnits shifts amount by decimals into an integer. The magnitude of amount
// is checked before shifting, so oversized exponents fail fast.
func ToUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	exp := amount.Exponent()
	if exp < -MaxAmountDigits || exp > MaxAmountDigits || amount.NumDigits()+int(exp) > MaxAmountDigits {
		return nil, fmt.Errorf("amount exponent %d is out of range", exp)
	}
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s exceeds %d decimals", amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits converts integer base units of symbol back into a human amount
func FromBaseUnits(symbol string, units *big.Int) (decimal.Decimal, error) {
	token, exists := supportedTokens[symbol]
	if !exists {
		return decimal.Zero, fmt.Errorf("unsupported token: %s", symbol)
	}
	return decimal.NewFromBigInt(units, -token.Decimals), nil
}

// SortedSymbols returns the supported symbols in lexical order
func SortedSymbols() []string {
	symbols := make([]string, len(SymbolList))
	copy(symbols, SymbolList)
	sort.Strings(symbols)
	return symbols
}
