package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
)

// ErrValidation is matched by every input validation failure
var ErrValidation = errors.New("validation failed")

// ValidationError reports a single invalid field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a validation error for field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// amountPattern accepts plain decimal notation only; exponents are rejected
var amountPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// maxAmountLength bounds the raw amount string
const maxAmountLength = 2*tokens.MaxAmountDigits + 2

// ParseAmount parses a decimal string amount such as "100" or "0.5"
func ParseAmount(amount string) (decimal.Decimal, error) {
	amount = strings.TrimSpace(amount)
	if len(amount) > maxAmountLength {
		return decimal.Zero, fmt.Errorf("amount is longer than %d characters", maxAmountLength)
	}
	if !amountPattern.MatchString(amount) {
		return decimal.Zero, fmt.Errorf("can't convert %q to decimal", amount)
	}
	return decimal.NewFromString(amount)
}

// Normalize trims whitespace and upper-cases the token symbols
func (c CreateIntent) Normalize() CreateIntent {
	c.FromToken = tokens.Normalize(c.FromToken)
	c.ToToken = tokens.Normalize(c.ToToken)
	c.FromAmount = strings.TrimSpace(c.FromAmount)
	c.ToAmount = strings.TrimSpace(c.ToAmount)
	c.CreatorAddress = strings.TrimSpace(c.CreatorAddress)
	return c
}

// Validate checks the fields of a new intent against now
func (c CreateIntent) Validate(now time.Time) error {
	if c.CreatorAddress == "" {
		return NewValidationError("creatorAddress", "is required")
	}
	if err := validateToken("fromToken", c.FromToken); err != nil {
		return err
	}
	if err := validateToken("toToken", c.ToToken); err != nil {
		return err
	}
	if c.FromToken == c.ToToken {
		return NewValidationError("toToken", "must differ from fromToken")
	}
	if err := validateAmount("fromAmount", c.FromToken, c.FromAmount); err != nil {
		return err
	}
	if err := validateAmount("toAmount", c.ToToken, c.ToAmount); err != nil {
		return err
	}
	if c.Expiry.IsZero() {
		return NewValidationError("expiry", "is required")
	}
	if !c.Expiry.After(now) {
		return NewValidationError("expiry", "must be in the future")
	}
	return nil
}

func validateToken(field, symbol string) error {
	if symbol == "" {
		return NewValidationError(field, "is required")
	}
	if !tokens.IsSupported(symbol) {
		return NewValidationError(field, "unsupported token %q", symbol)
	}
	return nil
}

func validateAmount(field, symbol, amount string) error {
	if amount == "" {
		return NewValidationError(field, "is required")
	}
	value, err := ParseAmount(amount)
	if err != nil {
		return NewValidationError(field, "%q is not a decimal number", amount)
	}
	if !value.IsPositive() {
		return NewValidationError(field, "must be greater than zero")
	}
	if _, err := tokens.ToBaseUnits(symbol, value); err != nil {
		return NewValidationError(field, "%v", err)
	}
	return nil
}
