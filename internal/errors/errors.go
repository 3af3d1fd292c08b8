// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrDataUnavailable    = errors.New("price data unavailable")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidSizing      = errors.New("invalid position size")
	ErrNoOpenPosition     = errors.New("no open position")
	ErrPositionExists     = errors.New("position already open")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrCycleInProgress    = errors.New("trading cycle already in progress")
	ErrEnginePaused       = errors.New("trading engine is paused")
	ErrMarketClosed       = errors.New("market is closed")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrTimeout            = errors.New("operation timed out")
	ErrRateLimited        = errors.New("rate limited")
	ErrDataNotFound       = errors.New("data not found")
	ErrVaultLocked        = errors.New("token vault locked")
)

// BrokerError represents an error from the market data provider.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// DataError is returned when a price source cannot produce usable data for a symbol.
// It always unwraps to ErrDataUnavailable so callers can skip the symbol.
type DataError struct {
	Source  string
	Symbol  string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.Source, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.Source, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDataUnavailable, e.Err}
	}
	return []error{ErrDataUnavailable}
}

// NewDataError creates a new DataError.
func NewDataError(source, symbol, message string, err error) *DataError {
	return &DataError{
		Source:  source,
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}

// RiskError describes a signal rejected by a risk rule.
type RiskError struct {
	Rule    string
	Symbol  string
	Message string
	Err     error
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk rule [%s] %s: %s", e.Rule, e.Symbol, e.Message)
}

func (e *RiskError) Unwrap() error {
	return e.Err
}

// NewRiskError creates a new RiskError wrapping one of the sentinel errors.
func NewRiskError(rule, symbol, message string, err error) *RiskError {
	return &RiskError{
		Rule:    rule,
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}

// PersistenceError reports a failed durable write. When it comes from a trade
// append, the trade has been rolled back out of the in-memory ledger.
type PersistenceError struct {
	Operation string
	Symbol    string
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("persistence failure [%s] %s: %v", e.Operation, e.Symbol, e.Err)
	}
	return fmt.Sprintf("persistence failure [%s]: %v", e.Operation, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailure, e.Err}
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(operation, symbol string, err error) *PersistenceError {
	return &PersistenceError{
		Operation: operation,
		Symbol:    symbol,
		Err:       err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
