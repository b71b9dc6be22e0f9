package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	domain "github.com/homefit-remodel/api/internal/domain"
)

var (
	// ErrInvalidInput marks request data that failed validation before any lookup ran.
	ErrInvalidInput = errors.New("estimate: invalid input")
	// ErrAllProcessesFailed is returned when no selected process could be priced.
	ErrAllProcessesFailed = errors.New("estimate: all processes failed")
	// ErrInsufficientHistory signals that a session has too little history to explain.
	ErrInsufficientHistory = errors.New("explain: insufficient answer history")
	// ErrReproducibilityMismatch signals that a recomputed output hash differs from the expected one.
	ErrReproducibilityMismatch = errors.New("estimate: reproducibility mismatch")
)

// InputValidationError lists invalid fields with a short reason each.
type InputValidationError struct {
	Fields map[string]string
}

func newInputValidationError() *InputValidationError {
	return &InputValidationError{Fields: make(map[string]string)}
}

func (e *InputValidationError) add(field, reason string) {
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = reason
}

func (e *InputValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface.
func (e *InputValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput.Error(), strings.Join(parts, "; "))
}

// Is reports whether target is ErrInvalidInput.
func (e *InputValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// PriceNotFoundError is returned when the price table has no valid row for an item and grade.
type PriceNotFoundError struct {
	ItemCode string
	Grade    domain.GradeTier
}

func (e *PriceNotFoundError) Error() string {
	return fmt.Sprintf("price lookup: no price for %s at %s", e.ItemCode, e.Grade)
}

// QuantityRuleNotFoundError is returned when an item has neither a model quantity nor a stored rule.
type QuantityRuleNotFoundError struct {
	ItemCode string
}

func (e *QuantityRuleNotFoundError) Error() string {
	return fmt.Sprintf("price lookup: no quantity rule for %s", e.ItemCode)
}

// LookupUnavailableError is returned when the price store could not be reached or timed out.
type LookupUnavailableError struct {
	ItemCode string
	Timeout  bool
	Err      error
}

func (e *LookupUnavailableError) Error() string {
	kind := "unavailable"
	if e.Timeout {
		kind = "timed out"
	}
	if e.Err == nil {
		return fmt.Sprintf("price lookup %s for %s", kind, e.ItemCode)
	}
	return fmt.Sprintf("price lookup %s for %s: %v", kind, e.ItemCode, e.Err)
}

func (e *LookupUnavailableError) Unwrap() error { return e.Err }

// EstimateFailure carries every process failure when no block could be priced.
type EstimateFailure struct {
	Failures []domain.ProcessFailure
}

func (e *EstimateFailure) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		ids = append(ids, string(failure.ProcessID))
	}
	return fmt.Sprintf("%s: %s", ErrAllProcessesFailed.Error(), strings.Join(ids, ", "))
}

// Is reports whether target is ErrAllProcessesFailed.
func (e *EstimateFailure) Is(target error) bool {
	return target == ErrAllProcessesFailed
}

// Unavailable reports whether every failure was caused by the price store being unreachable.
func (e *EstimateFailure) Unavailable() bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, failure := range e.Failures {
		if failure.Reason != domain.FailureLookupUnavailable && failure.Reason != domain.FailureLookupTimeout {
			return false
		}
	}
	return true
}

// ReproducibilityMismatchError describes a recomputation whose output hash differed from the expected value.
type ReproducibilityMismatchError struct {
	InputHash string
	Expected  string
	Actual    string
}

func (e *ReproducibilityMismatchError) Error() string {
	return fmt.Sprintf("%s: input %s expected %s got %s", ErrReproducibilityMismatch.Error(), e.InputHash, e.Expected, e.Actual)
}

// Is reports whether target is ErrReproducibilityMismatch.
func (e *ReproducibilityMismatchError) Is(target error) bool {
	return target == ErrReproducibilityMismatch
}
