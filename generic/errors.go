/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Precondition failures - a rate card the caller needs does not resolve
  2. Invariant violations - programmer errors that must fail loudly
  3. Validation errors - malformed input (clock strings, periods, windows)
  4. Store errors - conflicts reported by persistence

USAGE:
  if errors.Is(err, generic.ErrRateCardNotFound) {
      // abort the pricing flow, persist nothing
  }

SEE ALSO:
  - rates/resolver.go: Raises unmapped shift type violations
  - pricing/engine.go: Raises missing rate preconditions
  - store/sqlite/sqlite.go: Raises version overlap conflicts
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRateCardNotFound means no rate card version is effective for a key
	// on the requested date. Pricing must abort; it is never a zero rate.
	ErrRateCardNotFound = errors.New("rate card not found")

	// ErrUnmappedShiftType means a shift type has no rate label mapping.
	// This is an invariant violation, not a user error.
	ErrUnmappedShiftType = errors.New("unmapped shift type")

	// ErrInvalidClockTime is returned for malformed "HH:MM" strings.
	ErrInvalidClockTime = errors.New("invalid clock time")

	// ErrInvalidDate is returned for malformed calendar dates.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidPeriod is returned when an effective period is malformed.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidRateCard is returned when a rate card fails validation.
	ErrInvalidRateCard = errors.New("invalid rate card")

	// ErrInvalidValue is returned for out-of-range scalar input.
	ErrInvalidValue = errors.New("invalid value")

	// ErrOverlappingWindows is returned when two time-based rate windows
	// cover the same minute on a shared applicable day.
	ErrOverlappingWindows = errors.New("overlapping rate windows")

	// ErrOverlappingVersions is returned when a rate card version would
	// share a day with another version of the same key.
	ErrOverlappingVersions = errors.New("overlapping rate card versions")

	// ErrVersionClosed is returned when closing a version that already
	// has an effective_to.
	ErrVersionClosed = errors.New("rate card version already closed")

	// ErrDuplicateID is returned when a record ID already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrCurrencyMismatch is returned when the paying and billing side of
	// one price are in different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInconsistentRecord is returned when a priced record breaks
	// clientBill - subCost == margin.
	ErrInconsistentRecord = errors.New("inconsistent pricing record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidValueError names the offending field and value.
type InvalidValueError struct {
	Field string
	Value string
	Err   error // more specific sentinel, defaults to ErrInvalidValue
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: %q: %v", e.Field, e.Value, e.Unwrap())
}

func (e *InvalidValueError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidValue
}

// UnmappedShiftTypeError carries the shift type that has no label.
type UnmappedShiftTypeError struct {
	ShiftType string
}

func (e *UnmappedShiftTypeError) Error() string {
	return fmt.Sprintf("unmapped shift type %q: every shift type must map to a rate label", e.ShiftType)
}

func (e *UnmappedShiftTypeError) Unwrap() error {
	return ErrUnmappedShiftType
}

// WindowOverlapError describes two rate windows that overlap.
type WindowOverlapError struct {
	First  string
	Second string
	Days   []string // shared days; empty means every day
}

func (e *WindowOverlapError) Error() string {
	if len(e.Days) == 0 {
		return fmt.Sprintf("rate windows %s and %s overlap", e.First, e.Second)
	}
	return fmt.Sprintf("rate windows %s and %s overlap on %v", e.First, e.Second, e.Days)
}

func (e *WindowOverlapError) Unwrap() error {
	return ErrOverlappingWindows
}

// VersionOverlapError names the existing version that conflicts.
type VersionOverlapError struct {
	Existing RateCardID
	Period   EffectivePeriod
}

func (e *VersionOverlapError) Error() string {
	return fmt.Sprintf("rate card version overlaps %s %s", e.Existing, e.Period)
}

func (e *VersionOverlapError) Unwrap() error {
	return ErrOverlappingVersions
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidClockTime) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidRateCard) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrOverlappingWindows)
}

// IsConflict returns true if the error is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOverlappingVersions) ||
		errors.Is(err, ErrVersionClosed) ||
		errors.Is(err, ErrDuplicateID)
}

// IsNotFound returns true if the error indicates a missing rate card.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRateCardNotFound)
}

// IsInvariantViolation returns true for programmer errors.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrUnmappedShiftType) ||
		errors.Is(err, ErrInconsistentRecord)
}
