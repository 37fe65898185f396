package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks. The typed errors below match them.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("license not found")
	ErrState            = errors.New("license not usable")
	ErrStoreUnavailable = errors.New("license store unavailable")
	ErrMalformedDate    = errors.New("malformed date")
	ErrConflict         = errors.New("license record changed concurrently")
)

// ValidationError reports bad or missing caller input.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or empty %s", e.Field)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an unknown license key or machine identifier.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("license not found: %s", e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StateError is a business rejection: the record exists but may not be used.
type StateError struct {
	Reason Reason
	Status Status
}

func (e *StateError) Error() string {
	if e.Reason == ReasonNotActive {
		return fmt.Sprintf("license not active (%s)", e.Status)
	}
	return e.Reason.Message()
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// StoreUnavailableError wraps a transport, timeout or backend failure.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as a StoreUnavailableError unless it already carries
// a classification (not found, conflict, unavailable).
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}

// MalformedDateError reports a stored date that cannot be parsed.
type MalformedDateError struct {
	Value string
	Err   error
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed date %q: %v", e.Value, e.Err)
}

func (e *MalformedDateError) Is(target error) bool { return target == ErrMalformedDate }

func (e *MalformedDateError) Unwrap() error { return e.Err }
