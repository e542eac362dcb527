package cache

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrMismatchedParameterCount is matched by errors.Is when a statement's
	// placeholder count differs from its number of bindings.
	ErrMismatchedParameterCount = errors.New("cache: mismatched parameter count")

	// ErrInvalidResultType is returned when a cached value cannot be turned into
	// the result type requested by the caller.
	ErrInvalidResultType = errors.New("cache: invalid result type")

	// ErrInvalidTTL is returned for negative TTLs.
	ErrInvalidTTL = errors.New("cache: ttl must not be negative")

	// ErrUnencodableBinding is matched by errors.Is when a binding cannot be
	// turned into key material, such as a driver.Valuer returning an error.
	ErrUnencodableBinding = errors.New("cache: unencodable binding")
)

// MismatchedParameterCountError reports the counts that failed to line up
// while deriving a key.
type MismatchedParameterCountError struct {
	Placeholders int
	Bindings     int
}

// Error implements the error interface.
func (e *MismatchedParameterCountError) Error() string {
	return fmt.Sprintf("cache: statement has %d placeholders but %d bindings", e.Placeholders, e.Bindings)
}

// Is lets errors.Is match ErrMismatchedParameterCount.
func (e *MismatchedParameterCountError) Is(target error) bool {
	return target == ErrMismatchedParameterCount
}

// UnencodableBindingError reports a binding that could not be turned into key
// material. Cause is the underlying failure.
type UnencodableBindingError struct {
	Type  string
	Cause error
}

// Error implements the error interface.
func (e *UnencodableBindingError) Error() string {
	return fmt.Sprintf("cache: binding of type %s: %v", e.Type, e.Cause)
}

// Unwrap returns the underlying failure.
func (e *UnencodableBindingError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match ErrUnencodableBinding.
func (e *UnencodableBindingError) Is(target error) bool {
	return target == ErrUnencodableBinding
}
