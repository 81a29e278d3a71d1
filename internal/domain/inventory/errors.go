package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound             = errors.New("inventory: stock item not found")
	ErrValidation           = errors.New("inventory: validation failed")
	ErrCycleDetected        = errors.New("inventory: recipe cycle detected")
	ErrMaxDepthExceeded     = errors.New("inventory: recipe nesting exceeds max depth")
	ErrDataIntegrity        = errors.New("inventory: data integrity error")
	ErrTenantScopeViolation = errors.New("inventory: tenant scope violation")
	ErrTransientStorage     = errors.New("inventory: transient storage error")
	ErrConflict             = errors.New("inventory: concurrent update conflict")
)

// ValidationError describes malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("inventory: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// CycleError carries the component path that closed a loop in the recipe graph.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "inventory: recipe cycle detected: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// DataIntegrityError aborts a whole order because the recipe catalog is structurally broken.
type DataIntegrityError struct {
	OrderID string
	Err     error
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("inventory: data integrity error for order %s: %v", e.OrderID, e.Err)
}

func (e *DataIntegrityError) Unwrap() []error { return []error{ErrDataIntegrity, e.Err} }

// ResolutionWarning records a reference that could not be resolved. It never fails an order.
type ResolutionWarning struct {
	ComponentID string          `json:"component_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Context     string          `json:"context"`
}

func (w ResolutionWarning) String() string {
	return fmt.Sprintf("%s (%s): %s", w.ComponentID, w.Quantity.String(), w.Context)
}

// IsRetryable reports whether err is worth another attempt of the apply step.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransientStorage)
}
