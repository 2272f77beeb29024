package utils

import (
	"errors"
	"fmt"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// ValidationError reports malformed input or orders that are not in the
// required status for an operation. OrderIds names the offending orders so
// the caller can show exactly what is blocking.
type ValidationError struct {
	Message  string
	OrderIds []int
}

func (e *ValidationError) Error() string {
	if len(e.OrderIds) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (orders: %s)", e.Message, joinInts(e.OrderIds))
}

func NewValidationError(message string, orderIds ...int) *ValidationError {
	return &ValidationError{Message: message, OrderIds: orderIds}
}

// ShortfallItem is one product the current stock cannot cover.
type ShortfallItem struct {
	ProductId int    `json:"product_id"`
	Name      string `json:"name"`
	Sku       string `json:"sku"`
	Needed    int    `json:"needed"`
	Available int    `json:"available"`
}

// StockInsufficientError carries the per-product shortfall found at session
// creation or finish-picking. A hard precondition failure, not a warning.
type StockInsufficientError struct {
	Items []ShortfallItem
}

func (e *StockInsufficientError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s (%s): needed %d, available %d", it.Name, it.Sku, it.Needed, it.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// IncompleteItem is one row still short of its required quantity.
// OrderId is zero for picking-phase rows (they aggregate across orders).
type IncompleteItem struct {
	OrderId   int `json:"order_id"`
	ProductId int `json:"product_id"`
	Done      int `json:"done"`
	Needed    int `json:"needed"`
}

// IncompleteError reports an attempt to advance a session phase before every
// required quantity matches.
type IncompleteError struct {
	Phase string
	Items []IncompleteItem
}

func (e *IncompleteError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		if it.OrderId > 0 {
			parts = append(parts, fmt.Sprintf("order %d product %d: %d/%d", it.OrderId, it.ProductId, it.Done, it.Needed))
		} else {
			parts = append(parts, fmt.Sprintf("product %d: %d/%d", it.ProductId, it.Done, it.Needed))
		}
	}
	return fmt.Sprintf("%s incomplete: %s", e.Phase, strings.Join(parts, "; "))
}

// ConflictError is a transient allocation conflict (shared pool exhausted or
// per-order cap hit by a concurrent operator). Callers may re-fetch and retry.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// StateError reports an operation against a session or order in the wrong
// phase, including attempts to modify a finalized order.
type StateError struct {
	Message string
}

func (e *StateError) Error() string { return e.Message }

func NewStateError(format string, args ...any) *StateError {
	return &StateError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing resource by name and id.
type NotFoundError struct {
	Resource string
	Id       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.Id)
}

func joinInts(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return strings.Join(parts, ", ")
}
