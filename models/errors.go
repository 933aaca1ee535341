package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger failures for results and HTTP responses.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindNotFound          ErrorKind = "NOT_FOUND"
	ErrorKindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	ErrorKindStorage           ErrorKind = "STORAGE"
	ErrorKindValidation        ErrorKind = "VALIDATION"
	ErrorKindUnknown           ErrorKind = "UNKNOWN"
)

// NotFoundError means no batch, dose definition or vaccine exists for the key.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found (%s)", e.Entity, e.Key)
}

func NewNotFoundError(entity string, format string, args ...any) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprintf(format, args...)}
}

// InsufficientStockError carries the figures the UI shows for "not enough vials".
type InsufficientStockError struct {
	Available       int `json:"available"`
	Requested       int `json:"requested"`
	TotalVials      int `json:"total_vials"`
	AlreadyReserved int `json:"already_reserved"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d (total %d, reserved %d)",
		e.Available, e.Requested, e.TotalVials, e.AlreadyReserved)
}

// Shortage is how many vials are missing.
func (e *InsufficientStockError) Shortage() int {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

// StorageError wraps a failed or aborted data-store call.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error on %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError means a required argument is missing or out of range.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}

func ErrorKindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var (
		nf  *NotFoundError
		ise *InsufficientStockError
		se  *StorageError
		ve  *ValidationError
	)
	switch {
	case errors.As(err, &ve):
		return ErrorKindValidation
	case errors.As(err, &nf):
		return ErrorKindNotFound
	case errors.As(err, &ise):
		return ErrorKindInsufficientStock
	case errors.As(err, &se):
		return ErrorKindStorage
	default:
		return ErrorKindUnknown
	}
}
