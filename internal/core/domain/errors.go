package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound é devolvido para ids de projeto ou webhook desconhecidos.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable embrulha falhas de comunicação com o store compartilhado.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidRule marca uma regra malformada; a camada é ignorada.
	ErrInvalidRule = errors.New("invalid rule")

	ErrBatchTooLarge = errors.New("batch too large")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// ValidationError representa entrada inválida de um cliente.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError informa se err é ou embrulha um *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
