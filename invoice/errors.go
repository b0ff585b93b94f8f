package invoice

import (
	"errors"
	"fmt"
)

// Sentinel errors for invoice lifecycle guard violations. Callers can
// test them with errors.Is; every one of them is raised before any
// mutation takes place.
var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("invoice: not found")

	// ErrInstrumentNotFound indicates the referenced payment instrument
	// does not belong to this invoice.
	ErrInstrumentNotFound = errors.New("invoice: payment instrument not found")

	// ErrAlreadyPaid indicates a payment was attempted on an invoice
	// that is already paid.
	ErrAlreadyPaid = errors.New("invoice: already paid")

	// ErrAlreadyCanceled indicates a cancellation was attempted on an
	// invoice or instrument that is already canceled.
	ErrAlreadyCanceled = errors.New("invoice: already canceled")

	// ErrLiveInstrument indicates a new instrument cannot be issued
	// while another instrument is still live.
	ErrLiveInstrument = errors.New("invoice: a live payment instrument already exists")

	// ErrNotOverdue indicates a duplicate was requested for an invoice
	// that is not overdue.
	ErrNotOverdue = errors.New("invoice: not overdue")

	// ErrUpdatePaid indicates an update was attempted on a paid invoice.
	ErrUpdatePaid = errors.New("invoice: cannot update a paid invoice")

	// ErrPlanChange indicates line items would change the invoice's
	// billing plan, which is immutable once set.
	ErrPlanChange = errors.New("invoice: cannot change the billing plan of an invoice")
)

// ValidationError represents a business-rule violation detected before
// any mutation. Field names the offending input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invoice: validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
