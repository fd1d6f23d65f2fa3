package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input that is not an amount problem.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidAmount indicates a negative, missing or non-numeric quantity, price or rate.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidTransition indicates a status change outside the adjacency graph.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateReminder indicates a reminder already exists for the invoice and level.
	ErrDuplicateReminder = errors.New("duplicate reminder")
	// ErrDuplicateCase indicates the invoice already has an active collection case.
	ErrDuplicateCase = errors.New("active collection case already exists")
	// ErrCaseAlreadyClosed indicates an update on a terminal collection case.
	ErrCaseAlreadyClosed = errors.New("collection case already closed")
	// ErrDuplicateNumber indicates the invoice number is already used by the tenant.
	ErrDuplicateNumber = errors.New("invoice number already used")
	// ErrLockedInvoiceMutation indicates an edit of an issued invoice.
	ErrLockedInvoiceMutation = errors.New("invoice is locked")
)

// TransitionError describes a rejected status change on a single entity.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Err    error
}

func (e *TransitionError) Error() string {
	from := e.From
	if from == "" {
		from = "?"
	}
	return fmt.Sprintf("%s %s: %s -> %s: %v", e.Entity, e.ID, from, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// NewTransitionError builds a TransitionError wrapping ErrInvalidTransition unless cause is set.
func NewTransitionError(entity, id, from, to string, cause error) error {
	if cause == nil {
		cause = ErrInvalidTransition
	}
	return &TransitionError{Entity: entity, ID: id, From: from, To: to, Err: cause}
}

// UserSafeMessage maps domain errors to messages that can be shown in the admin console.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "Eintrag nicht gefunden."
	case errors.Is(err, ErrInvalidAmount):
		return "Menge, Preis oder Steuersatz ist ungültig."
	case errors.Is(err, ErrLockedInvoiceMutation):
		return "Die Rechnung wurde bereits versendet und kann nicht mehr geändert werden."
	case errors.Is(err, ErrDuplicateReminder):
		return "Für diese Mahnstufe existiert bereits eine Mahnung."
	case errors.Is(err, ErrDuplicateNumber):
		return "Diese Rechnungsnummer ist bereits vergeben."
	case errors.Is(err, ErrDuplicateCase):
		return "Die Rechnung befindet sich bereits im Inkasso."
	case errors.Is(err, ErrCaseAlreadyClosed):
		return "Der Inkassofall ist bereits abgeschlossen."
	case errors.Is(err, ErrValidation):
		return "Bitte Pflichtfelder prüfen."
	case errors.Is(err, ErrInvalidTransition):
		return "Dieser Statuswechsel ist nicht erlaubt."
	default:
		return "Unerwarteter Fehler. Bitte später erneut versuchen."
	}
}
