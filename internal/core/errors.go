package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPeriod      = errors.New("invalid period")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrLimitReached       = errors.New("highlight limit reached")
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrFeatureUnavailable = errors.New("feature unavailable")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// GenericErrorMessage is shown for failures that have no dedicated message.
const GenericErrorMessage = "Si è verificato un errore imprevisto. Riprova più tardi."

// StoreError wraps a failure from the underlying store with the operation
// that was being attempted.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStore returns nil for a nil err. Taxonomy errors that already carry a
// meaning (limit, not found, validation) pass through unchanged.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsStoreFailure(err),
		errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrInvalidPeriod):
		return err
	case errors.Is(err, ErrLimitReached),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrFeatureUnavailable):
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreFailure reports whether err is a wrapped store failure.
func IsStoreFailure(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// ValidationError is an ErrValidation carrying a reason that can be shown
// to the user as is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validationf builds a ValidationError with a display-safe reason.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// UserMessage maps err to a message that is safe to show to the user.
func UserMessage(err error) string {
	var (
		se *StoreError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPeriod):
		return "Periodo non valido: usa il formato AAAA-MM."
	case errors.Is(err, ErrNotAuthenticated):
		return "Accesso richiesto."
	case errors.Is(err, ErrLimitReached):
		return "Puoi evidenziare al massimo 2 budget. Rimuovine uno per aggiungerne un altro."
	case errors.As(err, &ve):
		return "Dati non validi: " + ve.Reason + "."
	case errors.Is(err, ErrInvalidAmount):
		return "Importo non valido."
	case errors.Is(err, ErrValidation):
		return "Dati non validi."
	case errors.Is(err, ErrNotFound):
		return "Elemento non trovato."
	case errors.Is(err, ErrFeatureUnavailable):
		return "Funzione non disponibile."
	case errors.As(err, &se):
		return "Impossibile completare l'operazione: " + se.Op + "."
	default:
		return GenericErrorMessage
	}
}
