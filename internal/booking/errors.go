package booking

import "errors"

var (
	// ErrNotFound covers both a missing appointment and one owned by another
	// user; callers cannot probe other users' bookings.
	ErrNotFound = errors.New("appointment not found")

	// ErrInvalidState means the appointment exists but its current status does
	// not allow the requested transition.
	ErrInvalidState = errors.New("appointment state does not allow this operation")

	// ErrNotConfirmable is the confirm-specific merge of not-found and
	// wrong-state. The ambiguity is deliberate: confirm reports only that
	// nothing was confirmed.
	ErrNotConfirmable = errors.New("appointment not confirmable")
)

// ValidationError rejects malformed input before any transaction opens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationErr(reason string) error {
	return &ValidationError{Reason: reason}
}
