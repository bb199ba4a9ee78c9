package domain

import "errors"

// Base errors of the taxonomy. Specific errors wrap one of these so callers
// can match either with errors.Is.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("domain conflict")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStorageCorrupt   = errors.New("storage corrupt")
)

var (
	ErrAppointmentNotFound = wrap("appointment not found", ErrNotFound)
	ErrNoteNotFound        = wrap("encounter note not found", ErrNotFound)
	ErrHelpRequestNotFound = wrap("help request not found", ErrNotFound)
	ErrWaitlistNotFound    = wrap("waitlist entry not found", ErrNotFound)
	ErrStatisticsNotFound  = wrap("note statistics not found", ErrNotFound)

	ErrSlotNotOpen         = wrap("slot is not open", ErrConflict)
	ErrDailyLimitReached   = wrap("member already has an appointment on this day", ErrConflict)
	ErrAlreadyOnWaitlist   = wrap("member already has an active waitlist entry for this provider", ErrConflict)
	ErrInvalidTransition   = wrap("invalid status transition", ErrConflict)
	ErrProviderMismatch    = wrap("target slot belongs to a different provider", ErrConflict)
	ErrResourceBusy        = wrap("resource is being modified, please retry", ErrConflict)
	ErrNotAppointmentOwner = wrap("appointment does not belong to the current user", ErrForbidden)
)

type codedError struct {
	msg  string
	base error
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Unwrap() error { return e.base }

func wrap(msg string, base error) error {
	return &codedError{msg: msg, base: base}
}

// Code identifies an error class in API responses.
type Code string

const (
	CodeNotAuthenticated Code = "not_authenticated"
	CodeForbidden        Code = "forbidden"
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeInvalidInput     Code = "invalid_argument"
	CodeStorageCorrupt   Code = "storage_corrupt"
	CodeInternal         Code = "internal_error"
)

// CodeOf maps an error onto the taxonomy.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAuthenticated):
		return CodeNotAuthenticated
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrStorageCorrupt):
		return CodeStorageCorrupt
	}
	return CodeInternal
}
