package errors

import "fmt"

// Protocol level failures. Each one is reported to the requester as a single ERR$ line.
var (
	ErrMalformedRequest = fmt.Errorf("malformed request")
	ErrNotRegistered    = fmt.Errorf("sender is not registered")
	ErrValidation       = fmt.Errorf("validation error")
	ErrNameConflict     = fmt.Errorf("name already in use")
	ErrNotFound         = fmt.Errorf("not found")
	ErrCapacityExceeded = fmt.Errorf("capacity exceeded")
	ErrUnauthorized     = fmt.Errorf("unauthorized")
	ErrUnknownCommand   = fmt.Errorf("unknown command")
)

// Registry and runtime failures, wrapped around the taxonomy above where it applies.
var (
	ErrRegistryFull = fmt.Errorf("registry full: %w", ErrCapacityExceeded)
	ErrMuteListFull = fmt.Errorf("mute list full: %w", ErrCapacityExceeded)
	ErrNotMuted     = fmt.Errorf("name not muted: %w", ErrNotFound)
	ErrSessionGone  = fmt.Errorf("session no longer registered: %w", ErrNotRegistered)
	ErrWorkerPanic  = fmt.Errorf("worker panic")
	ErrEmptyWords   = fmt.Errorf("no words have been found")
)

// ReplyError is a request failure together with the line sent back to the
// requester. Kind is one of the taxonomy sentinels above (or an error
// wrapping one), so callers classify it with errors.Is.
type ReplyError struct {
	Kind  error
	Reply string
}

func NewReplyError(kind error, reply string) *ReplyError {
	return &ReplyError{Kind: kind, Reply: reply}
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Reply)
}

func (e *ReplyError) Unwrap() error {
	return e.Kind
}
