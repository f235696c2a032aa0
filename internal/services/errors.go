// Package services defines the business logic for engagement streaks and the
// chat turn pipeline. This file centralizes service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPrompt is returned when a chat message is blank.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a chat message exceeds the configured rune limit.
	ErrTooLong = errors.New("prompt too long")

	// ErrInvalidRole is returned when a message role is neither user nor assistant.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrTurnInFlight is returned when a user starts a chat turn while a
	// previous one is still sending or awaiting its reply.
	ErrTurnInFlight = errors.New("a chat turn is already in progress")

	// ErrStreakConflict is returned when a compare-and-swap streak write lost
	// the race twice in a row.
	ErrStreakConflict = errors.New("streak changed concurrently")

	// ErrCompletion marks a failed completion call. It is carried in
	// TurnResult.Cause; the turn itself still succeeds with a fallback reply.
	ErrCompletion = errors.New("completion failed")
)

// StoreError wraps any persistence failure other than "not found".
// The operation it interrupted did not take effect.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is or wraps a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
