package wager

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. All are recoverable and scoped to a
// single wager; callers match with errors.Is.
var (
	ErrNotFound               = errors.New("wager not found")
	ErrInvalidSide            = errors.New("side is not one of the wager's sides")
	ErrInvalidWinningSide     = errors.New("winning side is not one of the wager's sides")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidAmount          = errors.New("stake amount must be positive")
	ErrInvalidArgument        = errors.New("invalid argument")
)

// TransitionError wraps ErrInvalidStateTransition with from/to context.
func TransitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}
