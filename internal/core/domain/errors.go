package domain

import (
	"errors"
	"fmt"
)

// Error kinds returned by the MLO manager. Callers match them with errors.Is.
var (
	ErrProtocol            = errors.New("protocol error")
	ErrNullInput           = errors.New("null or missing input")
	ErrOutOfCapacity       = errors.New("out of capacity")
	ErrOutOfSpace          = errors.New("out of space")
	ErrExhausted           = errors.New("pool exhausted")
	ErrInvalidState        = errors.New("invalid state")
	ErrDuplicateMldAddress = errors.New("duplicate MLD address")
	ErrNotSupported        = errors.New("not supported")
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrOutOfRange          = errors.New("out of range")
	ErrAssertionFailed     = errors.New("assertion failed")
	ErrAIDBitmapDrift      = errors.New("AID bitmap drift between aggregate and per-link maps")
	ErrTimeout             = errors.New("timed out")
	ErrIncompatibleConfig  = errors.New("incompatible link configuration")
	ErrRefUnavailable      = errors.New("object reference unavailable")
	ErrInvalidMAC          = errors.New("invalid MAC address")
)

// SpaceError reports a destination buffer that cannot hold the next write.
type SpaceError struct {
	What      string
	Required  int
	Available int
}

func (e *SpaceError) Error() string {
	return fmt.Sprintf("out of space adding %s: need %d octets, %d available", e.What, e.Required, e.Available)
}

// Unwrap lets errors.Is(err, ErrOutOfSpace) match.
func (e *SpaceError) Unwrap() error {
	return ErrOutOfSpace
}

// Protocolf wraps ErrProtocol with a formatted detail.
func Protocolf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
