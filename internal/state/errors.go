package state

import "errors"

var (
	// ErrOutOfRange is returned for tap numbers outside [1, capacity].
	ErrOutOfRange = errors.New("tap number out of range")

	// ErrInvalidLevel is returned for levels outside the known enum.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrLowDisabled is returned when "low" is used while the low_enable
	// flag is off.
	ErrLowDisabled = errors.New("low level is not enabled")

	// ErrTableSize is returned when a bulk replace is not exactly
	// capacity-sized.
	ErrTableSize = errors.New("table must cover every tap exactly once")
)
