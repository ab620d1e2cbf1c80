package types

import "errors"

var (
	// ErrInvalidHour is returned when an hour falls outside [0,23].
	ErrInvalidHour = errors.New("hour out of range")

	// ErrInvalidPrice is returned when a price is not a finite number.
	ErrInvalidPrice = errors.New("price is not a finite number")

	// ErrInvalidPriceData is returned when a price set is malformed or
	// incomplete. Callers must not use partial output.
	ErrInvalidPriceData = errors.New("invalid price data")

	// ErrLockContention is returned when a refresh could not acquire the
	// per-device recompute lock. The attempt is aborted, not queued; the next
	// scheduled tick retries.
	ErrLockContention = errors.New("recompute already in progress")

	// ErrDeviceNotFound is returned by storage when a device does not exist.
	ErrDeviceNotFound = errors.New("device not found")
)
