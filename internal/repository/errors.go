// Package repository holds the MongoDB-backed stores for accounts and
// subscriptions. The sentinel errors below let the service layer tell
// "nothing matched" apart from real failures without importing the driver.
package repository

import "errors"

var (
	// ErrNotFound is returned when no document matches the lookup.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a write violates the unique username
	// or email index.
	ErrDuplicate = errors.New("duplicate key")

	// ErrStaleToken is returned by RotateRefreshToken when the stored
	// refresh token no longer equals the presented one.
	ErrStaleToken = errors.New("stale refresh token")
)
