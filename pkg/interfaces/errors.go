package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrNotInitialized = errors.New("store used before initialization")
	ErrStoreClosed    = errors.New("store is closed")

	// ErrUserNotConnected is returned by a Transport that has no route to the user
	ErrUserNotConnected = errors.New("user not connected")
)
