// Package sentinel holds infrastructure facts returned by stores. Services
// translate them into domain errors; validation failures never use these.
package sentinel

import "errors"

var (
	// ErrAlreadyUsed: a terminal record already exists for the key, such as a
	// second action on the same suggestion.
	ErrAlreadyUsed = errors.New("already used")
	// ErrUnavailable: the backing store is down or its breaker is open.
	ErrUnavailable = errors.New("unavailable")
)
