package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when no invite matches the presented token.
	ErrNotFound = errors.New("invite not found")

	// ErrUsed is returned when the invite's single use is already spent.
	ErrUsed = errors.New("invite already used")

	// ErrExpired is returned when the invite's expiry has passed.
	ErrExpired = errors.New("invite expired")
)
