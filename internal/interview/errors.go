package interview

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound is returned when no session record exists for an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminal is returned when a session has already reached a
	// terminal state and cannot be connected to or resumed.
	ErrSessionTerminal = errors.New("session terminal")

	// ErrViolationBudget is returned when repeated protocol violations
	// exceed the per-session budget and the session is forced to ERROR.
	ErrViolationBudget = errors.New("protocol violation budget exceeded")

	// ErrInternal wraps fatal collaborator failures.
	ErrInternal = errors.New("internal failure")
)
