package credential

import "errors"

var (
	// ErrInvalid is returned when a credential fails signature or claim checks.
	ErrInvalid = errors.New("invalid credential")

	// ErrExpired is returned when a structurally valid credential is past expiry.
	ErrExpired = errors.New("credential expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid credential config")
)
