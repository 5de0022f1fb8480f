// Package common defines shared constants and sentinel errors used across
// the daemon and the terminal client. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Session errors.
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrWrongPassword      = errors.New("wrong password")

	// Validation errors.
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingScope     = errors.New("token is missing required scope")

	// Lifecycle errors.
	ErrInvalidTransition = errors.New("invalid auth state transition")
)
