// Package common defines shared sentinel errors used across client and
// server layers of drawbridge. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Storage-level errors, translated from driver-specific failures at the
	// store/manager boundary.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	// Validation errors (missing or malformed required field). Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// The storage engine cannot be reached. Triggers the client-side
	// fallback to local-only mode.
	ErrUnreachable = errors.New("storage unreachable")

	// Credentials rejected by a network engine.
	ErrAuthFailed = errors.New("authentication failed")

	// Generic/internal flow control.
	ErrInternal = errors.New("internal error")
)
