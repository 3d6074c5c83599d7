// Package common defines shared constants, sentinel errors and small helpers
// used across cloudkeeper packages. Callers should use errors.Is to match the
// sentinel values; services wrap them with a human readable message, e.g.
//
//	fmt.Errorf("%w: invalid file type", common.ErrorBadRequest)
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	// Access errors.
	ErrorUnauthorized        = errors.New("unauthorized")
	ErrorForbidden           = errors.New("forbidden")
	ErrPasscodeNotConfigured = errors.New("passcode not configured")

	// Validation errors.
	ErrorBadRequest = errors.New("bad request")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrResetTokenExpired   = errors.New("reset token expired or invalid")
)
