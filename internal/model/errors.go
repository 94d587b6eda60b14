package model

import "errors"

var (
	ErrAccountLimitExceeded    = errors.New("account limit exceeded")
	ErrDuplicateAccount        = errors.New("account already linked")
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrProfileResolutionFailed = errors.New("profile resolution failed")
	ErrNoRefreshToken          = errors.New("no refresh token available")
	ErrRefreshRejected         = errors.New("refresh rejected")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrFetchFailed             = errors.New("fetch failed")
	ErrSyncRejected            = errors.New("sync rejected")

	ErrNotFound          = errors.New("not found")
	ErrInvalidEvent      = errors.New("invalid event")
	ErrInvalidResolution = errors.New("invalid resolution")
)
