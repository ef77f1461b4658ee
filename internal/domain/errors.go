package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	ErrUnknownToken        = errors.New("unknown token")
	ErrInvalidConfig       = errors.New("invalid token oracle config")
	ErrSnapshotUnavailable = errors.New("reserve snapshot unavailable")
	ErrUnsupportedTopology = errors.New("unsupported pool topology")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrEmptyPool           = errors.New("pool has no reserves")
)
