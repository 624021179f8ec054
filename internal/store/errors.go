package store

import "errors"

var (
	ErrPartyNotFound        = errors.New("party not found")
	ErrGroupNotFound        = errors.New("service group not found")
	ErrPointNotFound        = errors.New("service point not found")
	ErrPointUnavailable     = errors.New("service point unavailable")
	ErrTokenNotFound        = errors.New("token not found")
	ErrDuplicatePhone       = errors.New("phone already registered")
	ErrDuplicateTokenNumber = errors.New("token number already allocated")
	ErrInvalidState         = errors.New("invalid token state")
	ErrInvalidPriority      = errors.New("invalid priority")
	ErrCapacityExceeded     = errors.New("daily capacity exceeded")
	ErrEmptyQueue           = errors.New("no tokens waiting")
	ErrAlreadyServing       = errors.New("a token is already being served")
	ErrContention           = errors.New("token number allocation contention")
)
