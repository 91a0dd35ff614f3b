package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidInput    = errors.New("invalid input")
	ErrDataUnavailable = errors.New("mandi data unavailable")
	ErrOfferBelowFloor = errors.New("offer below protected floor price")
	ErrNegotiationDone = errors.New("negotiation already closed")
	ErrLockHeld        = errors.New("lock already held")
)
