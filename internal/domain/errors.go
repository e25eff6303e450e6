package domain

import "errors"

// Sentinel errors for the client.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyContent     = errors.New("message has no content")
	ErrNotConnected     = errors.New("transport not connected")
	ErrDeliveryRejected = errors.New("delivery rejected by server")
	ErrAckTimeout       = errors.New("delivery acknowledgement timed out")
	ErrClosed           = errors.New("closed")
)
