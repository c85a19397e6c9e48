package nats

import "errors"

// Domain-specific errors for NATS operations.
var (
	// ErrNotConnected is returned when the connection is closed or reconnecting.
	ErrNotConnected = errors.New("nats: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("nats: connection failed")

	// ErrPublishFailed is returned when a publish or its flush fails.
	ErrPublishFailed = errors.New("nats: publish failed")

	// ErrSubscribeFailed is returned when a subscription cannot be registered.
	ErrSubscribeFailed = errors.New("nats: subscribe failed")

	// ErrInvalidSubject is returned for empty subjects and for wildcards
	// in a published subject.
	ErrInvalidSubject = errors.New("nats: invalid subject")
)
