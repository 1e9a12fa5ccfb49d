package model

import "errors"

// Error classes shared by all services. Callers wrap them with context and
// match with errors.Is.
var (
	// ErrTransport covers connect, publish and subscribe failures.
	ErrTransport = errors.New("transport error")
	// ErrMalformedMessage marks a payload that cannot be decoded; it is dropped.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrSensorRead is returned when a hardware sensor does not answer.
	ErrSensorRead = errors.New("sensor read error")
	// ErrConfig marks invalid startup configuration.
	ErrConfig = errors.New("invalid configuration")
)
