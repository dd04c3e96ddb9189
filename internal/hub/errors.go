package hub

import (
	"errors"
)

// Sentinel errors for the delivery taxonomy. Callers distinguish them
// with errors.Is.
var (
	// ErrConnClosed means the operation was attempted on a dead
	// connection; the caller must reconnect, the hub does not retry.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendTimeout means the outbound queue stayed full for the send
	// timeout; signals backpressure, not peer failure.
	ErrSendTimeout = errors.New("send timeout")

	// ErrUserNotFound means the user has no live connections
	ErrUserNotFound = errors.New("user not found")

	// ErrConnNotFound means no live connection has that id
	ErrConnNotFound = errors.New("connection not found")

	// ErrDeviceNotFound means no live connection has that device id
	ErrDeviceNotFound = errors.New("device not found")
)
