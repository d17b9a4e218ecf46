package ib

import "errors"

// Errors surfaced by the transport core. Queue-full and allocation
// failures are recoverable resource-exhaustion conditions; hardware
// rejections are wrapped driver errors; ErrCanceled is the completion
// status delivered when a queue pair is destroyed with entries still
// outstanding.
var (
	// ErrQueueFull is returned when posting to a work queue whose fill
	// level has reached its capacity. The request never reaches the
	// driver.
	ErrQueueFull = errors.New("work queue full")

	// ErrTooShort is returned when a receive buffer's tailroom is
	// smaller than MaxPayloadSize. Receive buffers are pre-sized
	// uniformly.
	ErrTooShort = errors.New("receive buffer too small")

	// ErrCanceled is the completion status for work queue entries
	// force-completed during queue pair destruction.
	ErrCanceled = errors.New("work queue entry canceled")

	// ErrNotSupported is returned for optional driver operations the
	// backend does not implement. Adapters with embedded management
	// agents handle those in firmware instead.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNoManagement is returned by Open when no management provider
	// was attached to the device.
	ErrNoManagement = errors.New("no management provider")
)
