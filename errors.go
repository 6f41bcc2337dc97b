package genericbus

import "github.com/pkg/errors"

var (
	// ErrBusy is returned when an operation is attempted while an
	// event-driven transfer is still in flight.
	ErrBusy = errors.New("bus is busy executing an event-driven transfer")

	// ErrBothBuffersNil is returned by SetBuffers when neither a transmit
	// nor a receive buffer is supplied.
	ErrBothBuffersNil = errors.New("at least one of tx and rx must be non-nil")

	// ErrLengthMismatch is returned by SetBuffers when both buffers are
	// supplied but their lengths differ.
	ErrLengthMismatch = errors.New("tx and rx buffers must have equal length")

	// ErrInvalidSize is returned by SetBuffersFill for a negative size.
	ErrInvalidSize = errors.New("fill size must be non-negative")

	// ErrNilHandler is returned by XferAsync when no handler is supplied.
	ErrNilHandler = errors.New("event-driven transfer requires a handler")
)
