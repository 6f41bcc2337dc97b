package genericbus

import "context"

// A Transport is a platform-level bus driver (I2C, SPI, etc.) consumed by the
// coordinator. Implementations own register programming, DMA setup and
// interrupt wiring; the coordinator owns locking and completion delivery.
//
// Buffer setters and DoTransfer are only ever called while the coordinator is
// locked, so implementations do not need their own caller serialization. The
// registered event handler may be invoked from any goroutine, including one
// standing in for an interrupt context; every started transfer must
// eventually deliver exactly one EventTransferDone through it.
type Transport interface {
	// Init performs one-time initialization of the underlying bus.
	Init() error

	// SetEventHandler registers fn to receive bus events. A nil fn
	// unregisters the current handler.
	SetEventHandler(fn func(Event))

	// DoTransfer starts a transfer using the currently bound buffers. A nil
	// return means the transfer was started (or already finished, for
	// synchronous transports) and EventTransferDone will be (or was)
	// delivered. A non-nil return means the transfer never started and no
	// events will follow. The context covers issuance only.
	DoTransfer(ctx context.Context) error

	// SetTx binds the transmit buffer. A nil slice means no transmit side.
	SetTx(tx []byte)

	// SetRx binds the receive buffer. A nil slice means no receive side.
	SetRx(rx []byte)

	// SetTxFill binds a transmit stream of size repetitions of fill, with no
	// caller-supplied buffer. Received data, if any, is discarded.
	SetTxFill(size int, fill byte)

	// ResetBuffers discards all buffer bindings.
	ResetBuffers()
}
