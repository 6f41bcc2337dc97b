// Package genericbus coordinates shared access to a platform bus transport.
//
// The coordinator wraps a Transport (I2C, SPI, etc.) and presents a single
// safe interface for exclusive access, buffer setup, and blocking or
// event-driven data transfer. Callers follow a lock / bind / transfer /
// unlock cycle; the transport delivers completion events from its own
// context, which may stand in for an interrupt service routine and is never
// blocked by the coordinator.
package genericbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/edaniels/golog"
)

// A Handler receives events from an event-driven transfer. It is invoked
// from the transport's event context: it must not block and must not take
// locks.
type Handler func(Event)

// Bus serializes access to a single underlying Transport.
//
// The zero value is not usable; construct with New and call Init before any
// other method. All exported methods except Init and Close require the
// caller to hold the bus via Lock; violations are programming errors and
// panic rather than returning an error.
type Bus struct {
	transport Transport
	logger    golog.Logger

	// mu serializes callers. It is never taken on the event path.
	mu sync.Mutex

	// complete is a one-slot completion signal. A send that finds the slot
	// occupied collapses into it; a send with no waiter is retained for the
	// next waiter.
	complete chan struct{}

	// handler is shared with the event context, so it is stored atomically
	// rather than under mu.
	handler atomic.Pointer[Handler]

	inited atomic.Bool
	async  atomic.Bool
	locked atomic.Bool
	served atomic.Bool

	// cleaned resolves the race between Unlock and the completion handler:
	// whichever loses the test-and-set skips cleanup.
	cleaned atomic.Bool
}

// New wires a coordinator around the given transport. The transport must not
// be shared with another coordinator.
func New(transport Transport, logger golog.Logger) *Bus {
	return &Bus{
		transport: transport,
		logger:    logger,
		complete:  make(chan struct{}, 1),
	}
}

// Init registers the coordinator's event adapter on the transport and then
// initializes the transport itself, returning its result unchanged. Calling
// Init twice reinitializes the transport.
func (b *Bus) Init() error {
	b.transport.SetEventHandler(b.onEvent)
	if err := b.transport.Init(); err != nil {
		return err
	}
	b.inited.Store(true)
	b.logger.Debug("bus transport initialized")
	return nil
}

// Lock acquires exclusive access to the bus, blocking while another caller
// holds it. If an event-driven transfer from a previous cycle is still in
// flight, Lock also waits for its terminal event, so buffer state never
// spans two transfers.
func (b *Bus) Lock() {
	if !b.inited.Load() {
		panic("genericbus: Lock before successful Init")
	}
	b.mu.Lock()
	b.locked.Store(true)
	if b.async.Load() {
		// Consume the terminal signal of the previous event-driven
		// transfer. Once consumed that transfer is fully retired, so async
		// mode ends here; leaving it set would make a later Lock wait for a
		// signal nobody will send.
		<-b.complete
		b.async.Store(false)
	}
}

// Unlock releases the bus. Bound buffers are discarded once cleanup runs,
// which may happen after Unlock returns if an event-driven transfer is still
// in flight: in that case the completion handler performs cleanup instead.
func (b *Bus) Unlock() {
	if !b.locked.Load() {
		panic("genericbus: Unlock of an unlocked bus")
	}

	// Cleared before the cleanup decision below. The completion handler
	// uses the cleared flag to take over cleanup when it runs last.
	b.locked.Store(false)

	if b.async.Load() {
		if b.served.Load() {
			// The handler may be attempting cleanup concurrently; the
			// test-and-set makes sure only one side runs it. A blocking
			// lock is not an option because the handler side must stay
			// lock-free.
			if !b.cleaned.Swap(true) {
				b.cleanup()
			}
		}
		// Not yet served: the transfer outlives this lock session and the
		// handler cleans up after delivering the terminal event.
	} else {
		// Blocking mode finishes every transfer before Unlock can run, so
		// no race here; the flag only keeps a session that issued no
		// transfer from re-running the previous lifecycle's cleanup.
		if !b.cleaned.Swap(true) {
			b.cleanup()
		}
	}

	b.mu.Unlock()
}

// SetBuffers binds tx as the transmit source and rx as the receive sink.
// Either may be nil for a transmit-only or receive-only transfer; zero
// length is a valid zero-length operation. Previous bindings are discarded.
// Bindings persist until the next binding call or until cleanup.
func (b *Bus) SetBuffers(tx, rx []byte) error {
	if !b.locked.Load() {
		panic("genericbus: SetBuffers on an unlocked bus")
	}
	if tx == nil && rx == nil {
		return ErrBothBuffersNil
	}
	if tx != nil && rx != nil && len(tx) != len(rx) {
		return ErrLengthMismatch
	}
	if b.busy() {
		return ErrBusy
	}

	b.transport.ResetBuffers()
	b.transport.SetTx(tx)
	b.transport.SetRx(rx)
	return nil
}

// SetBuffersFill binds a transmit stream of size repetitions of fill, with
// no caller-supplied buffer. Whether a receive side runs is up to the
// transport; any received data is discarded.
func (b *Bus) SetBuffersFill(size int, fill byte) error {
	if !b.locked.Load() {
		panic("genericbus: SetBuffersFill on an unlocked bus")
	}
	if size < 0 {
		return ErrInvalidSize
	}
	if b.busy() {
		return ErrBusy
	}

	b.transport.ResetBuffers()
	b.transport.SetTxFill(size, fill)
	return nil
}

// Xfer performs a blocking transfer using the buffers bound previously. It
// returns only after the transport has delivered the terminal event, or
// immediately with the transport's error if the transfer could not be
// issued. The wait itself is not cancellable; ctx covers issuance only.
func (b *Bus) Xfer(ctx context.Context) error {
	if !b.locked.Load() {
		panic("genericbus: Xfer on an unlocked bus")
	}
	if b.busy() {
		return ErrBusy
	}

	b.async.Store(false)
	b.cleaned.Store(false)
	b.served.Store(false)

	// Discard a stale completion signal left over from a previous transfer.
	select {
	case <-b.complete:
	default:
	}

	if err := b.transport.DoTransfer(ctx); err != nil {
		// The transfer never started, so no completion will arrive. Treat
		// it as served immediately.
		b.served.Store(true)
		return err
	}

	<-b.complete
	return nil
}

// XferAsync issues an event-driven transfer using the buffers bound
// previously and returns without waiting. Every bus event of the transfer is
// passed to handler, most likely from an interrupt-like context; the
// EventTransferDone event is the last one. ctx covers issuance only.
func (b *Bus) XferAsync(ctx context.Context, handler Handler) error {
	if !b.locked.Load() {
		panic("genericbus: XferAsync on an unlocked bus")
	}
	if handler == nil {
		return ErrNilHandler
	}
	if b.busy() {
		return ErrBusy
	}

	b.async.Store(true)
	b.cleaned.Store(false)
	b.served.Store(false)
	b.handler.Store(&handler)

	// Discard a stale completion signal left over from a previous transfer
	// in this session, so the slot only ever carries this transfer's
	// terminal signal.
	select {
	case <-b.complete:
	default:
	}

	if err := b.transport.DoTransfer(ctx); err != nil {
		// The transfer never started, so no completion will arrive. Leave
		// the bus immediately ready for a new transfer.
		b.served.Store(true)
		b.async.Store(false)
		b.handler.Store(nil)
		return err
	}

	return nil
}

// Close tears the coordinator down, unregistering its event adapter from the
// transport. The bus must be unlocked with no transfer in flight.
func (b *Bus) Close() error {
	if b.locked.Load() || b.busy() {
		panic("genericbus: Close while bus is locked or a transfer is in flight")
	}
	b.transport.SetEventHandler(nil)
	b.inited.Store(false)
	b.logger.Debug("bus coordinator closed")
	return nil
}

// onEvent adapts transport events for the coordinator. It runs in the
// transport's event context: no locks, no logging, no blocking.
func (b *Bus) onEvent(ev Event) {
	terminal := ev == EventTransferDone

	if terminal {
		if b.served.Load() {
			// A second terminal event for one transfer breaks the protocol
			// contract and is never expected.
			panic("genericbus: transfer-done event for an already served transfer")
		}
		b.served.Store(true)
	}

	if b.async.Load() {
		if h := b.handler.Load(); h != nil {
			(*h)(ev)
		}

		// The owning goroutine may have unlocked while this event was being
		// delivered. Whichever side runs last performs cleanup; the
		// test-and-set decides the winner without blocking this context.
		if terminal && !b.locked.Load() {
			if !b.cleaned.Swap(true) {
				b.cleanup()
			}
		}
	}

	if terminal {
		select {
		case b.complete <- struct{}{}:
		default:
		}
	}
}

// busy reports whether an event-driven transfer is in flight: issued, and
// its terminal event not yet served.
func (b *Bus) busy() bool {
	return b.async.Load() && !b.served.Load()
}

// cleanup discards buffer bindings and the stored handler so the next
// bind/transfer cycle starts clean. The cleaned flag keeps it to at most one
// run per transfer lifecycle.
func (b *Bus) cleanup() {
	b.transport.ResetBuffers()
	b.handler.Store(nil)
}
