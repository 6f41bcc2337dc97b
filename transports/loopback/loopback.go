// Package loopback implements an in-memory bus transport that echoes
// transmitted data back into the receive buffer. It is useful for tests and
// for bringing up device drivers before real hardware is available.
//
// Transfers complete asynchronously on a clock timer, standing in for an
// interrupt-driven platform bus: events are delivered from the timer's
// goroutine, not from the caller's.
package loopback

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/genericbus"
)

// EventEcho is emitted ahead of the terminal event once echo data has landed
// in the receive buffer.
const EventEcho = genericbus.EventTransportBase

var (
	// ErrNotInitialized is returned by DoTransfer before Init has run.
	ErrNotInitialized = errors.New("loopback transport not initialized")

	// ErrTransferInFlight is returned by DoTransfer while a previous
	// transfer has not yet completed.
	ErrTransferInFlight = errors.New("loopback transfer already in flight")

	// ErrNoBuffers is returned by DoTransfer when no buffers are bound.
	ErrNoBuffers = errors.New("no buffers bound")
)

// Config describes a loopback transport.
type Config struct {
	Name      string `json:"name"`
	LatencyMS int    `json:"latency_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	return nil
}

// Transport is an in-memory echo transport.
type Transport struct {
	name    string
	latency time.Duration
	clock   clock.Clock
	logger  golog.Logger

	mu       sync.Mutex
	inited   bool
	handler  func(genericbus.Event)
	tx       []byte
	rx       []byte
	fill     []byte
	inFlight bool
	failNext error
	lastTx   []byte
}

// New returns a loopback transport driven by the wall clock.
func New(cfg Config, logger golog.Logger) *Transport {
	return NewWithClock(cfg, logger, clock.New())
}

// NewWithClock returns a loopback transport driven by the given clock, which
// tests typically set to a mock so completion timing is under their control.
func NewWithClock(cfg Config, logger golog.Logger, clk clock.Clock) *Transport {
	return &Transport{
		name:    cfg.Name,
		latency: time.Duration(cfg.LatencyMS) * time.Millisecond,
		clock:   clk,
		logger:  logger,
	}
}

// Init marks the transport ready for transfers.
func (t *Transport) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inited = true
	t.logger.Debugw("loopback transport initialized", "name", t.name, "latency", t.latency)
	return nil
}

// SetEventHandler registers fn to receive bus events.
func (t *Transport) SetEventHandler(fn func(genericbus.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// SetTx binds the transmit buffer.
func (t *Transport) SetTx(tx []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx = tx
	t.fill = nil
}

// SetRx binds the receive buffer.
func (t *Transport) SetRx(rx []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rx = rx
}

// SetTxFill binds a transmit stream of size repetitions of fill.
func (t *Transport) SetTxFill(size int, fill byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx = nil
	t.fill = bytes.Repeat([]byte{fill}, size)
}

// ResetBuffers discards all buffer bindings.
func (t *Transport) ResetBuffers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx = nil
	t.rx = nil
	t.fill = nil
}

// LastTransmit returns a copy of the data clocked out by the most recent
// transfer. Handy when bringing up a driver against the loopback.
func (t *Transport) LastTransmit() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.lastTx))
	copy(out, t.lastTx)
	return out
}

// FailNext makes the next DoTransfer fail at issuance with err, without
// starting a transfer. Used to exercise error paths.
func (t *Transport) FailNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = err
}

// DoTransfer copies the transmit data into the receive buffer, if one is
// bound, and schedules completion delivery after the configured latency.
func (t *Transport) DoTransfer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if !t.inited {
		t.mu.Unlock()
		return ErrNotInitialized
	}
	if t.inFlight {
		t.mu.Unlock()
		return ErrTransferInFlight
	}
	if err := t.failNext; err != nil {
		t.failNext = nil
		t.mu.Unlock()
		return err
	}

	src := t.tx
	if t.fill != nil {
		src = t.fill
	}
	if src == nil && t.rx == nil {
		t.mu.Unlock()
		return ErrNoBuffers
	}
	copy(t.rx, src)
	t.lastTx = append(t.lastTx[:0], src...)
	t.inFlight = true
	t.mu.Unlock()

	t.clock.AfterFunc(t.latency, t.finish)
	return nil
}

// finish delivers the transfer's events. The handler may call back into the
// transport (buffer reset on cleanup), so no lock is held across it.
func (t *Transport) finish() {
	t.mu.Lock()
	h := t.handler
	t.inFlight = false
	t.mu.Unlock()

	if h == nil {
		return
	}
	h(EventEcho)
	h(genericbus.EventTransferDone)
}
