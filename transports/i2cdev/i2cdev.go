//go:build linux

// Package i2cdev implements a bus transport over a Linux I2C device node,
// using the d2r2/go-i2c library.
//
// I2C is half duplex: a transfer writes the bound transmit data and then
// reads into the bound receive buffer, in that order. Transfers are
// synchronous, so DoTransfer delivers the terminal event before returning
// and reports failures directly through its error.
package i2cdev

import (
	"bytes"
	"context"
	"sync"

	i2c "github.com/d2r2/go-i2c"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/genericbus"
)

// Config describes which I2C bus and device address to use.
type Config struct {
	Bus  int  `json:"bus"`
	Addr byte `json:"addr"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.Addr == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "addr")
	}
	return nil
}

// Transport drives an I2C device node as a generic bus transport.
type Transport struct {
	cfg    Config
	logger golog.Logger

	mu      sync.Mutex
	dev     *i2c.I2C
	handler func(genericbus.Event)
	tx      []byte
	rx      []byte
	fill    []byte
}

// NewTransport returns an I2C transport for the given device.
func NewTransport(cfg Config, logger golog.Logger) *Transport {
	return &Transport{cfg: cfg, logger: logger}
}

// Init opens the I2C device node. Calling Init again reopens it.
func (t *Transport) Init() error {
	dev, err := i2c.NewI2C(t.cfg.Addr, t.cfg.Bus)
	if err != nil {
		return errors.Wrapf(err, "failed to open I2C device %#x on bus %d", t.cfg.Addr, t.cfg.Bus)
	}

	t.mu.Lock()
	old := t.dev
	t.dev = dev
	t.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			t.logger.Warnw("failed to close previous I2C handle", "error", err)
		}
	}
	t.logger.Debugw("i2c transport initialized", "bus", t.cfg.Bus, "addr", t.cfg.Addr)
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

// DoTransfer writes the bound transmit data and then reads into the bound
// receive buffer.
func (t *Transport) DoTransfer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	dev := t.dev
	src := t.tx
	if t.fill != nil {
		src = t.fill
	}
	rx := t.rx
	h := t.handler
	t.mu.Unlock()

	if dev == nil {
		return errors.New("i2c transport not initialized")
	}
	if src == nil && rx == nil {
		return errors.New("no buffers bound")
	}

	if len(src) > 0 {
		n, err := dev.WriteBytes(src)
		if err != nil {
			return err
		}
		if n != len(src) {
			return errors.Errorf("short write to I2C device %#x on bus %d: %d of %d bytes",
				t.cfg.Addr, t.cfg.Bus, n, len(src))
		}
	}
	if len(rx) > 0 {
		n, err := dev.ReadBytes(rx)
		if err != nil {
			return err
		}
		if n != len(rx) {
			return errors.Errorf("short read from I2C device %#x on bus %d: %d of %d bytes",
				t.cfg.Addr, t.cfg.Bus, n, len(rx))
		}
	}

	if h != nil {
		h(genericbus.EventTransferDone)
	}
	return nil
}

// Close releases the I2C device node.
func (t *Transport) Close() error {
	t.mu.Lock()
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()

	if dev == nil {
		return nil
	}
	return dev.Close()
}
