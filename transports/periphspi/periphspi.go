// Package periphspi implements a bus transport over a periph.io SPI port.
//
// Linux spidev transfers are synchronous, so DoTransfer performs the whole
// transfer inline and delivers the terminal event before returning. Issuance
// failures (port open, connect, transfer) are reported directly through the
// DoTransfer error.
package periphspi

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"go.viam.com/genericbus"
)

const defaultBaudHz = 1000000

// Config describes which SPI port to use and how to clock it.
type Config struct {
	BusSelect  string `json:"bus_select"`
	ChipSelect string `json:"chip_select"`
	Mode       uint   `json:"mode,omitempty"`
	BaudHz     uint   `json:"baud_hz,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.BusSelect == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "bus_select")
	}
	if config.ChipSelect == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "chip_select")
	}
	if config.Mode > 3 {
		return goutils.NewConfigValidationError(path, errors.Errorf("mode must be 0-3, got %d", config.Mode))
	}
	return nil
}

// Transport drives an SPI port as a generic bus transport.
type Transport struct {
	cfg    Config
	logger golog.Logger

	mu      sync.Mutex
	handler func(genericbus.Event)
	tx      []byte
	rx      []byte
	fill    []byte
}

// NewTransport returns an SPI transport for the given port configuration.
func NewTransport(cfg Config, logger golog.Logger) *Transport {
	if cfg.BaudHz == 0 {
		cfg.BaudHz = defaultBaudHz
	}
	return &Transport{cfg: cfg, logger: logger}
}

// Init loads the periph.io host drivers.
func (t *Transport) Init() error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize periph host drivers")
	}
	t.logger.Debugw("spi transport initialized", "bus", t.cfg.BusSelect, "chip_select", t.cfg.ChipSelect)
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

// DoTransfer runs a full-duplex transfer over the SPI port using the bound
// buffers, padding whichever side the caller left unbound.
func (t *Transport) DoTransfer(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	src := t.tx
	if t.fill != nil {
		src = t.fill
	}
	rx := t.rx
	h := t.handler
	t.mu.Unlock()

	if src == nil && rx == nil {
		return errors.New("no buffers bound")
	}
	if src == nil {
		src = make([]byte, len(rx))
	}
	if rx == nil {
		rx = make([]byte, len(src))
	}
	if len(src) != len(rx) {
		return errors.Errorf("tx/rx length mismatch: %d vs %d", len(src), len(rx))
	}

	if len(src) == 0 {
		// Zero-length operation: nothing to clock out, but the transfer
		// still completes.
		if h != nil {
			h(genericbus.EventTransferDone)
		}
		return nil
	}

	port, err := spireg.Open(fmt.Sprintf("SPI%s.%s", t.cfg.BusSelect, t.cfg.ChipSelect))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, port.Close())
	}()
	conn, err := port.Connect(physic.Hertz*physic.Frequency(t.cfg.BaudHz), spi.Mode(t.cfg.Mode), 8)
	if err != nil {
		return err
	}
	if err := conn.Tx(src, rx); err != nil {
		return err
	}

	if h != nil {
		h(genericbus.EventTransferDone)
	}
	return nil
}
