// Package inject provides dependency-injected bus primitives for testing.
package inject

import (
	"context"

	"go.viam.com/genericbus"
)

// Transport is an injected transport.
type Transport struct {
	genericbus.Transport
	InitFunc            func() error
	SetEventHandlerFunc func(fn func(genericbus.Event))
	DoTransferFunc      func(ctx context.Context) error
	SetTxFunc           func(tx []byte)
	SetRxFunc           func(rx []byte)
	SetTxFillFunc       func(size int, fill byte)
	ResetBuffersFunc    func()
}

// Init calls the injected Init or the real version.
func (t *Transport) Init() error {
	if t.InitFunc == nil {
		return t.Transport.Init()
	}
	return t.InitFunc()
}

// SetEventHandler calls the injected SetEventHandler or the real version.
func (t *Transport) SetEventHandler(fn func(genericbus.Event)) {
	if t.SetEventHandlerFunc == nil {
		t.Transport.SetEventHandler(fn)
		return
	}
	t.SetEventHandlerFunc(fn)
}

// DoTransfer calls the injected DoTransfer or the real version.
func (t *Transport) DoTransfer(ctx context.Context) error {
	if t.DoTransferFunc == nil {
		return t.Transport.DoTransfer(ctx)
	}
	return t.DoTransferFunc(ctx)
}

// SetTx calls the injected SetTx or the real version.
func (t *Transport) SetTx(tx []byte) {
	if t.SetTxFunc == nil {
		t.Transport.SetTx(tx)
		return
	}
	t.SetTxFunc(tx)
}

// SetRx calls the injected SetRx or the real version.
func (t *Transport) SetRx(rx []byte) {
	if t.SetRxFunc == nil {
		t.Transport.SetRx(rx)
		return
	}
	t.SetRxFunc(rx)
}

// SetTxFill calls the injected SetTxFill or the real version.
func (t *Transport) SetTxFill(size int, fill byte) {
	if t.SetTxFillFunc == nil {
		t.Transport.SetTxFill(size, fill)
		return
	}
	t.SetTxFillFunc(size, fill)
}

// ResetBuffers calls the injected ResetBuffers or the real version.
func (t *Transport) ResetBuffers() {
	if t.ResetBuffersFunc == nil {
		t.Transport.ResetBuffers()
		return
	}
	t.ResetBuffersFunc()
}
