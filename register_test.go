package genericbus_test

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
	goutils "go.viam.com/utils"

	"go.viam.com/genericbus"
	"go.viam.com/genericbus/inject"
)

func TestRegister(t *testing.T) {
	// A device that responds to every clocked-out byte with that byte plus
	// 0x80, the way many SPI peripherals echo status.
	state := &fakeState{}
	var written [][]byte
	transport := &inject.Transport{
		InitFunc:            func() error { return nil },
		SetEventHandlerFunc: func(fn func(genericbus.Event)) { state.onEvent = fn },
		DoTransferFunc: func(ctx context.Context) error {
			if err := state.failNext; err != nil {
				state.failNext = nil
				return err
			}
			tx := state.tx
			rx := state.rx
			written = append(written, append([]byte(nil), tx...))
			goutils.PanicCapturingGo(func() {
				for i := range rx {
					if i < len(tx) {
						rx[i] = tx[i] + 0x80
					}
				}
				state.onEvent(genericbus.EventTransferDone)
			})
			return nil
		},
		SetTxFunc:        func(tx []byte) { state.tx = tx },
		SetRxFunc:        func(rx []byte) { state.rx = rx },
		ResetBuffersFunc: func() { state.resets.Add(1) },
	}
	bus := genericbus.New(transport, golog.NewTestLogger(t))
	test.That(t, bus.Init(), test.ShouldBeNil)

	ctx := context.Background()
	reg := &genericbus.Register{Bus: bus, Register: 0x0f}

	data, err := reg.Read(ctx, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0x80, 0x80})
	test.That(t, written[len(written)-1], test.ShouldResemble, []byte{0x0f, 0x00, 0x00})

	test.That(t, reg.Write(ctx, []byte{1, 2, 3}), test.ShouldBeNil)
	test.That(t, written[len(written)-1], test.ShouldResemble, []byte{0x0f, 1, 2, 3})

	// Transfer failures surface to the caller and release the bus.
	errDead := errors.New("device not responding")
	state.failNext = errDead
	_, err = reg.Read(ctx, 1)
	test.That(t, err, test.ShouldBeError, errDead)
	test.That(t, reg.Write(ctx, []byte{9}), test.ShouldBeNil)
}
