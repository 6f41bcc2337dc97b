package genericbus

import "context"

// A Register is a lightweight wrapper around a bus for a particular device
// register, using the common full-duplex convention of clocking the register
// address out ahead of the payload. Each call runs a complete lock / bind /
// transfer / unlock cycle.
type Register struct {
	Bus      *Bus
	Register byte
}

// Read reads size bytes from the register.
func (reg *Register) Read(ctx context.Context, size int) ([]byte, error) {
	tx := make([]byte, size+1)
	tx[0] = reg.Register
	rx := make([]byte, size+1)

	reg.Bus.Lock()
	defer reg.Bus.Unlock()
	if err := reg.Bus.SetBuffers(tx, rx); err != nil {
		return nil, err
	}
	if err := reg.Bus.Xfer(ctx); err != nil {
		return nil, err
	}
	return rx[1:], nil
}

// Write writes data to the register.
func (reg *Register) Write(ctx context.Context, data []byte) error {
	tx := make([]byte, 0, len(data)+1)
	tx = append(tx, reg.Register)
	tx = append(tx, data...)

	reg.Bus.Lock()
	defer reg.Bus.Unlock()
	if err := reg.Bus.SetBuffers(tx, nil); err != nil {
		return err
	}
	return reg.Bus.Xfer(ctx)
}
