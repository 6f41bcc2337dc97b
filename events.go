package genericbus

import "fmt"

// Event is a code delivered by a Transport to describe what happened on the
// bus. The coordinator only interprets EventTransferDone; everything else is
// forwarded to the user's handler untouched.
type Event int

const (
	// EventTransferDone is the terminal event of a transfer. Exactly one is
	// delivered per started transfer, after which the bus is idle again.
	EventTransferDone Event = iota

	// EventTransportBase is the first code available to transports for their
	// own event taxonomy. Transport-defined events are opaque to the
	// coordinator.
	EventTransportBase
)

func (e Event) String() string {
	if e == EventTransferDone {
		return "transfer-done"
	}
	return fmt.Sprintf("transport-event(%d)", int(e))
}
