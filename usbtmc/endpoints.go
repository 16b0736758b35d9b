package usbtmc

import "context"

// Endpoints is the small surface this package needs from a claimed USB
// interface: the Bulk-OUT and Bulk-IN data endpoints, the interface's
// control-transfer method, and its optional Interrupt-IN status-notify
// endpoint. Production code satisfies this with *gousb.Interface and its
// endpoints; tests satisfy it with an in-memory fake.
type Endpoints interface {
	BulkOut(ctx context.Context, p []byte) (int, error)
	BulkIn(ctx context.Context, p []byte) (int, error)
	// Control issues a USB control transfer; requestType/request/value/
	// index mirror gousb.Device.Control's parameters.
	Control(requestType, request uint8, value, index uint16, data []byte) (int, error)
	// InterruptIn reads one Interrupt-IN notify packet. ok is false when
	// the device has no Interrupt-IN endpoint.
	InterruptIn(ctx context.Context, p []byte) (n int, ok bool, err error)
	// InterfaceNumber is the bInterfaceNumber GET_CAPABILITIES and the
	// USB488 control requests address.
	InterfaceNumber() int
}
