package labwire

import (
	"context"

	"github.com/scopelab/labwire/gpib"
	"github.com/scopelab/labwire/hislip"
	"github.com/scopelab/labwire/modbus"
	"github.com/scopelab/labwire/transport"
	"github.com/scopelab/labwire/usbtmc"
	"github.com/scopelab/labwire/vxi11"
)

// Backend names which protocol implementation an Interface is actually
// driving, independent of the Scheme the caller dialed with (Prologix
// and GPIB board addresses both report Backend GPIB or Prologix
// respectively, never a generic "bus" tag).
type Backend int

const (
	BackendUnknown Backend = iota
	BackendVXI11
	BackendHiSLIP
	BackendUSBTMC
	BackendGPIB
	BackendProlognix
	BackendModbus
	BackendSerial
	BackendSocket
)

func (b Backend) String() string {
	switch b {
	case BackendVXI11:
		return "VXI11"
	case BackendHiSLIP:
		return "HiSLIP"
	case BackendUSBTMC:
		return "USBTMC"
	case BackendGPIB:
		return "GPIB"
	case BackendProlognix:
		return "Prologix"
	case BackendModbus:
		return "Modbus"
	case BackendSerial:
		return "Serial"
	case BackendSocket:
		return "Socket"
	default:
		return "unknown"
	}
}

// ConnectionRecord is the immutable identity of one physical endpoint:
// the address string, its parsed variant, and the Backend Dial chose
// for it. It carries no mutable state and is safe to log or compare,
// unlike the Interface it is returned alongside.
type ConnectionRecord struct {
	Address string
	Parsed  Address
	Backend Backend
}

// ProlognixDevice is one addressed GPIB device reachable through a
// shared Prologix controller: the controller itself is process-wide
// (several devices on the same adapter share its lock), but each
// device still needs its own PAD/SAD pinned to every call.
type ProlognixDevice struct {
	ctrl     *gpib.Controller
	pad, sad int
}

func (d *ProlognixDevice) Write(p []byte) (int, error) { return d.ctrl.Write(d.pad, d.sad, p) }
func (d *ProlognixDevice) Read(ctx context.Context, size int) ([]byte, error) {
	return d.ctrl.Read(ctx, d.pad, d.sad, size)
}
func (d *ProlognixDevice) Clear() error         { return d.ctrl.Clear(d.pad, d.sad) }
func (d *ProlognixDevice) Local() error         { return d.ctrl.Local(d.pad, d.sad) }
func (d *ProlognixDevice) Trigger() error       { return d.ctrl.Trigger(d.pad, d.sad) }
func (d *ProlognixDevice) SerialPoll(ctx context.Context) (byte, error) {
	return d.ctrl.SerialPoll(ctx, d.pad, d.sad)
}

// Interface is the handle Dial returns: a thin dispatch shell over
// whichever backend Record.Backend names. Exactly one of the typed
// fields below is non-nil; Write/Read/Query/Close forward to it so
// callers that don't care which transport they got can use those
// four methods uniformly, while callers that need protocol-specific
// operations (VXI-11 locking, HiSLIP overlapped mode, GPIB serial
// poll, Modbus register access) reach through the named field.
type Interface struct {
	Record ConnectionRecord

	VXI11    *vxi11.Session
	HiSLIP   *hislip.Session
	USBTMC   *usbtmc.Device
	GPIB     *gpib.Board
	Prologix *ProlognixDevice
	Modbus   *modbus.Client
	Serial   *transport.Serial
	Socket   *transport.Stream
	Datagram *transport.Datagram
}

// Write sends data over whichever transport backs i, per Backend.
func (i *Interface) Write(ctx context.Context, data []byte) (int, error) {
	const op = "labwire.Interface.Write"
	switch i.Record.Backend {
	case BackendVXI11:
		return i.VXI11.DeviceWrite(ctx, data, 0, 0)
	case BackendHiSLIP:
		return i.HiSLIP.Write(ctx, data)
	case BackendUSBTMC:
		return i.USBTMC.Write(ctx, data)
	case BackendGPIB:
		return i.GPIB.Write(data)
	case BackendProlognix:
		return i.Prologix.Write(data)
	case BackendSerial:
		return i.Serial.Write(data)
	case BackendSocket:
		if i.Datagram != nil {
			return i.Datagram.Write(data)
		}
		return i.Socket.Write(data)
	default:
		return 0, NewError(KindProtocol, op, errUnsupportedOperation(i.Record.Backend))
	}
}

// Read receives up to size bytes over whichever transport backs i.
func (i *Interface) Read(ctx context.Context, size int) ([]byte, error) {
	const op = "labwire.Interface.Read"
	switch i.Record.Backend {
	case BackendVXI11:
		return i.VXI11.DeviceRead(ctx, size, 0, 0, nil)
	case BackendHiSLIP:
		return i.HiSLIP.Read(ctx, size, 0)
	case BackendUSBTMC:
		return i.USBTMC.Read(ctx, size)
	case BackendGPIB:
		return i.GPIB.Read()
	case BackendProlognix:
		return i.Prologix.Read(ctx, size)
	case BackendSerial:
		p := make([]byte, size)
		n, err := i.Serial.Read(p)
		return p[:n], err
	case BackendSocket:
		p := make([]byte, size)
		var n int
		var err error
		if i.Datagram != nil {
			n, err = i.Datagram.Read(p)
		} else {
			n, err = i.Socket.Read(p)
		}
		return p[:n], err
	default:
		return nil, NewError(KindProtocol, op, errUnsupportedOperation(i.Record.Backend))
	}
}

// Query writes data then reads up to size bytes of reply, the common
// write-then-read idiom every backend but Modbus speaks.
func (i *Interface) Query(ctx context.Context, data []byte, size int) ([]byte, error) {
	const op = "labwire.Interface.Query"
	if _, err := i.Write(ctx, data); err != nil {
		return nil, NewError(KindConnection, op, err)
	}
	return i.Read(ctx, size)
}

// Close releases whichever backend resource i owns.
func (i *Interface) Close() error {
	switch i.Record.Backend {
	case BackendVXI11:
		return i.VXI11.Close(context.Background())
	case BackendHiSLIP:
		return i.HiSLIP.Close()
	case BackendUSBTMC:
		return i.USBTMC.Close()
	case BackendGPIB:
		return i.GPIB.Close()
	case BackendProlognix:
		return nil // the underlying Controller is shared process-wide; see gpib.GetController
	case BackendSerial:
		return i.Serial.Close()
	case BackendSocket:
		if i.Datagram != nil {
			return i.Datagram.Close()
		}
		return i.Socket.Close()
	default:
		return nil
	}
}
