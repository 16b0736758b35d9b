package labwire

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"

	"github.com/scopelab/labwire/gpib"
	"github.com/scopelab/labwire/hislip"
	"github.com/scopelab/labwire/message"
	"github.com/scopelab/labwire/modbus"
	"github.com/scopelab/labwire/transport"
	"github.com/scopelab/labwire/usbtmc"
	"github.com/scopelab/labwire/vxi11"
)

// DialOptions carries every backend-specific knob Dial needs beyond
// what the Address itself encodes. Fields not relevant to the Scheme
// being dialed are ignored.
type DialOptions struct {
	Logger Logger

	// VXI-11
	LockDevice  bool
	LockTimeout time.Duration

	// USB / USBTMC. Required for SchemeUSB; the Context's device
	// enumeration and libusb lifetime stay the caller's responsibility,
	// matching gousb's own ownership model.
	USBContext *gousb.Context

	// GPIB board (cgo National-Instruments-compatible backend)
	GPIBTimeout time.Duration
	GPIBEOT     bool
	GPIBEOS     int

	// Prologix controller
	Prologix gpib.ControllerConfig

	// Serial. Device is overwritten from the Address; every other field
	// is the caller's to set.
	Serial transport.SerialConfig

	// Modbus
	ModbusDialTimeout time.Duration
}

func errUnsupportedOperation(b Backend) error {
	return fmt.Errorf("operation not supported for backend %s", b)
}

func errUnimplementedScheme(reason string) error {
	return fmt.Errorf("unimplemented: %s", reason)
}

// Dial parses addr and constructs the Interface for the resulting
// Scheme, choosing the constructor with a static switch rather than a
// runtime registry (SPEC_FULL.md §9): every Scheme value maps to
// exactly one backend, known at compile time.
func Dial(ctx context.Context, addr string, opts DialOptions) (*Interface, *ConnectionRecord, error) {
	const op = "labwire.Dial"

	parsed, err := ParseAddress(addr)
	if err != nil {
		return nil, nil, err
	}

	iface, backend, err := dialParsed(ctx, parsed, opts)
	if err != nil {
		return nil, nil, NewError(KindConnection, op, err)
	}

	record := ConnectionRecord{Address: addr, Parsed: parsed, Backend: backend}
	iface.Record = record
	return iface, &record, nil
}

func dialParsed(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	switch addr.Scheme {
	case SchemeTCPIPInstr:
		return dialVXI11(ctx, addr, opts)
	case SchemeTCPIPHiSLIP:
		return dialHiSLIP(ctx, addr, opts)
	case SchemeTCPIPSocket:
		return dialTCPIPSocket(ctx, addr, opts)
	case SchemeUSB:
		return dialUSBTMC(ctx, addr, opts)
	case SchemeFTDI:
		return nil, BackendUnknown, errUnimplementedScheme("FTDI D2XX is an external vendor SDK, out of scope per SPEC_FULL.md §1")
	case SchemeGPIB:
		return dialGPIBBoard(addr, opts)
	case SchemePrologix:
		return dialPrologix(ctx, addr, opts)
	case SchemeSerial:
		return dialSerial(addr, opts)
	case SchemeTCP:
		return dialTCP(ctx, addr, opts)
	case SchemeUDP:
		return dialUDP(ctx, addr, opts)
	case SchemeZMQ:
		return nil, BackendUnknown, errUnimplementedScheme("ZMQ has no pure-Go or cgo binding in the retrieved pack; see DESIGN.md")
	case SchemeModbus:
		return dialModbus(ctx, addr, opts)
	default:
		return nil, BackendUnknown, fmt.Errorf("unsupported scheme %s", addr.Scheme)
	}
}

func hostPort(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func dialVXI11(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	device := "inst0"
	if addr.InstrumentNumber != 0 {
		device = fmt.Sprintf("inst%d", addr.InstrumentNumber)
	}
	sess, err := vxi11.Connect(ctx, addr.Host, vxi11.Options{
		Device:      device,
		LockDevice:  opts.LockDevice,
		LockTimeout: opts.LockTimeout,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{VXI11: sess}, BackendVXI11, nil
}

func dialHiSLIP(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	sess, err := hislip.Connect(ctx, addr.Host, hislip.SessionOptions{Logger: opts.Logger})
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{HiSLIP: sess}, BackendHiSLIP, nil
}

func dialTCPIPSocket(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	s, err := transport.DialStream(ctx, hostPort(addr.Host, addr.Port))
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{Socket: s}, BackendSocket, nil
}

func dialUSBTMC(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	if addr.USBIsRaw {
		return nil, BackendUnknown, errUnimplementedScheme("USB::RAW bulk passthrough bypassing USBTMC framing is not implemented; see DESIGN.md")
	}
	if opts.USBContext == nil {
		return nil, BackendUnknown, fmt.Errorf("labwire.Dial: SchemeUSB requires a non-nil DialOptions.USBContext")
	}
	dev, err := usbtmc.Open(ctx, opts.USBContext, addr.VID, addr.PID, addr.Serial, opts.Logger)
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{USBTMC: dev}, BackendUSBTMC, nil
}

func dialSerial(addr Address, opts DialOptions) (*Interface, Backend, error) {
	cfg := opts.Serial
	cfg.Device = addr.SerialPort
	s, err := transport.OpenSerial(cfg)
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{Serial: s}, BackendSerial, nil
}

func dialTCP(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	s, err := transport.DialStream(ctx, hostPort(addr.Host, addr.Port))
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{Socket: s}, BackendSocket, nil
}

func dialUDP(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	d, err := transport.DialDatagram(ctx, hostPort(addr.Host, addr.Port))
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{Datagram: d}, BackendSocket, nil
}

func dialPrologix(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	hwAddress := hostPort(addr.Host, addr.Port)
	dial := func() (message.Conn, error) {
		return transport.DialStream(ctx, hwAddress)
	}
	ctrl, err := gpib.GetController(ctx, hwAddress, dial, opts.Prologix, opts.Logger)
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{Prologix: &ProlognixDevice{ctrl: ctrl, pad: addr.PAD, sad: addr.SAD}}, BackendProlognix, nil
}

func dialGPIBBoard(addr Address, opts DialOptions) (*Interface, Backend, error) {
	timeout := opts.GPIBTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	board, err := gpib.Open(addr.Board, addr.PAD, addr.SAD, timeout, opts.GPIBEOT, opts.GPIBEOS, opts.Logger)
	if err != nil {
		return nil, BackendUnknown, err
	}
	return &Interface{GPIB: board}, BackendGPIB, nil
}

func dialModbus(ctx context.Context, addr Address, opts DialOptions) (*Interface, Backend, error) {
	if addr.ModbusFramer != "" {
		return nil, BackendUnknown, errUnimplementedScheme(fmt.Sprintf("modbus %s framing is not implemented; only TCP/MBAP (and UDP/MBAP) are", strings.ToUpper(addr.ModbusFramer)))
	}

	if opts.ModbusDialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ModbusDialTimeout)
		defer cancel()
	}

	host := addr.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "502")
	}

	var framer modbus.Framer
	if addr.ModbusIsUDP {
		d, err := transport.DialDatagram(ctx, host)
		if err != nil {
			return nil, BackendUnknown, err
		}
		framer = modbus.NewTCPFramer(d)
	} else {
		s, err := transport.DialStream(ctx, host)
		if err != nil {
			return nil, BackendUnknown, err
		}
		framer = modbus.NewTCPFramer(s)
	}
	client := modbus.NewClient(framer, opts.Logger)
	return &Interface{Modbus: client}, BackendModbus, nil
}
