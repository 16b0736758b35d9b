package transport

import (
	"time"

	"github.com/pkg/term"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Parity selects the serial line's parity bit scheme.
type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityOdd   Parity = 'O'
	ParityEven  Parity = 'E'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

// StopBits selects the number of stop bits; 1.5 is only meaningful at
// data-bit widths below 8 on real UARTs, but is accepted here and left
// to the platform termios layer to reject if unsupported.
type StopBits float32

const (
	StopBits1   StopBits = 1
	StopBits1_5 StopBits = 1.5
	StopBits2   StopBits = 2
)

// FlowControl selects the serial line's flow-control discipline.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowXonXoff
	FlowRTSCTS
	FlowDTRDSR
)

// SerialConfig bundles every field SPEC_FULL.md §4.I requires for the
// serial transport.
type SerialConfig struct {
	Device           string
	Baud             int
	Parity           Parity
	DataBits         int // 5..8
	StopBits         StopBits
	Flow             FlowControl
	InterByteTimeout time.Duration
}

// Serial is a serial byte stream transport. It implements message.Conn.
type Serial struct {
	cfg  SerialConfig
	term *term.Term
}

// OpenSerial opens and configures the named device, matching
// serial_port_open's term.Open/SetSpeed baseline and then, on Linux,
// layering the parity/data-bits/stop-bits/flow-control termios fields
// that pkg/term's portable surface does not expose (see serial_linux.go).
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	const op = "transport.OpenSerial"
	t, err := term.Open(cfg.Device, term.RawMode)
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	if cfg.Baud != 0 {
		if err := t.SetSpeed(cfg.Baud); err != nil {
			t.Close()
			return nil, labwire.NewError(labwire.KindConnection, op, err)
		}
	}
	s := &Serial{cfg: cfg, term: t}
	if err := applyTermios(t, cfg); err != nil {
		t.Close()
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	return s, nil
}

func (s *Serial) Read(p []byte) (int, error)  { return s.term.Read(p) }
func (s *Serial) Write(p []byte) (int, error) { return s.term.Write(p) }

func (s *Serial) SetReadDeadline(t time.Time) error {
	return s.term.SetReadTimeout(time.Until(t))
}

func (s *Serial) Close() error { return s.term.Close() }
