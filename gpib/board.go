//go:build cgo && !windows

package gpib

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// IBERR codes, ni4882.h / gpib/ib.h.
const (
	EDVR = 0
	ECIC = 1
	ENOL = 2
	EADR = 3
	EARG = 4
	ESAC = 5
	EABO = 6
	ENEB = 7
	EDMA = 8
	EOIP = 10
	ECAP = 11
	EFSO = 12
	EBUS = 14
	ESTB = 15
	ESRQ = 16
	ETAB = 20
	ELCK = 21
	EARM = 22
	EHDL = 23
	EWIP = 26
	ERST = 27
	EPWR = 28
)

const (
	noSecAddr = 0xFFFF
)

// chunkSize is the per-ibrd read size; the board fills it repeatedly
// until the END status bit appears, matching the reference client's
// chunked accumulate-until-END read loop.
const chunkSize = 20480

var addressPattern = regexp.MustCompile(`^GPIB(?P<board>\d{0,2})(::((?P<pad>\d+)|(?P<name>[^\s:]+)))?(::(?P<sad>\d+))?$`)

// ParsedAddress is a GPIB resource string broken into its board index,
// primary/secondary address, and symbolic board name, mirroring
// parse_gpib_address in the reference client. This is distinct from
// labwire.ParseAddress: it also accepts the bare board-only and
// board-name-only forms GPIB uses for board-level (not device-level)
// resources, which the VISA resource grammar has no room for.
type ParsedAddress struct {
	Board int
	PAD   int
	SAD   int
	Name  string
}

func ParseAddress(s string) (ParsedAddress, error) {
	m := addressPattern.FindStringSubmatch(s)
	if m == nil {
		return ParsedAddress{}, labwire.NewError(labwire.KindAddressParse, "gpib.ParseAddress", fmt.Errorf("not a GPIB address: %q", s))
	}
	groups := map[string]string{}
	for i, name := range addressPattern.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}

	p := ParsedAddress{SAD: noSecAddr}
	if groups["board"] != "" {
		n, err := strconv.Atoi(groups["board"])
		if err != nil {
			return ParsedAddress{}, labwire.NewError(labwire.KindAddressParse, "gpib.ParseAddress", err)
		}
		p.Board = n
	}
	if groups["pad"] != "" {
		n, err := strconv.Atoi(groups["pad"])
		if err != nil {
			return ParsedAddress{}, labwire.NewError(labwire.KindAddressParse, "gpib.ParseAddress", err)
		}
		p.PAD = n
	}
	if groups["name"] != "" {
		p.Name = groups["name"]
	}
	if groups["sad"] != "" {
		n, err := strconv.Atoi(groups["sad"])
		if err != nil {
			return ParsedAddress{}, labwire.NewError(labwire.KindAddressParse, "gpib.ParseAddress", err)
		}
		p.SAD = n
	}
	return p, nil
}

// Board is a descriptor opened against a platform GPIB library, as
// returned by ibdev.
type Board struct {
	lib *library
	ud  int
	log labwire.Logger

	maxReadSize int
}

// Open resolves the platform GPIB library (via GPIB_LIBRARY or the
// built-in search list) and calls ibdev to allocate a device
// descriptor for pad/sad on the given board.
func Open(board, pad, sad int, timeout time.Duration, eot bool, eos int, logger labwire.Logger) (*Board, error) {
	l, err := loadLibrary()
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, "gpib.Open", err)
	}
	eotVal := 0
	if eot {
		eotVal = 1
	}
	if sad == 0 {
		sad = noSecAddr
	}
	sta := l.ibdevCall(board, pad, sad, timeoutIndex(timeout), eotVal, eos)
	if sta&staERR != 0 {
		return nil, labwire.NewError(labwire.KindConnection, "gpib.Open", fmt.Errorf("ibdev failed: status 0x%x", sta))
	}
	labwire.Debugf(logger, "gpib: opened board %d pad %d sad %d ud=%d", board, pad, sad, sta)
	return &Board{lib: l, ud: sta, log: logger, maxReadSize: 10 << 20}, nil
}

// SetMaxReadSize caps the total number of bytes accumulated by Read
// before it gives up on ever seeing the END status bit.
func (b *Board) SetMaxReadSize(n int) { b.maxReadSize = n }

func (b *Board) Write(p []byte) (int, error) {
	sta := b.lib.ibwrtCall(b.ud, p)
	if sta&staERR != 0 {
		return 0, labwire.NewError(labwire.KindConnection, "gpib.Board.Write", fmt.Errorf("ibwrt failed: status 0x%x", sta))
	}
	return int(b.lib.ibcntlCall()), nil
}

// Read accumulates chunkSize-byte ibrd calls until the device asserts
// EOI (status bit END), matching the reference client's _read loop.
// Reaching maxReadSize bytes without END is an error.
func (b *Board) Read() ([]byte, error) {
	var out []byte
	chunk := make([]byte, chunkSize)
	for {
		sta := b.lib.ibrdCall(b.ud, chunk)
		if sta&staERR != 0 {
			return nil, labwire.NewError(labwire.KindConnection, "gpib.Board.Read", fmt.Errorf("ibrd failed: status 0x%x", sta))
		}
		n := int(b.lib.ibcntlCall())
		out = append(out, chunk[:n]...)
		if sta&staEND != 0 {
			return out, nil
		}
		if len(out) >= b.maxReadSize {
			return nil, labwire.NewError(labwire.KindConnection, "gpib.Board.Read", fmt.Errorf("exceeded max read size %d bytes without END", b.maxReadSize))
		}
	}
}

// Listener reports whether a device at pad/sad is present and
// listening on the bus (ibln).
func (b *Board) Listener(pad, sad int) (bool, error) {
	if sad == 0 {
		sad = noSecAddr
	}
	sta, found := b.lib.iblnCall(b.ud, pad, sad)
	if sta&staERR != 0 {
		return false, labwire.NewError(labwire.KindConnection, "gpib.Board.Listener", fmt.Errorf("ibln failed: status 0x%x", sta))
	}
	return found, nil
}

// InterfaceClear asserts IFC, resetting every device on the bus.
func (b *Board) InterfaceClear() error {
	if sta := b.lib.ibsicCall(b.ud); sta&staERR != 0 {
		return labwire.NewError(labwire.KindConnection, "gpib.Board.InterfaceClear", fmt.Errorf("ibsic failed: status 0x%x", sta))
	}
	return nil
}

// Clear issues a Selected Device Clear to this device.
func (b *Board) Clear() error {
	if sta := b.lib.ibclrCall(b.ud); sta&staERR != 0 {
		return labwire.NewError(labwire.KindConnection, "gpib.Board.Clear", fmt.Errorf("ibclr failed: status 0x%x", sta))
	}
	return nil
}

// Local returns the device to local (front-panel) control.
func (b *Board) Local() error {
	if sta := b.lib.iblocCall(b.ud); sta&staERR != 0 {
		return labwire.NewError(labwire.KindConnection, "gpib.Board.Local", fmt.Errorf("ibloc failed: status 0x%x", sta))
	}
	return nil
}

// SerialPoll returns this device's status byte.
func (b *Board) SerialPoll() (byte, error) {
	sta, spr := b.lib.ibrspCall(b.ud)
	if sta&staERR != 0 {
		return 0, labwire.NewError(labwire.KindConnection, "gpib.Board.SerialPoll", fmt.Errorf("ibrsp failed: status 0x%x", sta))
	}
	return spr, nil
}

// SetTimeout reconfigures the device descriptor's I/O timeout.
func (b *Board) SetTimeout(d time.Duration) error {
	if sta := b.lib.ibtmoCall(b.ud, timeoutIndex(d)); sta&staERR != 0 {
		return labwire.NewError(labwire.KindConnection, "gpib.Board.SetTimeout", fmt.Errorf("ibtmo failed: status 0x%x", sta))
	}
	return nil
}

// Close takes the device descriptor offline (ibonl with v=0).
func (b *Board) Close() error {
	if sta := b.lib.ibonlCall(b.ud, false); sta&staERR != 0 {
		return labwire.NewError(labwire.KindConnection, "gpib.Board.Close", fmt.Errorf("ibonl failed: status 0x%x", sta))
	}
	return nil
}
