package labwire

import (
	"strconv"
	"strings"
)

// Scheme identifies which wire protocol an Address selects. Parsing is
// total: ParseAddress always returns either a fully populated Address or
// a *Error of KindAddressParse — there is no partially-parsed state.
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeTCPIPInstr
	SchemeTCPIPHiSLIP
	SchemeTCPIPSocket
	SchemeUSB
	SchemeFTDI
	SchemeGPIB
	SchemePrologix
	SchemeSerial
	SchemeTCP
	SchemeUDP
	SchemeZMQ
	SchemeModbus
)

func (s Scheme) String() string {
	switch s {
	case SchemeTCPIPInstr:
		return "TCPIP::INSTR"
	case SchemeTCPIPHiSLIP:
		return "TCPIP::HiSLIP"
	case SchemeTCPIPSocket:
		return "TCPIP::SOCKET"
	case SchemeUSB:
		return "USB"
	case SchemeFTDI:
		return "FTDI"
	case SchemeGPIB:
		return "GPIB"
	case SchemePrologix:
		return "Prologix"
	case SchemeSerial:
		return "ASRL"
	case SchemeTCP:
		return "TCP"
	case SchemeUDP:
		return "UDP"
	case SchemeZMQ:
		return "ZMQ"
	case SchemeModbus:
		return "MODBUS"
	default:
		return "unknown"
	}
}

// Address is the parsed form of a VISA-style resource string. Only the
// fields relevant to Scheme are populated; the rest are zero values.
type Address struct {
	Raw    string
	Scheme Scheme

	// TCPIP / TCP / UDP / ZMQ / MODBUS
	Host string
	Port int

	// TCPIP::<host>::hislip<n>::INSTR or ::inst<n>::INSTR
	InstrumentNumber int
	IsHiSLIP         bool
	IsSocket         bool

	// USB / FTDI
	VID        uint16
	PID        uint16
	Serial     string
	Interface  int
	USBIsRaw  bool // true for ::RAW, false for ::INSTR
	USBIsFTDI bool

	// GPIB / Prologix
	Board int
	PAD   int
	SAD   int // 0 means "no secondary address"; GPIB valid SAD is 96..126

	// ASRL / COM
	SerialPort string

	// MODBUS
	ModbusFramer string // "", "rtu", "ascii"; "" means TCP/MBAP
	ModbusIsUDP  bool
}

// ParseAddress parses a VISA-style resource string. Parsing is total:
// every input yields either a populated Address or a non-nil error whose
// Kind is KindAddressParse.
func ParseAddress(s string) (Address, error) {
	const op = "labwire.ParseAddress"
	fields := strings.Split(s, "::")
	if len(fields) == 0 || fields[0] == "" {
		return Address{}, NewError(KindAddressParse, op, errEmptyAddress)
	}

	scheme := strings.ToUpper(fields[0])

	switch {
	case scheme == "TCPIP":
		return parseTCPIP(s, fields, op)
	case scheme == "USB" || scheme == "FTDI":
		return parseUSB(s, fields, op, scheme == "FTDI")
	case strings.HasPrefix(scheme, "GPIB"):
		return parseGPIB(s, fields, op, scheme)
	case scheme == "PROLOGIX":
		return parsePrologix(s, fields, op)
	case strings.HasPrefix(scheme, "ASRL") || strings.HasPrefix(scheme, "COM"):
		return parseSerial(s, scheme, op)
	case scheme == "TCP" || scheme == "UDP":
		return parseTCPUDP(s, fields, op, scheme)
	case scheme == "ZMQ":
		return parseHostPort(s, fields, op, SchemeZMQ)
	case scheme == "MODBUS":
		return parseModbus(s, fields, op)
	default:
		return Address{}, NewError(KindAddressParse, op, errUnknownScheme(scheme))
	}
}

func parseTCPIP(s string, fields []string, op string) (Address, error) {
	// TCPIP::<host>::INSTR
	// TCPIP::<host>::hislip<n>::INSTR
	// TCPIP::<host>::inst<n>::INSTR
	// TCPIP::<host>::<port>::SOCKET
	if len(fields) < 3 {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	addr := Address{Raw: s, Host: fields[1]}

	last := strings.ToUpper(fields[len(fields)-1])
	switch {
	case len(fields) >= 4 && last == "SOCKET":
		port, err := strconv.Atoi(fields[len(fields)-2])
		if err != nil {
			return Address{}, NewError(KindAddressParse, op, err)
		}
		addr.Scheme = SchemeTCPIPSocket
		addr.IsSocket = true
		addr.Port = port
		return addr, nil

	case len(fields) >= 3 && last == "INSTR":
		mid := fields[2]
		switch {
		case strings.HasPrefix(strings.ToLower(mid), "hislip"):
			n, err := parseTrailingInt(mid, "hislip")
			if err != nil {
				return Address{}, NewError(KindAddressParse, op, err)
			}
			addr.Scheme = SchemeTCPIPHiSLIP
			addr.IsHiSLIP = true
			addr.InstrumentNumber = n
			return addr, nil
		case strings.HasPrefix(strings.ToLower(mid), "inst"):
			n, err := parseTrailingInt(mid, "inst")
			if err != nil {
				return Address{}, NewError(KindAddressParse, op, err)
			}
			addr.Scheme = SchemeTCPIPInstr
			addr.InstrumentNumber = n
			return addr, nil
		case mid == "INSTR" || strings.ToUpper(mid) == "INSTR":
			addr.Scheme = SchemeTCPIPInstr
			return addr, nil
		default:
			return Address{}, NewError(KindAddressParse, op, errMalformed(s))
		}
	default:
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
}

func parseTrailingInt(s, prefix string) (int, error) {
	suffix := s[len(prefix):]
	if suffix == "" {
		return 0, nil
	}
	return strconv.Atoi(suffix)
}

func parseUSB(s string, fields []string, op string, isFTDI bool) (Address, error) {
	// USB::<vid>::<pid>::<serial>::<interface>::INSTR|RAW
	if len(fields) < 4 {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	vid, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 16)
	if err != nil {
		return Address{}, NewError(KindAddressParse, op, err)
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 16)
	if err != nil {
		return Address{}, NewError(KindAddressParse, op, err)
	}
	addr := Address{
		Raw:       s,
		Scheme:    SchemeUSB,
		VID:       uint16(vid),
		PID:       uint16(pid),
		Serial:    fields[3],
		USBIsFTDI: isFTDI,
	}
	if isFTDI {
		addr.Scheme = SchemeFTDI
	}
	rest := fields[4:]
	switch len(rest) {
	case 1:
		addr.USBIsRaw = strings.EqualFold(rest[0], "RAW")
	case 2:
		iface, err := strconv.Atoi(rest[0])
		if err != nil {
			return Address{}, NewError(KindAddressParse, op, err)
		}
		addr.Interface = iface
		addr.USBIsRaw = strings.EqualFold(rest[1], "RAW")
	default:
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	return addr, nil
}

func parseGPIB(s string, fields []string, op string, scheme string) (Address, error) {
	// GPIB[board]::<pad>[::<sad>][::INSTR]
	boardStr := strings.TrimPrefix(strings.ToUpper(scheme), "GPIB")
	board := 0
	if boardStr != "" {
		n, err := strconv.Atoi(boardStr)
		if err != nil {
			return Address{}, NewError(KindAddressParse, op, err)
		}
		board = n
	}
	if len(fields) < 2 {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	pad, err := strconv.Atoi(fields[1])
	if err != nil || pad < 0 || pad > 30 {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	addr := Address{Raw: s, Scheme: SchemeGPIB, Board: board, PAD: pad}
	if len(fields) >= 3 && !strings.EqualFold(fields[2], "INSTR") {
		sad, err := strconv.Atoi(fields[2])
		if err != nil || sad < 96 || sad > 126 {
			return Address{}, NewError(KindAddressParse, op, errMalformed(s))
		}
		addr.SAD = sad
	}
	return addr, nil
}

func parsePrologix(s string, fields []string, op string) (Address, error) {
	// Prologix::<host>[::port]::<pad>[::<sad>]
	if len(fields) < 3 {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	addr := Address{Raw: s, Scheme: SchemePrologix, Host: fields[1], Port: 1234}

	rest := fields[2:]
	// Optional explicit port: a field that parses as an integer > 30 is
	// treated as a port, not a PAD, since PAD is bounded 0..30. With
	// three fields after the host the first one is always the port.
	idx := 0
	if n, err := strconv.Atoi(rest[0]); err == nil && (n > 30 || len(rest) >= 3) {
		_ = n
		port, err := strconv.Atoi(rest[0])
		if err != nil {
			return Address{}, NewError(KindAddressParse, op, err)
		}
		addr.Port = port
		idx = 1
	}
	if idx >= len(rest) {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	pad, err := strconv.Atoi(rest[idx])
	if err != nil || pad < 0 || pad > 30 {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	addr.PAD = pad
	idx++
	if idx < len(rest) {
		sad, err := strconv.Atoi(rest[idx])
		if err != nil || sad < 96 || sad > 126 {
			return Address{}, NewError(KindAddressParse, op, errMalformed(s))
		}
		addr.SAD = sad
	}
	return addr, nil
}

func parseSerial(s, scheme, op string) (Address, error) {
	addr := Address{Raw: s, Scheme: SchemeSerial}
	if strings.HasPrefix(scheme, "ASRL") {
		addr.SerialPort = strings.TrimPrefix(scheme, "ASRL")
	} else {
		n := strings.TrimPrefix(scheme, "COM")
		idx, err := strconv.Atoi(n)
		if err != nil {
			return Address{}, NewError(KindAddressParse, op, err)
		}
		addr.SerialPort = "COM" + strconv.Itoa(idx)
	}
	return addr, nil
}

func parseTCPUDP(s string, fields []string, op string, scheme string) (Address, error) {
	sc := SchemeTCP
	if scheme == "UDP" {
		sc = SchemeUDP
	}
	return parseHostPort(s, fields, op, sc)
}

func parseHostPort(s string, fields []string, op string, scheme Scheme) (Address, error) {
	if len(fields) != 3 {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return Address{}, NewError(KindAddressParse, op, err)
	}
	return Address{Raw: s, Scheme: scheme, Host: fields[1], Port: port}, nil
}

func parseModbus(s string, fields []string, op string) (Address, error) {
	// MODBUS::<hw>[::<framer>][::UDP]
	if len(fields) < 2 {
		return Address{}, NewError(KindAddressParse, op, errMalformed(s))
	}
	addr := Address{Raw: s, Scheme: SchemeModbus, Host: fields[1]}
	for _, f := range fields[2:] {
		switch strings.ToLower(f) {
		case "rtu", "ascii":
			addr.ModbusFramer = strings.ToLower(f)
		case "udp":
			addr.ModbusIsUDP = true
		default:
			return Address{}, NewError(KindAddressParse, op, errMalformed(s))
		}
	}
	return addr, nil
}
