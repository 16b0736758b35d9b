package labwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress_TCPIP(t *testing.T) {
	cases := []struct {
		addr   string
		scheme Scheme
		inst   int
		port   int
	}{
		{"TCPIP::192.168.1.1::INSTR", SchemeTCPIPInstr, 0, 0},
		{"TCPIP::192.168.1.1::inst0::INSTR", SchemeTCPIPInstr, 0, 0},
		{"TCPIP::192.168.1.1::hislip0::INSTR", SchemeTCPIPHiSLIP, 0, 0},
		{"TCPIP::192.168.1.1::5025::SOCKET", SchemeTCPIPSocket, 0, 5025},
	}
	for _, c := range cases {
		a, err := ParseAddress(c.addr)
		require.NoError(t, err, c.addr)
		assert.Equal(t, c.scheme, a.Scheme, c.addr)
		assert.Equal(t, c.port, a.Port, c.addr)
	}
}

func TestParseAddress_GPIB(t *testing.T) {
	a, err := ParseAddress("GPIB0::10::INSTR")
	require.NoError(t, err)
	assert.Equal(t, SchemeGPIB, a.Scheme)
	assert.Equal(t, 0, a.Board)
	assert.Equal(t, 10, a.PAD)
	assert.Equal(t, 0, a.SAD)

	a, err = ParseAddress("GPIB1::6::96")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Board)
	assert.Equal(t, 6, a.PAD)
	assert.Equal(t, 96, a.SAD)

	_, err = ParseAddress("GPIB0::31::INSTR")
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, KindAddressParse, lerr.Kind)
}

func TestParseAddress_Prologix(t *testing.T) {
	a, err := ParseAddress("Prologix::192.168.1.5::1234::5::96")
	require.NoError(t, err)
	assert.Equal(t, SchemePrologix, a.Scheme)
	assert.Equal(t, "192.168.1.5", a.Host)
	assert.Equal(t, 1234, a.Port)
	assert.Equal(t, 5, a.PAD)
	assert.Equal(t, 96, a.SAD)

	a, err = ParseAddress("Prologix::192.168.1.5::7")
	require.NoError(t, err)
	assert.Equal(t, 1234, a.Port)
	assert.Equal(t, 7, a.PAD)

	_, err = ParseAddress("Prologix::192.168.1.5::200")
	require.Error(t, err)
}

func TestParseAddress_USB(t *testing.T) {
	a, err := ParseAddress("USB::0x1234::0x5678::SERIAL123::0::INSTR")
	require.NoError(t, err)
	assert.Equal(t, SchemeUSB, a.Scheme)
	assert.EqualValues(t, 0x1234, a.VID)
	assert.EqualValues(t, 0x5678, a.PID)
	assert.Equal(t, "SERIAL123", a.Serial)
	assert.False(t, a.USBIsRaw)

	a, err = ParseAddress("FTDI::0x0403::0x6001::FT1234::RAW")
	require.NoError(t, err)
	assert.Equal(t, SchemeFTDI, a.Scheme)
	assert.True(t, a.USBIsRaw)
}

func TestParseAddress_Serial(t *testing.T) {
	a, err := ParseAddress("ASRL3")
	require.NoError(t, err)
	assert.Equal(t, SchemeSerial, a.Scheme)
	assert.Equal(t, "3", a.SerialPort)

	a, err = ParseAddress("COM5")
	require.NoError(t, err)
	assert.Equal(t, "COM5", a.SerialPort)
}

func TestParseAddress_Modbus(t *testing.T) {
	a, err := ParseAddress("MODBUS::192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, SchemeModbus, a.Scheme)
	assert.Equal(t, "", a.ModbusFramer)
	assert.False(t, a.ModbusIsUDP)

	a, err = ParseAddress("MODBUS::/dev/ttyUSB0::rtu")
	require.NoError(t, err)
	assert.Equal(t, "rtu", a.ModbusFramer)

	a, err = ParseAddress("MODBUS::192.168.1.50::UDP")
	require.NoError(t, err)
	assert.True(t, a.ModbusIsUDP)
}

func TestParseAddress_Total(t *testing.T) {
	// Every input yields either a value or a KindAddressParse error -
	// never a panic, never a zero-value success.
	for _, s := range []string{"", "::", "BOGUS::thing", "GPIB0::", "TCPIP::"} {
		a, err := ParseAddress(s)
		if err == nil {
			t.Fatalf("expected error parsing %q, got %+v", s, a)
			continue
		}
		var lerr *Error
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, KindAddressParse, lerr.Kind)
	}
}
