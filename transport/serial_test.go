package transport

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSerial_PTYRoundTrip exercises serial framing over a real
// pseudo-terminal pair instead of mocking the file descriptor, the same
// technique the reference TNC's virtual-KISS-TNC mode uses (kiss.go) to
// test serial I/O without real hardware attached.
func TestSerial_PTYRoundTrip(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	s, err := OpenSerial(SerialConfig{Device: slave.Name()})
	require.NoError(t, err)
	defer s.Close()

	go func() {
		_, _ = master.Write([]byte("Manufacturer,Model,Serial,01.02.2024\r\n"))
	}()

	buf := make([]byte, 64)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "Manufacturer")

	_, err = s.Write([]byte("*IDN?\n"))
	require.NoError(t, err)
	n, err = master.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "*IDN?\n", string(buf[:n]))
}

func TestSerialConfig_Defaults(t *testing.T) {
	cfg := SerialConfig{
		Device:           "/dev/ttyUSB0",
		Baud:             115200,
		DataBits:         8,
		StopBits:         StopBits1,
		Parity:           ParityNone,
		Flow:             FlowNone,
		InterByteTimeout: 50 * time.Millisecond,
	}
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, ParityNone, cfg.Parity)
}
