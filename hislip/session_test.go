package hislip

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts two connections on one listener (the sync channel,
// then the async channel) and drives just enough of the handshake and
// transaction set for Session to be exercised without a real instrument.
func fakeServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		syncConn, err := ln.Accept()
		if err != nil {
			return
		}
		asyncConn, err := ln.Accept()
		if err != nil {
			return
		}
		ln.Close()
		defer syncConn.Close()
		defer asyncConn.Close()

		// Initialize on the sync channel: session id 7, synchronous mode.
		m, err := readMessage(syncConn, 0)
		if err != nil || m.Type != Initialize {
			return
		}
		syncConn.Write(Message{Type: InitializeResponse, Parameter: uint32(2)<<24 | uint32(0)<<16 | 7}.pack())

		// AsyncInitialize on the async channel, bound to session id 7.
		m, err = readMessage(asyncConn, 0)
		if err != nil || m.Type != AsyncInitialize || m.Parameter != 7 {
			return
		}
		asyncConn.Write(Message{Type: AsyncInitializeResponse}.pack())

		// AsyncMaximumMessageSize negotiation.
		m, err = readMessage(asyncConn, 0)
		if err != nil || m.Type != AsyncMaximumMessageSize {
			return
		}
		asyncConn.Write(Message{Type: AsyncMaximumMessageSizeResponse, Payload: []byte{0, 0, 0, 0, 0, 0x10, 0, 0}}.pack())

		for {
			m, err := readMessage(syncConn, 1<<20)
			if err != nil {
				return
			}
			switch m.Type {
			case DataEnd:
				// Echo the query back as a single-message response.
				syncConn.Write(Message{Type: DataEnd, Parameter: m.Parameter, Payload: append([]byte("echo:"), m.Payload...)}.pack())
			case Trigger:
				// no reply expected
			default:
				return
			}
		}
	}()

	return ln.Addr().String()
}

func TestSession_ConnectWriteRead(t *testing.T) {
	addr := fakeServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Connect(ctx, host, SessionOptions{Port: port, SubAddress: "hislip0"})
	require.NoError(t, err)
	assert.False(t, s.Overlapped())

	n, err := s.Write(ctx, []byte("*IDN?\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	data, err := s.Read(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "echo:*IDN?\n", string(data))

	require.NoError(t, s.Close())
}

func TestMessage_PackRoundTrip(t *testing.T) {
	m := Message{Type: Data, ControlCode: 1, Parameter: 0xFFFFFF02, Payload: []byte("hello")}
	buf := m.pack()
	assert.Len(t, buf, headerSize+5)
	assert.Equal(t, byte('H'), buf[0])
	assert.Equal(t, byte('S'), buf[1])

	got, err := readMessage(bytes.NewReader(buf), 0)
	require.NoError(t, err)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.ControlCode, got.ControlCode)
	assert.Equal(t, m.Parameter, got.Parameter)
	assert.Equal(t, m.Payload, got.Payload)
}

func TestMessage_PackZeroPayloadDoesNotPanic(t *testing.T) {
	m := Message{Type: Trigger}
	assert.NotPanics(t, func() { m.pack() })
}
