package vxi11

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeviceCore is a minimal Device-Core program stand-in: it accepts
// one connection, reads each call, and answers CREATE_LINK/DEVICE_WRITE/
// DEVICE_READ/DESTROY_LINK procedures with fixed VXI-11 replies so the
// Session chunking and timeout logic can be exercised without a real
// instrument.
func fakeDeviceCore(t *testing.T, echo []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		for {
			call, xid, proc, ok := readCall(conn)
			if !ok {
				return
			}
			switch proc {
			case procCreateLink:
				writeReply(conn, xid, packBE(0, 1, 4096, 65536)) // error=0, lid=1, abort_port=4096, max_recv_size=65536
			case procDeviceWrite:
				// RPC header is 10 words (40 bytes); then lid, io_timeout,
				// lock_timeout, flags (4 words); then the opaque length.
				n := binary.BigEndian.Uint32(call[56:60])
				writeReply(conn, xid, packBE(0, n))
			case procDeviceRead:
				reply := append(packBE(0, ReasonEND), packBE(uint32(len(echo)))...)
				reply = append(reply, echo...)
				if pad := (4 - len(echo)%4) % 4; pad > 0 {
					reply = append(reply, make([]byte, pad)...)
				}
				writeReply(conn, xid, reply)
			case procDestroyLink:
				writeReply(conn, xid, packBE(0))
			default:
				writeReply(conn, xid, packBE(0))
			}
		}
	}()

	return ln.Addr().String()
}

func packBE(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func readCall(conn net.Conn) (call []byte, xid, proc uint32, ok bool) {
	var hdrBuf [4]byte
	if _, err := io.ReadFull(conn, hdrBuf[:]); err != nil {
		return nil, 0, 0, false
	}
	header := binary.BigEndian.Uint32(hdrBuf[:])
	length := header &^ (1 << 31)
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, 0, 0, false
	}
	xid = binary.BigEndian.Uint32(body[0:4])
	proc = binary.BigEndian.Uint32(body[20:24])
	return body, xid, proc, true
}

func writeReply(conn net.Conn, xid uint32, payload []byte) {
	var reply []byte
	reply = append(reply, packBE(xid, replyMessageForTest, 0, 0, 0, Success)...)
	reply = append(reply, payload...)
	header := packBE(uint32(len(reply)) | (1 << 31))
	_, _ = conn.Write(header)
	_, _ = conn.Write(reply)
}

const replyMessageForTest = 1

func TestSession_CreateLinkWriteRead(t *testing.T) {
	addr := fakeDeviceCore(t, []byte("1.234000E+01\n"))
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Connect(ctx, host, Options{CorePort: port, Device: "inst0"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.LinkID())
	assert.EqualValues(t, 65536, s.maxRecvSize)

	n, err := s.DeviceWrite(ctx, []byte("*IDN?\n"), time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	data, err := s.DeviceRead(ctx, 0, time.Second, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.234000E+01\n", string(data))

	require.NoError(t, s.Close(ctx))
}
