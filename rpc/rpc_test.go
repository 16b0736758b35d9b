package rpc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts one connection, reads one fragmented call, and
// replies with a canned accept-status and payload. It mirrors the
// record-reading shape of a portmapper-style RPC listener without
// pulling in the server role itself.
func fakeServer(t *testing.T, acceptStat uint32, payload []byte) (addr string, done chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done = make(chan struct{})

	go func() {
		defer close(done)
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var hdrBuf [4]byte
		if _, err := io.ReadFull(conn, hdrBuf[:]); err != nil {
			return
		}
		header := binary.BigEndian.Uint32(hdrBuf[:])
		length := header &^ (1 << 31)
		call := make([]byte, length)
		if _, err := io.ReadFull(conn, call); err != nil {
			return
		}
		xid := binary.BigEndian.Uint32(call[:4])

		var reply []byte
		reply = append(reply, call[:4]...) // echo XID
		reply = appendU32(reply, replyMessage)
		reply = appendU32(reply, MsgAccepted)
		reply = appendU32(reply, 0) // verf flavor
		reply = appendU32(reply, 0) // verf length
		reply = appendU32(reply, acceptStat)
		reply = append(reply, payload...)

		var out []byte
		out = appendU32(out, uint32(len(reply))|(1<<31))
		out = append(out, reply...)
		_, _ = conn.Write(out)
		_ = xid
	}()

	return ln.Addr().String(), done
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func TestClient_WriteRead_Success(t *testing.T) {
	addr, done := fakeServer(t, Success, []byte{0, 0, 0, 42})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	c := NewClient(conn)
	c.Init(100000, 2, 3)
	c.Append(u32Bytes(1))
	require.NoError(t, c.Write(ctx))

	payload, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 42}, payload)

	<-done
}

func TestClient_Read_ProgMismatchIsFatal(t *testing.T) {
	addr, done := fakeServer(t, ProgMismatch, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	c := NewClient(conn)
	c.Init(100000, 2, 3)
	require.NoError(t, c.Write(ctx))

	_, err = c.Read(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROG_MISMATCH")

	<-done
}

func TestAppendOpaque_PadsToFourByteBoundary(t *testing.T) {
	c := NewClient(nil)
	c.Init(1, 1, 1)
	before := len(c.buf.Bytes())
	c.AppendOpaque([]byte("abc")) // 3 bytes -> 4 (len) + 3 + 1 pad
	after := len(c.buf.Bytes())
	assert.Equal(t, 8, after-before)
}

func TestPackFixedOpaque_TruncatesAndPads(t *testing.T) {
	c := NewClient(nil)
	c.Init(1, 1, 1)
	before := len(c.buf.Bytes())
	c.PackFixedOpaque([]byte("toolongvalue"), 5) // truncated to 5, padded to 8
	after := len(c.buf.Bytes())
	assert.Equal(t, 8, after-before)
}

func TestPackArray_PrefixesCount(t *testing.T) {
	c := NewClient(nil)
	c.Init(1, 1, 1)
	before := len(c.buf.Bytes())
	c.PackArray([][]byte{[]byte("a"), []byte("bb")})
	after := len(c.buf.Bytes())
	// count(4) + ("a": 4+1+3pad=8) + ("bb": 4+2+2pad=8)
	assert.Equal(t, 4+8+8, after-before)
}
