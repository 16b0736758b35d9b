package message

import (
	"context"
	"net"
	"testing"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn adapts a net.Pipe half to the Conn interface.
type pipeConn struct {
	net.Conn
}

func newPipe() (Conn, net.Conn) {
	a, b := net.Pipe()
	return pipeConn{a}, b
}

func TestRead_TerminationMatch(t *testing.T) {
	conn, remote := newPipe()
	defer remote.Close()

	st := &State{ReadTermination: []byte("\r\n"), Timeout: time.Second}

	done := make(chan struct{})
	var got []byte
	var err error
	go func() {
		got, err = st.Read(context.Background(), conn, -1)
		close(done)
	}()

	_, werr := remote.Write([]byte("Manufacturer,Model,Serial,01.02.2024\r\n"))
	require.NoError(t, werr)

	<-done
	require.NoError(t, err)
	assert.Equal(t, []byte("Manufacturer,Model,Serial,01.02.2024\r\n"), got)
}

func TestRead_SizeReached(t *testing.T) {
	conn, remote := newPipe()
	defer remote.Close()

	st := &State{Timeout: time.Second}
	done := make(chan struct{})
	var got []byte
	var err error
	go func() {
		got, err = st.Read(context.Background(), conn, 5)
		close(done)
	}()

	_, werr := remote.Write([]byte("hello world"))
	require.NoError(t, werr)

	<-done
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestRead_MaxSizeExceeded(t *testing.T) {
	conn, remote := newPipe()
	defer remote.Close()

	st := &State{Timeout: time.Second, MaxReadSize: 4}
	done := make(chan struct{})
	var err error
	go func() {
		_, err = st.Read(context.Background(), conn, -1)
		close(done)
	}()

	_, werr := remote.Write([]byte("too many bytes"))
	require.NoError(t, werr)

	<-done
	require.Error(t, err)
	var lerr *labwire.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, labwire.KindConnection, lerr.Kind)
}

func TestRead_Timeout(t *testing.T) {
	conn, remote := newPipe()
	defer remote.Close()

	st := &State{Timeout: 20 * time.Millisecond}
	_, err := st.Read(context.Background(), conn, -1)
	require.Error(t, err)
	var lerr *labwire.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, labwire.KindTimeout, lerr.Kind)
}

func TestWrite_AppendsTerminationOnce(t *testing.T) {
	conn, remote := newPipe()
	defer remote.Close()

	st := &State{WriteTermination: []byte("\n")}
	go func() {
		_, _ = st.Write(conn, []byte("*IDN?"))
	}()
	buf := make([]byte, 16)
	n, err := remote.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "*IDN?\n", string(buf[:n]))

	// Already terminated: no double append.
	go func() {
		_, _ = st.Write(conn, []byte("*IDN?\n"))
	}()
	n, err = remote.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "*IDN?\n", string(buf[:n]))
}

func TestRstrip(t *testing.T) {
	conn, remote := newPipe()
	defer remote.Close()

	st := &State{ReadTermination: []byte("\n"), Rstrip: true, Timeout: time.Second}
	done := make(chan struct{})
	var got []byte
	go func() {
		got, _ = st.Read(context.Background(), conn, -1)
		close(done)
	}()
	_, err := remote.Write([]byte("value   \n"))
	require.NoError(t, err)
	<-done
	assert.Equal(t, []byte("value"), got)
}

var _ Conn = (*net.TCPConn)(nil) // sanity: *net.TCPConn satisfies Conn
