package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialStream_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := DialStream(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer s.Close()

	peer := <-accepted
	defer peer.Close()

	_, err = s.Write([]byte("*IDN?\n"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "*IDN?\n", string(buf[:n]))
}

func TestDialStream_RefusesBadAddress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := DialStream(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}
