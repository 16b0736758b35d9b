package hislip

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncClient_LockRequestAndRelease(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := NewAsyncClient(client)

	go func() {
		buf := make([]byte, headerSize)
		_, _ = server.Read(buf)
		server.Write(Message{Type: AsyncLockResponse, ControlCode: uint8(LockSuccess)}.pack())

		_, _ = server.Read(buf)
		server.Write(Message{Type: AsyncLockResponse, ControlCode: uint8(LockSuccess)}.pack())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := a.LockRequest(ctx, time.Second, "")
	require.NoError(t, err)
	assert.True(t, result.Granted())

	result, err = a.LockRelease(ctx, 42)
	require.NoError(t, err)
	assert.True(t, result.Granted())
}

func TestLockResult_Granted(t *testing.T) {
	assert.True(t, LockSuccess.Granted())
	assert.True(t, LockSharedRelease.Granted())
	assert.False(t, LockFailed.Granted())
	assert.False(t, LockError.Granted())
}
