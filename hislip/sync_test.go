package hislip

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncClient_MessageIDIncrementsByTwoAndWraps(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewSyncClient(client)
	s.messageID = 0xFFFFFFFE // one increment away from wrapping

	go func() {
		buf := make([]byte, headerSize+1)
		_, _ = server.Read(buf)
		server.Write(Message{Type: DataEnd, Parameter: 0xFFFFFFFE}.pack())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Send(ctx, []byte("x"))
	require.NoError(t, err)

	assert.EqualValues(t, 0, s.messageID) // (0xFFFFFFFE + 2) & 0xFFFFFFFF wraps to 0
	assert.EqualValues(t, 0xFFFFFFFE, s.MessageID())
}

func TestSyncClient_Receive_DiscardsMismatchedMessageID(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewSyncClient(client)
	s.previousMessageID = 100

	go func() {
		server.Write(Message{Type: DataEnd, Parameter: 99, Payload: []byte("stale")}.pack())
		server.Write(Message{Type: DataEnd, Parameter: 100, Payload: []byte("fresh")}.pack())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := s.Receive(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestSyncClient_Receive_InterruptedBlocksSendUntilAsyncInterrupted(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewSyncClient(client)

	go func() {
		server.Write(Message{Type: Interrupted}.pack())
		server.Write(Message{Type: DataEnd, Parameter: s.previousMessageID}.pack())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, _ = s.Receive(ctx, 0, 0)
		close(done)
	}()

	// give the Interrupted message time to be processed before asserting
	// the blocked state; the DataEnd that follows resolves the Receive call.
	<-done
	assert.EqualValues(t, rendezvousAwaitingAsyncInterrupted, s.Rendezvous())

	_, err := s.Send(ctx, []byte("x"))
	assert.Error(t, err)
}
