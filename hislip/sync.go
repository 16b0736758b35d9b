package hislip

import (
	"context"
	"fmt"
	"net"
	"time"
)

// InitializeResult is the negotiated state from the Initialize
// transaction: protocol version, the server's session id, and the
// overlap/encryption control bits of Table 12.
type InitializeResult struct {
	Major          uint8
	Minor          uint8
	SessionID      uint16
	Overlapped     bool
	Encrypted      bool
	InitialEncrypt bool
}

const (
	overlapMode       = 1 << 0
	encryptionMode    = 1 << 1
	initialEncryption = 1 << 2
)

// rendezvousState tracks which half of the Interrupted/AsyncInterrupted
// handshake (Section 3.1.2, rule 4) this client is waiting on. Both
// Interrupted and AsyncInterrupted can arrive in either order or across
// separate Receive calls, so the state has to survive past one call.
type rendezvousState uint8

const (
	rendezvousNormal rendezvousState = iota
	// server sent AsyncInterrupted first: discard Data/DataEnd until
	// Interrupted arrives on the synchronous channel.
	rendezvousAwaitingInterrupted
	// server sent Interrupted first: sending is blocked until
	// AsyncInterrupted arrives on the asynchronous channel.
	rendezvousAwaitingAsyncInterrupted
)

// SyncClient is the synchronous HiSLIP channel: Initialize, Send/Receive
// of Data/DataEnd, Trigger, and device_clear_complete. Its Message-ID
// bookkeeping and the Interrupted/AsyncInterrupted rendezvous logic in
// Receive are grounded on SyncClient in
// original_source/src/msl/equipment/interfaces/hislip.py.
type SyncClient struct {
	c *conn

	rmt               uint8
	messageID         uint32
	previousMessageID uint32
	messageIDReceived uint32
	rendezvous        rendezvousState
}

// NewSyncClient wraps an already-dialed TCP connection as the
// synchronous channel.
func NewSyncClient(nc net.Conn) *SyncClient {
	s := &SyncClient{c: newConn(nc)}
	s.resetMessageID()
	return s
}

func (s *SyncClient) resetMessageID() {
	s.messageID = 0xFFFFFF00
	s.previousMessageID = s.messageID - 2
	s.messageIDReceived = s.messageID - 2
}

// Initialize performs the Initialize transaction (Section 6.1).
// clientID must be exactly two ASCII characters; subAddress is at most
// 256 characters.
func (s *SyncClient) Initialize(ctx context.Context, major, minor uint8, clientID [2]byte, subAddress string) (InitializeResult, error) {
	if len(subAddress) > 256 {
		return InitializeResult{}, fmt.Errorf("hislip: sub_address longer than 256 characters")
	}
	s.resetMessageID()

	param := uint32(major)<<24 | uint32(minor)<<16 | uint32(clientID[0])<<8 | uint32(clientID[1])
	if err := s.c.write(ctx, Message{Type: Initialize, Parameter: param, Payload: []byte(subAddress)}); err != nil {
		return InitializeResult{}, err
	}
	m, err := s.c.read(ctx)
	if err != nil {
		return InitializeResult{}, err
	}
	if m.Type != InitializeResponse {
		return InitializeResult{}, &NonFatalError{Code: ErrBadMessageType, Reason: fmt.Sprintf("expected InitializeResponse, got %d", m.Type)}
	}
	return InitializeResult{
		Major:          uint8(m.Parameter >> 24),
		Minor:          uint8(m.Parameter >> 16),
		SessionID:      uint16(m.Parameter),
		Overlapped:     m.ControlCode&overlapMode != 0,
		Encrypted:      m.ControlCode&encryptionMode != 0,
		InitialEncrypt: m.ControlCode&initialEncryption != 0,
	}, nil
}

// DeviceClearComplete sends the device-clear-complete message and
// resets the Message-ID sequence (Section 6.12, step 8).
func (s *SyncClient) DeviceClearComplete(ctx context.Context, featureBitmap uint8) (uint8, error) {
	if err := s.c.write(ctx, Message{Type: DeviceClearComplete, ControlCode: featureBitmap}); err != nil {
		return 0, err
	}
	m, err := s.c.read(ctx)
	if err != nil {
		return 0, err
	}
	s.resetMessageID()
	return m.ControlCode, nil
}

func (s *SyncClient) incrementMessageID() {
	s.rmt = 0
	s.previousMessageID = s.messageID
	s.messageID = (s.messageID + 2) & 0xFFFFFFFF
}

// MessageID is the id of the most recently completed Data/DataEnd/Trigger
// message (AsyncClient calls need this to correlate with the sync channel).
func (s *SyncClient) MessageID() uint32 { return s.previousMessageID }

// MessageIDReceived is the id of the most recent message received from
// the server.
func (s *SyncClient) MessageIDReceived() uint32 { return s.messageIDReceived }

// RMT reports whether a DataEnd (Response Message Terminator) has been
// received since this client last sent a Data/DataEnd/Trigger message;
// every send clears it.
func (s *SyncClient) RMT() uint8 { return s.rmt }

// Rendezvous reports which half, if any, of the Interrupted/
// AsyncInterrupted handshake this client is waiting to complete.
func (s *SyncClient) Rendezvous() rendezvousState { return s.rendezvous }

// Send writes data as a sequence of Data messages ending in DataEnd,
// chunked so no single message exceeds the negotiated server size.
func (s *SyncClient) Send(ctx context.Context, data []byte) (int, error) {
	if s.rendezvous == rendezvousAwaitingAsyncInterrupted {
		return 0, fmt.Errorf("hislip: cannot send, waiting for AsyncInterrupted")
	}
	maxChunk := int(s.c.maxServerSize) - headerSize
	if maxChunk <= 0 {
		maxChunk = 1
	}
	sent := 0
	remaining := len(data)
	for {
		var chunk []byte
		typ := Data
		if remaining <= maxChunk {
			chunk = data[sent : sent+remaining]
			typ = DataEnd
		} else {
			chunk = data[sent : sent+maxChunk]
		}
		if err := s.c.write(ctx, Message{Type: typ, ControlCode: s.rmt, Parameter: s.messageID, Payload: chunk}); err != nil {
			return sent, err
		}
		sent += len(chunk)
		remaining -= len(chunk)
		s.incrementMessageID()
		if typ == DataEnd {
			return sent, nil
		}
	}
}

// Trigger sends the Trigger message, emulating a GPIB Group Execute
// Trigger event.
func (s *SyncClient) Trigger(ctx context.Context) error {
	if err := s.c.write(ctx, Message{Type: Trigger, ControlCode: s.rmt, Parameter: s.messageID}); err != nil {
		return err
	}
	s.incrementMessageID()
	return nil
}

// Receive reads Data/DataEnd messages until a Response Message
// Terminator is seen (or size bytes have been read, if size > 0),
// applying the Interrupted/AsyncInterrupted rendezvous rules of
// Section 3.1.2. maxSize, if > 0, bounds the accumulated payload; a
// message that would exceed it is a FatalError.
func (s *SyncClient) Receive(ctx context.Context, size int, maxSize int64) ([]byte, error) {
	deadline, hasDeadline := ctx.Deadline()

	var (
		done bool
		data []byte
	)
	for {
		if hasDeadline && time.Now().After(deadline) {
			return nil, &FatalError{Reason: "receive timed out"}
		}
		m, err := s.c.read(ctx)
		if err != nil {
			return nil, err
		}

		switch m.Type {
		case DataEnd, Data:
			if s.rendezvous == rendezvousAwaitingInterrupted {
				continue
			}
			s.messageIDReceived = m.Parameter
			validID := m.Parameter == s.previousMessageID
			if m.Type == Data {
				validID = validID || m.Parameter == 0xFFFFFFFF
			}
			if !validID {
				data = data[:0]
				continue
			}
			if m.Type == DataEnd {
				s.rmt = 1
				done = true
			}

		case AsyncInterrupted:
			data = data[:0]
			if s.rendezvous == rendezvousAwaitingAsyncInterrupted {
				s.rendezvous = rendezvousNormal
			} else {
				s.rendezvous = rendezvousAwaitingInterrupted
			}
			continue

		case Interrupted:
			data = data[:0]
			if s.rendezvous == rendezvousAwaitingInterrupted {
				s.rendezvous = rendezvousNormal
			} else {
				s.rendezvous = rendezvousAwaitingAsyncInterrupted
			}
			continue

		default:
			continue
		}

		data = append(data, m.Payload...)
		if maxSize > 0 && int64(len(data)) > maxSize {
			return nil, &FatalError{Reason: fmt.Sprintf("len(message) [%d] > max_read_size [%d]", len(data), maxSize)}
		}
		if size > 0 && len(data) >= size {
			return data[:size], nil
		}
		if done {
			return data, nil
		}
	}
}

// Close closes the synchronous channel's socket.
func (s *SyncClient) Close() error { return s.c.close() }
