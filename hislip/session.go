package hislip

import (
	"context"
	"fmt"
	"net"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// DefaultPort is the well-known HiSLIP TCP port (Section 4.1).
const DefaultPort = 4880

// SessionOptions configures Connect.
type SessionOptions struct {
	Port       int // defaults to DefaultPort
	SubAddress string
	ClientID   [2]byte // defaults to "GO"
	Logger     labwire.Logger
}

// Session bundles a HiSLIP synchronous and asynchronous channel into
// the single logical connection spec.md's higher-level operations
// (write, read, clear, trigger, lock, read_stb, remote/local control)
// are defined against. It always negotiates and drives the synchronous
// (non-overlapped) subset of the protocol.
type Session struct {
	sync  *SyncClient
	async *AsyncClient
	log   labwire.Logger

	sessionID  uint16
	overlapped bool
}

// Connect dials both HiSLIP channels, completes the Initialize/
// AsyncInitialize/AsyncMaximumMessageSize handshake (Section 6.1), and
// refuses a server that demands encryption (no-encryption non-goal).
func Connect(ctx context.Context, host string, opts SessionOptions) (*Session, error) {
	const op = "hislip.Connect"
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	clientID := opts.ClientID
	if clientID == ([2]byte{}) {
		clientID = [2]byte{'G', 'O'}
	}

	var d net.Dialer
	syncConn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	sync := NewSyncClient(syncConn)

	initResult, err := sync.Initialize(ctx, 2, 0, clientID, opts.SubAddress)
	if err != nil {
		sync.Close()
		return nil, err
	}
	if initResult.Encrypted || initResult.InitialEncrypt {
		sync.Close()
		return nil, &FatalError{Reason: "server requires encryption, which this client does not support"}
	}

	asyncConn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		sync.Close()
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	async := NewAsyncClient(asyncConn)

	if _, _, err := async.Initialize(ctx, initResult.SessionID); err != nil {
		sync.Close()
		async.Close()
		return nil, err
	}
	if _, err := async.MaximumMessageSize(ctx, 1<<20, sync); err != nil {
		sync.Close()
		async.Close()
		return nil, err
	}

	s := &Session{
		sync:       sync,
		async:      async,
		log:        opts.Logger,
		sessionID:  initResult.SessionID,
		overlapped: initResult.Overlapped,
	}
	labwire.Debugf(s.log, "hislip: session %d established overlapped=%v", s.sessionID, s.overlapped)
	return s, nil
}

// Overlapped reports whether the server granted overlapped mode rather
// than the synchronous mode this client drives.
func (s *Session) Overlapped() bool { return s.overlapped }

// Write sends data to the instrument.
func (s *Session) Write(ctx context.Context, data []byte) (int, error) {
	n, err := s.sync.Send(ctx, data)
	return n, s.recoverFatal(ctx, err)
}

// Read reads a complete response. size, if > 0, caps how many bytes are
// returned; maxSize, if > 0, is a hard ceiling that faults the
// connection if exceeded.
func (s *Session) Read(ctx context.Context, size int, maxSize int64) ([]byte, error) {
	data, err := s.sync.Receive(ctx, size, maxSize)
	return data, s.recoverFatal(ctx, err)
}

// recoverFatal implements Section 6.2's synchronization recovery: a
// fatal condition this client detected locally (as opposed to one
// reported by the server) is reported back to the server with a
// FatalError message before both channels are torn down.
func (s *Session) recoverFatal(ctx context.Context, err error) error {
	fe, ok := err.(*FatalError)
	if !ok || fe.FromPeer {
		if ok {
			s.Close()
		}
		return err
	}
	_ = s.sync.c.write(ctx, Message{Type: FatalErrorType, ControlCode: uint8(fe.Code), Payload: fe.payload()})
	s.Close()
	return fe
}

// Trigger issues a group execute trigger.
func (s *Session) Trigger(ctx context.Context) error {
	return s.sync.Trigger(ctx)
}

// DeviceClear performs the full device clear transaction (Section
// 6.12): an asynchronous clear request followed by the synchronous
// acknowledgement that resets the Message-ID sequence.
func (s *Session) DeviceClear(ctx context.Context) error {
	featureBitmap, err := s.async.DeviceClear(ctx)
	if err != nil {
		return err
	}
	_, err = s.sync.DeviceClearComplete(ctx, featureBitmap)
	return err
}

// ReadSTB reads the device's status byte (VISA viReadSTB equivalent).
func (s *Session) ReadSTB(ctx context.Context) (uint8, error) {
	return s.async.StatusQuery(ctx, s.sync)
}

// RemoteLocalControl issues a GPIB-like remote/local control request.
func (s *Session) RemoteLocalControl(ctx context.Context, request RemoteLocalRequest) error {
	return s.async.RemoteLocalControl(ctx, request, s.sync.MessageID())
}

// Lock requests the device's lock, waiting up to timeout (<=0 waits
// forever). An empty lockString requests an exclusive lock.
func (s *Session) Lock(ctx context.Context, timeout time.Duration, lockString string) (LockResult, error) {
	return s.async.LockRequest(ctx, timeout, lockString)
}

// Unlock releases a lock acquired by Lock.
func (s *Session) Unlock(ctx context.Context) (LockResult, error) {
	return s.async.LockRelease(ctx, s.sync.MessageID())
}

// LockInfo reports the server's current lock status.
func (s *Session) LockInfo(ctx context.Context) (exclusive bool, numLocks uint32, err error) {
	return s.async.LockInfo(ctx)
}

// Close closes both channels. Safe to call more than once.
func (s *Session) Close() error {
	err1 := s.sync.Close()
	err2 := s.async.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
