package hislip

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// RemoteLocalRequest is the GPIB-like remote/local control request sent
// with AsyncRemoteLocalControl, Table in Section 6.9.
type RemoteLocalRequest uint8

const (
	RenDeassert         RemoteLocalRequest = 0
	RenAssert           RemoteLocalRequest = 1
	RenDeassertGTL      RemoteLocalRequest = 2
	RenAssertAddress    RemoteLocalRequest = 3
	RenAssertLLO        RemoteLocalRequest = 4
	RenAssertAddressLLO RemoteLocalRequest = 5
	RenAddressGTL       RemoteLocalRequest = 6
)

// LockResult decodes AsyncLockResponse's control code, Tables 19/20.
type LockResult uint8

const (
	LockFailed        LockResult = 0
	LockSuccess       LockResult = 1
	LockSharedRelease LockResult = 2
	LockError         LockResult = 3
)

func (r LockResult) Granted() bool { return r == LockSuccess || r == LockSharedRelease }

// oneDay is used as the "wait forever" lock timeout sentinel, matching
// the reference client's ONE_DAY constant.
const oneDay = 24 * time.Hour

// AsyncClient is the asynchronous HiSLIP channel: initialization,
// locking, remote/local control, device clear, status query, and the
// StartTLS/EndTLS handshake (refused as fatal; see errors.go and
// session.go). Grounded on AsyncClient in
// original_source/src/msl/equipment/interfaces/hislip.py.
type AsyncClient struct {
	c *conn
}

// NewAsyncClient wraps an already-dialed TCP connection as the
// asynchronous channel.
func NewAsyncClient(nc net.Conn) *AsyncClient { return &AsyncClient{c: newConn(nc)} }

// Initialize performs the asynchronous Initialize transaction, binding
// this channel to the synchronous channel's session id.
func (a *AsyncClient) Initialize(ctx context.Context, sessionID uint16) (secureConnectionSupported bool, serverVendorID uint16, err error) {
	if err := a.c.write(ctx, Message{Type: AsyncInitialize, Parameter: uint32(sessionID)}); err != nil {
		return false, 0, err
	}
	m, err := a.c.read(ctx)
	if err != nil {
		return false, 0, err
	}
	if m.Type != AsyncInitializeResponse {
		return false, 0, &NonFatalError{Code: ErrBadMessageType, Reason: fmt.Sprintf("expected AsyncInitializeResponse, got %d", m.Type)}
	}
	return m.ControlCode&1 != 0, uint16(m.Parameter), nil
}

// MaximumMessageSize exchanges the maximum message size each side
// accepts and records the server's answer for subsequent Send/write
// size checks on both channels.
func (a *AsyncClient) MaximumMessageSize(ctx context.Context, size uint64, sync *SyncClient) (uint64, error) {
	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], size)
	if err := a.c.write(ctx, Message{Type: AsyncMaximumMessageSize, Payload: payload[:]}); err != nil {
		return 0, err
	}
	m, err := a.c.read(ctx)
	if err != nil {
		return 0, err
	}
	if m.Type != AsyncMaximumMessageSizeResponse || len(m.Payload) < 8 {
		return 0, &NonFatalError{Code: ErrBadMessageType, Reason: "malformed AsyncMaximumMessageSizeResponse"}
	}
	serverSize := int64(binary.BigEndian.Uint64(m.Payload[:8]))
	sync.c.maxServerSize = serverSize
	a.c.maxServerSize = serverSize
	return uint64(serverSize), nil
}

// LockRequest asks for the lock; timeout <= 0 means wait forever. The
// socket deadline is widened to 10s beyond timeout since the server is
// allowed to take that long to answer (Section 6.5).
func (a *AsyncClient) LockRequest(ctx context.Context, timeout time.Duration, lockString string) (LockResult, error) {
	if len(lockString) > 256 {
		return 0, fmt.Errorf("hislip: lock_string longer than 256 characters")
	}
	if timeout <= 0 {
		timeout = oneDay
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	timeoutMS := uint32(timeout / time.Millisecond)
	if err := a.c.write(lockCtx, Message{Type: AsyncLock, ControlCode: 1, Parameter: timeoutMS, Payload: []byte(lockString)}); err != nil {
		return 0, err
	}
	m, err := a.c.read(lockCtx)
	if err != nil {
		return 0, err
	}
	return LockResult(m.ControlCode), nil
}

// LockRelease releases a previously granted lock. messageID is the
// synchronous channel's most recently completed Message-ID.
func (a *AsyncClient) LockRelease(ctx context.Context, messageID uint32) (LockResult, error) {
	if err := a.c.write(ctx, Message{Type: AsyncLock, Parameter: messageID}); err != nil {
		return 0, err
	}
	m, err := a.c.read(ctx)
	if err != nil {
		return 0, err
	}
	return LockResult(m.ControlCode), nil
}

// LockInfo reports whether an exclusive lock exists and how many
// clients hold a lock with the server.
func (a *AsyncClient) LockInfo(ctx context.Context) (exclusive bool, numLocks uint32, err error) {
	if err := a.c.write(ctx, Message{Type: AsyncLockInfo}); err != nil {
		return false, 0, err
	}
	m, err := a.c.read(ctx)
	if err != nil {
		return false, 0, err
	}
	return m.ControlCode == 1, m.Parameter, nil
}

// RemoteLocalControl issues a GPIB-like remote/local control request.
func (a *AsyncClient) RemoteLocalControl(ctx context.Context, request RemoteLocalRequest, messageID uint32) error {
	if err := a.c.write(ctx, Message{Type: AsyncRemoteLocalControl, ControlCode: uint8(request), Parameter: messageID}); err != nil {
		return err
	}
	_, err := a.c.read(ctx)
	return err
}

// DeviceClear sends the asynchronous device clear request and returns
// the server's preferred feature bitmap for the DeviceClearComplete
// that should follow on the synchronous channel.
func (a *AsyncClient) DeviceClear(ctx context.Context) (featureBitmap uint8, err error) {
	if err := a.c.write(ctx, Message{Type: AsyncDeviceClear}); err != nil {
		return 0, err
	}
	m, err := a.c.read(ctx)
	if err != nil {
		return 0, err
	}
	return m.ControlCode, nil
}

// StatusQuery requests the device's status byte, equivalent to a VISA
// viReadSTB.
func (a *AsyncClient) StatusQuery(ctx context.Context, sync *SyncClient) (uint8, error) {
	if err := a.c.write(ctx, Message{Type: AsyncStatusQuery, ControlCode: sync.RMT(), Parameter: sync.MessageID()}); err != nil {
		return 0, err
	}
	m, err := a.c.read(ctx)
	if err != nil {
		return 0, err
	}
	return m.ControlCode, nil
}

// Close closes the asynchronous channel's socket.
func (a *AsyncClient) Close() error { return a.c.close() }
