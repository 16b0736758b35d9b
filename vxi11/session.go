package vxi11

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/scopelab/labwire/rpc"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Options configures Connect.
type Options struct {
	// CorePort, if non-zero, skips the port-mapper GETPORT lookup and
	// dials this port directly (used by tests and by callers that
	// already know the server's fixed Device-Core port).
	CorePort int
	// Device is the logical device name, e.g. "inst0" or "gpib0,10".
	Device string
	// LockDevice requests an exclusive lock as part of CREATE_LINK.
	LockDevice bool
	// LockTimeout bounds how long CREATE_LINK waits to acquire the lock.
	LockTimeout time.Duration
	Logger      labwire.Logger
}

// Session is a VXI-11 Device-Core link plus a lazily-opened Device-Async
// client for Abort, bundling the chunking and timeout-budgeting rules
// spec.md §4.C requires on top of the one-procedure-per-call CoreClient.
type Session struct {
	conn        net.Conn
	core        *CoreClient
	lid         int32
	abortPort   uint32
	maxRecvSize uint32
	host        string
	log         labwire.Logger

	asyncConn *net.TCPConn
	async     *AsyncClient
}

// Connect resolves the Device-Core port (via the port-mapper, unless
// Options.CorePort is set), opens the TCP connection, and issues
// CREATE_LINK.
func Connect(ctx context.Context, host string, opts Options) (*Session, error) {
	const op = "vxi11.Connect"

	port := opts.CorePort
	if port == 0 {
		p, err := rpc.GetPort(ctx, host, 0, ProgramCore, programVersion, rpc.IPProtoTCP)
		if err != nil {
			return nil, err
		}
		if p == 0 {
			return nil, labwire.NewError(labwire.KindConnection, op, fmt.Errorf("vxi11: port-mapper has no Device-Core mapping for %s", host))
		}
		port = int(p)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}

	s := &Session{
		conn: conn,
		core: NewCoreClient(rpc.NewClient(conn)),
		host: host,
		log:  opts.Logger,
	}

	device := opts.Device
	if device == "" {
		device = "inst0"
	}
	lockTimeoutMS := int32(opts.LockTimeout / time.Millisecond)
	clientID := int32(rand.Int31() & 0x7fffffff) //nolint:gosec // not security sensitive, just a link-id nonce

	lid, abortPort, maxRecvSize, err := s.core.CreateLink(ctx, device, opts.LockDevice, lockTimeoutMS, clientID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if maxRecvSize == 0 || maxRecvSize > maxRecvSizeCeiling {
		maxRecvSize = maxRecvSizeCeiling
	}
	s.lid = lid
	s.abortPort = abortPort
	s.maxRecvSize = maxRecvSize
	labwire.Debugf(s.log, "vxi11: link established lid=%d abort_port=%d max_recv_size=%d", lid, abortPort, maxRecvSize)
	return s, nil
}

// LinkID returns the id CREATE_LINK assigned this session.
func (s *Session) LinkID() int32 { return s.lid }

// DeviceWrite splits data into at most max_recv_size chunks, setting
// FlagEnd on the final one. A short write on any chunk is a protocol
// error: the server accepted fewer bytes than offered.
func (s *Session) DeviceWrite(ctx context.Context, data []byte, ioTimeout, lockTimeout time.Duration) (int, error) {
	const op = "vxi11.Session.DeviceWrite"
	ioTimeoutMS := int32(ioTimeout / time.Millisecond)
	lockTimeoutMS := int32(lockTimeout / time.Millisecond)

	total := 0
	chunkSize := int(s.maxRecvSize)
	if chunkSize <= 0 {
		chunkSize = maxRecvSizeCeiling
	}

	offset := 0
	for {
		end := offset + chunkSize
		last := end >= len(data)
		if last {
			end = len(data)
		}
		chunk := data[offset:end]

		flags := FlagNull
		if last {
			flags = FlagEnd
		}
		n, err := s.core.DeviceWrite(ctx, s.lid, ioTimeoutMS, lockTimeoutMS, flags, chunk)
		if err != nil {
			return total, err
		}
		if n < len(chunk) {
			return total + n, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("vxi11: short device_write: wrote %d of %d bytes", n, len(chunk)))
		}
		total += n
		offset = end
		if last {
			return total, nil
		}
	}
}

// DeviceRead reads until size bytes have accumulated (size <= 0 means
// "read until END/CHR"), the reply's reason includes END or CHR, or the
// overall ioTimeout elapses. The timeout is decremented after each
// chunk so the total call time honors the caller's budget.
func (s *Session) DeviceRead(ctx context.Context, size int, ioTimeout, lockTimeout time.Duration, termChar *byte) ([]byte, error) {
	const op = "vxi11.Session.DeviceRead"
	lockTimeoutMS := int32(lockTimeout / time.Millisecond)

	flags := FlagNull
	var termCharArg int32
	if termChar != nil {
		flags |= FlagTermCharSet
		termCharArg = int32(*termChar)
	}

	deadline := time.Now().Add(ioTimeout)
	var out []byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return out, labwire.NewError(labwire.KindTimeout, op, fmt.Errorf("vxi11: device_read exceeded io_timeout"))
		}
		requestSize := int32(s.maxRecvSize)
		if size > 0 {
			want := size - len(out)
			if want <= 0 {
				return out, nil
			}
			if int32(want) < requestSize {
				requestSize = int32(want)
			}
		}

		reason, data, err := s.core.DeviceRead(ctx, s.lid, requestSize, int32(remaining/time.Millisecond), lockTimeoutMS, flags, termCharArg)
		if err != nil {
			return out, err
		}
		out = append(out, data...)

		if reason&(ReasonEND|ReasonCHR) != 0 {
			return out, nil
		}
		if size > 0 && len(out) >= size {
			return out, nil
		}
	}
}

// DeviceReadSTB reads the device's status byte.
func (s *Session) DeviceReadSTB(ctx context.Context, ioTimeout, lockTimeout time.Duration) (byte, error) {
	return s.core.DeviceReadSTB(ctx, s.lid, FlagNull, int32(lockTimeout/time.Millisecond), int32(ioTimeout/time.Millisecond))
}

// DeviceTrigger issues a group execute trigger.
func (s *Session) DeviceTrigger(ctx context.Context, ioTimeout, lockTimeout time.Duration) error {
	return s.core.DeviceTrigger(ctx, s.lid, FlagNull, int32(lockTimeout/time.Millisecond), int32(ioTimeout/time.Millisecond))
}

// DeviceClear issues the device clear command.
func (s *Session) DeviceClear(ctx context.Context, ioTimeout, lockTimeout time.Duration) error {
	return s.core.DeviceClear(ctx, s.lid, FlagNull, int32(lockTimeout/time.Millisecond), int32(ioTimeout/time.Millisecond))
}

// DeviceRemote places the device under remote control.
func (s *Session) DeviceRemote(ctx context.Context, ioTimeout, lockTimeout time.Duration) error {
	return s.core.DeviceRemote(ctx, s.lid, FlagNull, int32(lockTimeout/time.Millisecond), int32(ioTimeout/time.Millisecond))
}

// DeviceLocal returns the device to local control.
func (s *Session) DeviceLocal(ctx context.Context, ioTimeout, lockTimeout time.Duration) error {
	return s.core.DeviceLocal(ctx, s.lid, FlagNull, int32(lockTimeout/time.Millisecond), int32(ioTimeout/time.Millisecond))
}

// Lock acquires the device's lock, waiting up to lockTimeout.
func (s *Session) Lock(ctx context.Context, waitLock bool, lockTimeout time.Duration) error {
	flags := FlagNull
	if waitLock {
		flags = FlagWaitlock
	}
	return s.core.DeviceLock(ctx, s.lid, flags, int32(lockTimeout/time.Millisecond))
}

// Unlock releases a lock acquired by Lock.
func (s *Session) Unlock(ctx context.Context) error {
	return s.core.DeviceUnlock(ctx, s.lid)
}

// EnableSRQ enables or disables device_intr_srq notifications.
func (s *Session) EnableSRQ(ctx context.Context, enable bool, handle []byte) error {
	return s.core.DeviceEnableSRQ(ctx, s.lid, enable, handle)
}

// DocCmd executes a vendor/VXI-11-defined out-of-band command.
func (s *Session) DocCmd(ctx context.Context, cmd int32, networkOrder bool, dataSize int32, dataIn []byte, ioTimeout, lockTimeout time.Duration) ([]byte, error) {
	return s.core.DeviceDocmd(ctx, s.lid, FlagNull, int32(ioTimeout/time.Millisecond), int32(lockTimeout/time.Millisecond), cmd, networkOrder, dataSize, dataIn)
}

// Abort stops an in-progress call by lazily dialing the Device-Async
// port returned by CREATE_LINK and issuing DEVICE_ABORT.
func (s *Session) Abort(ctx context.Context) error {
	const op = "vxi11.Session.Abort"
	if s.async == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.host, fmt.Sprintf("%d", s.abortPort)))
		if err != nil {
			return labwire.NewError(labwire.KindConnection, op, err)
		}
		tcpConn, _ := conn.(*net.TCPConn)
		s.asyncConn = tcpConn
		s.async = NewAsyncClient(rpc.NewClient(conn))
	}
	return s.async.DeviceAbort(ctx, s.lid)
}

// Close destroys the link and closes every socket this session opened.
// It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	var err error
	if s.conn != nil {
		err = s.core.DestroyLink(ctx, s.lid)
		s.conn.Close()
		s.conn = nil
	}
	if s.asyncConn != nil {
		s.asyncConn.Close()
		s.asyncConn = nil
	}
	return err
}
