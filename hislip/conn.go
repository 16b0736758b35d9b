package hislip

import (
	"context"
	"errors"
	"net"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// conn is the per-channel socket plumbing shared by SyncClient and
// AsyncClient: write a Message, checking it against the negotiated
// server size limit, and read one back honoring ctx's deadline.
type conn struct {
	nc            net.Conn
	maxServerSize int64
}

func newConn(nc net.Conn) *conn {
	return &conn{nc: nc, maxServerSize: 1 << 20} // VI_ATTR_TCPIP_HISLIP_MAX_MESSAGE_KB default, 1 MiB
}

func (c *conn) setDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(dl)
		return
	}
	_ = c.nc.SetDeadline(time.Time{})
}

func (c *conn) write(ctx context.Context, m Message) error {
	const op = "hislip.conn.write"
	if m.size() > c.maxServerSize {
		return &NonFatalError{Code: ErrMessageTooLarge}
	}
	if c.nc == nil {
		return &FatalError{Code: ErrChannelsInactivated, Reason: "connection already closed"}
	}
	c.setDeadline(ctx)
	if _, err := c.nc.Write(m.pack()); err != nil {
		if isTimeout(err) {
			return labwire.NewError(labwire.KindTimeout, op, err)
		}
		return labwire.NewError(labwire.KindConnection, op, err)
	}
	return nil
}

func (c *conn) read(ctx context.Context) (Message, error) {
	c.setDeadline(ctx)
	return readMessage(c.nc, c.maxServerSize)
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (c *conn) close() error {
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	return err
}
