package transport

import (
	"context"
	"net"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Datagram is a UDP transport with its target bound at construction, so
// subsequent Read/Write calls look like a stream's sendto/recvfrom pair
// without repeating the address each time.
type Datagram struct {
	conn *net.UDPConn
}

// DialDatagram binds a UDP socket with addr as its connected peer.
func DialDatagram(ctx context.Context, addr string) (*Datagram, error) {
	const op = "transport.DialDatagram"
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, labwire.NewError(labwire.KindConnection, op, errNotUDP)
	}
	return &Datagram{conn: udpConn}, nil
}

var errNotUDP = &udpErr{"dialed connection is not a *net.UDPConn"}

type udpErr struct{ msg string }

func (e *udpErr) Error() string { return e.msg }

func (d *Datagram) Read(p []byte) (int, error)  { return d.conn.Read(p) }
func (d *Datagram) Write(p []byte) (int, error) { return d.conn.Write(p) }

func (d *Datagram) SetReadDeadline(t time.Time) error {
	return d.conn.SetReadDeadline(t)
}

func (d *Datagram) Close() error { return d.conn.Close() }
