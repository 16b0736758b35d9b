// Package transport provides the three unambiguous byte-transport
// variants from SPEC_FULL.md §4.I: a TCP stream, a UDP datagram, and a
// serial byte stream, each satisfying message.Conn so the shared
// read/write state machine in package message can drive any of them.
//
// Stream and Datagram are grounded on the reference TNC's kissnet.go
// (TCP accept/dial handling); Serial is grounded on its serial_port.go
// (github.com/pkg/term usage), enriched with golang.org/x/sys/unix
// termios control on Linux for the parity/data-bits/stop-bits/flow-
// control fields pkg/term's portable surface doesn't reach.
package transport

import (
	"context"
	"net"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Stream is a blocking TCP byte stream: sendall/recv semantics, with a
// configurable socket timeout. It implements message.Conn.
type Stream struct {
	conn net.Conn
}

// DialStream opens a TCP connection to addr ("host:port"), honoring ctx
// for the connect itself.
func DialStream(ctx context.Context, addr string) (*Stream, error) {
	const op = "transport.DialStream"
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	return &Stream{conn: conn}, nil
}

func (s *Stream) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.conn.Write(p) }

func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetDeadline sets both read and write deadlines, matching a blocking
// socket's single timeout knob.
func (s *Stream) SetDeadline(t time.Time) error { return s.conn.SetDeadline(t) }

func (s *Stream) Close() error { return s.conn.Close() }

func (s *Stream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
