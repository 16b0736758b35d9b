package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Port-mapper program constants (RFC 1833).
const (
	PortmapperProgram uint32 = 100000
	PortmapperVersion uint32 = 2
	pmapprocGetPort   uint32 = 3
)

// IP protocol numbers as carried in the port-mapper GETPORT arguments.
const (
	IPProtoTCP uint32 = 6
	IPProtoUDP uint32 = 17
)

// GetPort dials the port-mapper at host:111 (or host:port if port is
// non-zero, for tests run against a loopback stand-in), performs
// PMAPPROC_GETPORT for (prog, vers, proto), and returns the assigned
// port. 0 signals the service is not registered.
func GetPort(ctx context.Context, host string, port int, prog, vers, proto uint32) (uint32, error) {
	const op = "rpc.GetPort"
	if port == 0 {
		port = 111
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, labwire.NewError(labwire.KindConnection, op, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	c := NewClient(conn)
	c.Init(PortmapperProgram, PortmapperVersion, pmapprocGetPort)
	c.Append(u32Bytes(prog))
	c.Append(u32Bytes(vers))
	c.Append(u32Bytes(proto))
	c.Append(u32Bytes(0)) // port argument is ignored by GETPORT, always 0

	if err := c.Write(ctx); err != nil {
		return 0, err
	}
	payload, err := c.Read(ctx)
	if err != nil {
		return 0, err
	}
	if len(payload) < 4 {
		return 0, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("rpc: short GETPORT reply (%d bytes)", len(payload)))
	}
	return beUint32(payload), nil
}

func u32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
