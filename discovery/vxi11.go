package discovery

import (
	"context"
	"fmt"

	"github.com/scopelab/labwire/rpc"
	"github.com/scopelab/labwire/vxi11"
)

// ipProtoTCP is IPPROTO_TCP, the protocol portmapper's GETPORT call
// asks about.
const ipProtoTCP = 6

// ProbeVXI11 asks host's portmapper (RFC 1057, port 111) whether it
// exports the VXI-11 Core program over TCP, and if so returns the
// resource address a client should dial. This is the "VXI-11
// Discovery and Identification Extended Function" fallback for
// networks or devices that don't answer mDNS.
func ProbeVXI11(ctx context.Context, host string) (string, bool, error) {
	port, err := rpc.GetPort(ctx, host, 111, vxi11.ProgramCore, 1, ipProtoTCP)
	if err != nil {
		return "", false, err
	}
	if port == 0 {
		return "", false, nil
	}
	if port == 111 {
		return fmt.Sprintf("TCPIP::%s::inst0::INSTR", host), true, nil
	}
	return fmt.Sprintf("TCPIP::%s::inst0,%d::INSTR", host, port), true, nil
}
