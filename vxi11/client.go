package vxi11

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/scopelab/labwire/rpc"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// program is shared plumbing for CoreClient and AsyncClient: both speak
// VXI-11 v1 over an rpc.Client and both prefix every reply with an
// ErrorCode, mirroring VXIClient.read_reply in the original source.
type program struct {
	rpc  *rpc.Client
	prog uint32
}

// readReply reads one RPC reply, splits off the leading ErrorCode, and
// returns the remaining procedure-specific bytes. A non-zero ErrorCode
// is surfaced as a *labwire.Error wrapping the ErrorCode so callers can
// still errors.As into vxi11.ErrorCode.
func (p *program) readReply(ctx context.Context) ([]byte, error) {
	const op = "vxi11.readReply"
	payload, err := p.rpc.Read(ctx)
	if err != nil {
		return nil, err
	}
	if len(payload) < 4 {
		return nil, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("vxi11: short reply (%d bytes)", len(payload)))
	}
	code := ErrorCode(binary.BigEndian.Uint32(payload[:4]))
	if !code.OK() {
		if code == 15 {
			return nil, labwire.NewError(labwire.KindTimeout, op, code)
		}
		return nil, labwire.NewError(labwire.KindProtocol, op, code)
	}
	return payload[4:], nil
}

func putI32(dst []byte, v int32)  { binary.BigEndian.PutUint32(dst, uint32(v)) }
func putU32(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }

func packI32s(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		putI32(out[i*4:], v)
	}
	return out
}

func unpackOpaque(data []byte) []byte {
	if len(data) < 4 {
		return nil
	}
	n := binary.BigEndian.Uint32(data[:4])
	if int(n) > len(data)-4 {
		n = uint32(len(data) - 4)
	}
	return data[4 : 4+n]
}
