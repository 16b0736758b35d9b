package vxi11

import (
	"context"

	"github.com/scopelab/labwire/rpc"
)

// AsyncClient calls the VXI-11 Device-Async program (0x0607B0). In
// practice it has exactly one caller-facing procedure: aborting an
// in-progress call on the core link.
type AsyncClient struct{ program }

// NewAsyncClient wraps an already-connected rpc.Client for Device-Async.
func NewAsyncClient(c *rpc.Client) *AsyncClient {
	return &AsyncClient{program{rpc: c, prog: ProgramAsync}}
}

// DeviceAbort stops an in-progress call on lid.
func (a *AsyncClient) DeviceAbort(ctx context.Context, lid int32) error {
	a.rpc.Init(a.prog, programVersion, procDeviceAbort)
	a.rpc.Append(packI32s(lid))
	if err := a.rpc.Write(ctx); err != nil {
		return err
	}
	_, err := a.readReply(ctx)
	return err
}
