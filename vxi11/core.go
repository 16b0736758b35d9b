package vxi11

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/scopelab/labwire/rpc"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// CoreClient calls the VXI-11 Device-Core program (0x0607AF). It is a
// thin, one-procedure-per-method wrapper: chunking, timeout budgeting,
// and link bookkeeping live one layer up in Session.
type CoreClient struct{ program }

// NewCoreClient wraps an already-connected rpc.Client for Device-Core.
func NewCoreClient(c *rpc.Client) *CoreClient {
	return &CoreClient{program{rpc: c, prog: ProgramCore}}
}

func (c *CoreClient) init(proc uint32) { c.rpc.Init(c.prog, programVersion, proc) }

// CreateLink establishes a link to device (e.g. "inst0", "gpib0,10"),
// optionally attempting to lock it, and returns the link id, the
// Device-Async program's port, and the server's advertised
// max_recv_size.
func (c *CoreClient) CreateLink(ctx context.Context, device string, lockDevice bool, lockTimeoutMS int32, clientID int32) (lid int32, abortPort uint32, maxRecvSize uint32, err error) {
	const op = "vxi11.CoreClient.CreateLink"
	c.init(procCreateLink)
	c.rpc.Append(packI32s(clientID, boolToI32(lockDevice), lockTimeoutMS))
	c.rpc.PackString(device)
	if err := c.rpc.Write(ctx); err != nil {
		return 0, 0, 0, err
	}
	reply, err := c.readReply(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(reply) < 12 {
		return 0, 0, 0, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("vxi11: short create_link reply"))
	}
	lid = int32(binary.BigEndian.Uint32(reply[0:4]))
	abortPort = binary.BigEndian.Uint32(reply[4:8])
	maxRecvSize = binary.BigEndian.Uint32(reply[8:12])
	return lid, abortPort, maxRecvSize, nil
}

// DeviceWrite performs one Device-Core device_write call; the caller is
// responsible for chunking at max_recv_size and setting FlagEnd on the
// final chunk (Session.DeviceWrite does this).
func (c *CoreClient) DeviceWrite(ctx context.Context, lid int32, ioTimeoutMS, lockTimeoutMS int32, flags OperationFlag, data []byte) (int, error) {
	const op = "vxi11.CoreClient.DeviceWrite"
	c.init(procDeviceWrite)
	c.rpc.Append(packI32s(lid, ioTimeoutMS, lockTimeoutMS, int32(flags)))
	c.rpc.AppendOpaque(data)
	if err := c.rpc.Write(ctx); err != nil {
		return 0, err
	}
	reply, err := c.readReply(ctx)
	if err != nil {
		return 0, err
	}
	if len(reply) < 4 {
		return 0, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("vxi11: short device_write reply"))
	}
	return int(binary.BigEndian.Uint32(reply[:4])), nil
}

// DeviceRead performs one Device-Core device_read call and returns the
// completion reason bits and the bytes received.
func (c *CoreClient) DeviceRead(ctx context.Context, lid int32, requestSize int32, ioTimeoutMS, lockTimeoutMS int32, flags OperationFlag, termChar int32) (reason uint32, data []byte, err error) {
	const op = "vxi11.CoreClient.DeviceRead"
	c.init(procDeviceRead)
	c.rpc.Append(packI32s(lid, requestSize, ioTimeoutMS, lockTimeoutMS, int32(flags), termChar))
	if err := c.rpc.Write(ctx); err != nil {
		return 0, nil, err
	}
	reply, err := c.readReply(ctx)
	if err != nil {
		return 0, nil, err
	}
	if len(reply) < 4 {
		return 0, nil, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("vxi11: short device_read reply"))
	}
	reason = binary.BigEndian.Uint32(reply[:4])
	data = unpackOpaque(reply[4:])
	return reason, data, nil
}

// DeviceReadSTB reads the device's status byte.
func (c *CoreClient) DeviceReadSTB(ctx context.Context, lid int32, flags OperationFlag, lockTimeoutMS, ioTimeoutMS int32) (byte, error) {
	const op = "vxi11.CoreClient.DeviceReadSTB"
	c.init(procDeviceReadSTB)
	c.rpc.Append(packI32s(lid, int32(flags), lockTimeoutMS, ioTimeoutMS))
	if err := c.rpc.Write(ctx); err != nil {
		return 0, err
	}
	reply, err := c.readReply(ctx)
	if err != nil {
		return 0, err
	}
	if len(reply) < 4 {
		return 0, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("vxi11: short device_readstb reply"))
	}
	return byte(binary.BigEndian.Uint32(reply[:4])), nil
}

func (c *CoreClient) simple4l(ctx context.Context, proc uint32, lid int32, flags OperationFlag, lockTimeoutMS, ioTimeoutMS int32) error {
	c.init(proc)
	c.rpc.Append(packI32s(lid, int32(flags), lockTimeoutMS, ioTimeoutMS))
	if err := c.rpc.Write(ctx); err != nil {
		return err
	}
	_, err := c.readReply(ctx)
	return err
}

// DeviceTrigger sends a trigger to the device.
func (c *CoreClient) DeviceTrigger(ctx context.Context, lid int32, flags OperationFlag, lockTimeoutMS, ioTimeoutMS int32) error {
	return c.simple4l(ctx, procDeviceTrigger, lid, flags, lockTimeoutMS, ioTimeoutMS)
}

// DeviceClear issues the clear command.
func (c *CoreClient) DeviceClear(ctx context.Context, lid int32, flags OperationFlag, lockTimeoutMS, ioTimeoutMS int32) error {
	return c.simple4l(ctx, procDeviceClear, lid, flags, lockTimeoutMS, ioTimeoutMS)
}

// DeviceRemote places the device under remote control.
func (c *CoreClient) DeviceRemote(ctx context.Context, lid int32, flags OperationFlag, lockTimeoutMS, ioTimeoutMS int32) error {
	return c.simple4l(ctx, procDeviceRemote, lid, flags, lockTimeoutMS, ioTimeoutMS)
}

// DeviceLocal returns the device to local control.
func (c *CoreClient) DeviceLocal(ctx context.Context, lid int32, flags OperationFlag, lockTimeoutMS, ioTimeoutMS int32) error {
	return c.simple4l(ctx, procDeviceLocal, lid, flags, lockTimeoutMS, ioTimeoutMS)
}

// DeviceLock acquires the device's lock.
func (c *CoreClient) DeviceLock(ctx context.Context, lid int32, flags OperationFlag, lockTimeoutMS int32) error {
	c.init(procDeviceLock)
	c.rpc.Append(packI32s(lid, int32(flags), lockTimeoutMS))
	if err := c.rpc.Write(ctx); err != nil {
		return err
	}
	_, err := c.readReply(ctx)
	return err
}

// DeviceUnlock releases a lock acquired by DeviceLock.
func (c *CoreClient) DeviceUnlock(ctx context.Context, lid int32) error {
	c.init(procDeviceUnlock)
	c.rpc.Append(packI32s(lid))
	if err := c.rpc.Write(ctx); err != nil {
		return err
	}
	_, err := c.readReply(ctx)
	return err
}

// DeviceEnableSRQ enables or disables device_intr_srq notifications.
func (c *CoreClient) DeviceEnableSRQ(ctx context.Context, lid int32, enable bool, handle []byte) error {
	const op = "vxi11.CoreClient.DeviceEnableSRQ"
	if len(handle) > 40 {
		return labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("vxi11: handle must be <= 40 bytes"))
	}
	c.init(procDeviceEnableSRQ)
	c.rpc.Append(packI32s(lid, boolToI32(enable)))
	c.rpc.AppendOpaque(handle)
	if err := c.rpc.Write(ctx); err != nil {
		return err
	}
	_, err := c.readReply(ctx)
	return err
}

// DeviceDocmd executes a vendor/VXI-11-defined out-of-band command.
func (c *CoreClient) DeviceDocmd(ctx context.Context, lid int32, flags OperationFlag, ioTimeoutMS, lockTimeoutMS, cmd int32, networkOrder bool, dataSize int32, dataIn []byte) ([]byte, error) {
	c.init(procDeviceDocmd)
	c.rpc.Append(packI32s(lid, int32(flags), ioTimeoutMS, lockTimeoutMS, cmd, boolToI32(networkOrder), dataSize))
	c.rpc.AppendOpaque(dataIn)
	if err := c.rpc.Write(ctx); err != nil {
		return nil, err
	}
	reply, err := c.readReply(ctx)
	if err != nil {
		return nil, err
	}
	return unpackOpaque(reply), nil
}

// DestroyLink tears down a link created with CreateLink.
func (c *CoreClient) DestroyLink(ctx context.Context, lid int32) error {
	c.init(procDestroyLink)
	c.rpc.Append(packI32s(lid))
	if err := c.rpc.Write(ctx); err != nil {
		return err
	}
	_, err := c.readReply(ctx)
	return err
}

// CreateIntrChan asks the server to open an interrupt channel back to
// the client; host_addr is a network-byte-order IPv4 address.
func (c *CoreClient) CreateIntrChan(ctx context.Context, hostAddr, hostPort, progNum, progVers, progFamily uint32) error {
	c.init(procCreateIntrChan)
	buf := make([]byte, 20)
	putU32(buf[0:], hostAddr)
	putU32(buf[4:], hostPort)
	putU32(buf[8:], progNum)
	putU32(buf[12:], progVers)
	putU32(buf[16:], progFamily)
	c.rpc.Append(buf)
	if err := c.rpc.Write(ctx); err != nil {
		return err
	}
	_, err := c.readReply(ctx)
	return err
}

// DestroyIntrChan closes a previously created interrupt channel.
func (c *CoreClient) DestroyIntrChan(ctx context.Context) error {
	c.init(procDestroyIntrChan)
	if err := c.rpc.Write(ctx); err != nil {
		return err
	}
	_, err := c.readReply(ctx)
	return err
}

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
