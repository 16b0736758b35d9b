package modbus

import (
	"context"
	"sync"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Client is a Modbus master limited to the function codes this spec
// needs: read input registers, write a single coil or register, and
// write multiple coils or registers. It serializes requests with a
// mutex the way TCPClient in other_examples/7594cd8c_pascaldekloe-modbus__tcp.go.go
// documents doing implicitly (one request/response pair at a time per
// connection), made explicit here since Framer itself makes no such
// promise.
type Client struct {
	framer Framer
	log    labwire.Logger

	mu sync.Mutex
}

// NewClient wraps framer in a Client.
func NewClient(framer Framer, logger labwire.Logger) *Client {
	return &Client{framer: framer, log: logger}
}

// ReadInputRegisters reads quantity input registers starting at
// startAddr (function code 0x04).
func (c *Client) ReadInputRegisters(ctx context.Context, unitID byte, startAddr, quantity uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	labwire.Debugf(c.log, "modbus: unit %d read input registers %d..%d", unitID, startAddr, startAddr+quantity-1)
	resp, err := c.framer.Transact(ctx, unitID, encodeReadInputRegisters(startAddr, quantity))
	if err != nil {
		return nil, err
	}
	return decodeReadInputRegisters(resp, quantity)
}

// WriteSingleCoil sets the coil at addr on or off (function code 0x05).
func (c *Client) WriteSingleCoil(ctx context.Context, unitID byte, addr uint16, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := encodeWriteSingleCoil(addr, on)
	resp, err := c.framer.Transact(ctx, unitID, req)
	if err != nil {
		return err
	}
	return checkWriteSingleEcho(resp, req, funcWriteSingleCoil)
}

// WriteSingleRegister sets the holding register at addr (function code
// 0x06).
func (c *Client) WriteSingleRegister(ctx context.Context, unitID byte, addr, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := encodeWriteSingleRegister(addr, value)
	resp, err := c.framer.Transact(ctx, unitID, req)
	if err != nil {
		return err
	}
	return checkWriteSingleEcho(resp, req, funcWriteSingleRegister)
}

// WriteMultipleCoils sets consecutive coils starting at startAddr
// (function code 0x0F). len(values) must not exceed MaxCoilsPerWrite.
func (c *Client) WriteMultipleCoils(ctx context.Context, unitID byte, startAddr uint16, values []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := encodeWriteMultipleCoils(startAddr, values)
	if err != nil {
		return err
	}
	resp, err := c.framer.Transact(ctx, unitID, req)
	if err != nil {
		return err
	}
	return checkWriteMultipleEcho(resp, funcWriteMultipleCoils, startAddr, uint16(len(values)))
}

// WriteMultipleRegisters sets consecutive holding registers starting at
// startAddr (function code 0x10). len(values) must not exceed
// MaxRegistersPerWrite.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID byte, startAddr uint16, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := encodeWriteMultipleRegisters(startAddr, values)
	if err != nil {
		return err
	}
	resp, err := c.framer.Transact(ctx, unitID, req)
	if err != nil {
		return err
	}
	return checkWriteMultipleEcho(resp, funcWriteMultipleRegisters, startAddr, uint16(len(values)))
}
