package modbus

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn is an in-memory io.ReadWriter fed by a scripted responder:
// each Write triggers the responder to compute and queue a response.
type pipeConn struct {
	respond func(frame []byte) []byte
	pending []byte
}

func (p *pipeConn) Write(b []byte) (int, error) {
	p.pending = append(p.pending, p.respond(b)...)
	return len(b), nil
}

func (p *pipeConn) Read(b []byte) (int, error) {
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func mbapResponse(req []byte, pdu []byte) []byte {
	out := make([]byte, mbapHeaderSize+len(pdu))
	copy(out[0:2], req[0:2]) // echo transaction id
	copy(out[2:4], req[2:4]) // echo protocol id (0)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(pdu)+1))
	out[6] = req[6] // echo unit id
	copy(out[7:], pdu)
	return out
}

func TestTCPFramer_TransactionIDIncrementsAndWraps(t *testing.T) {
	f := &TCPFramer{txn: 65534}
	assert.Equal(t, uint16(65535), f.nextTxnID())
	assert.Equal(t, uint16(1), f.nextTxnID()) // skips 0
	assert.Equal(t, uint16(2), f.nextTxnID())
}

func TestClient_ReadInputRegisters(t *testing.T) {
	conn := &pipeConn{respond: func(req []byte) []byte {
		pdu := []byte{funcReadInputRegisters, 4, 0, 10, 0, 20}
		return mbapResponse(req, pdu)
	}}
	client := NewClient(NewTCPFramer(conn), nil)

	regs, err := client.ReadInputRegisters(context.Background(), 1, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 20}, regs)
}

func TestClient_ReadInputRegisters_Exception(t *testing.T) {
	conn := &pipeConn{respond: func(req []byte) []byte {
		pdu := []byte{funcReadInputRegisters | errorFlag, byte(ExcIllegalDataAddress)}
		return mbapResponse(req, pdu)
	}}
	client := NewClient(NewTCPFramer(conn), nil)

	_, err := client.ReadInputRegisters(context.Background(), 1, 0, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ExcIllegalDataAddress)
}

func TestClient_WriteSingleCoil(t *testing.T) {
	var sawReq []byte
	conn := &pipeConn{respond: func(req []byte) []byte {
		sawReq = append([]byte{}, req...)
		return req // echoed frame, including MBAP header
	}}
	client := NewClient(NewTCPFramer(conn), nil)

	err := client.WriteSingleCoil(context.Background(), 1, 5, true)
	require.NoError(t, err)
	assert.Equal(t, byte(funcWriteSingleCoil), sawReq[7])
	assert.Equal(t, []byte{0xFF, 0x00}, sawReq[10:12])
}

func TestClient_WriteMultipleRegisters(t *testing.T) {
	conn := &pipeConn{respond: func(req []byte) []byte {
		startAddr := req[8:10]
		qty := req[10:12]
		pdu := append([]byte{funcWriteMultipleRegisters}, startAddr...)
		pdu = append(pdu, qty...)
		return mbapResponse(req, pdu)
	}}
	client := NewClient(NewTCPFramer(conn), nil)

	err := client.WriteMultipleRegisters(context.Background(), 1, 100, []uint16{1, 2, 3})
	require.NoError(t, err)
}

func TestClient_WriteMultipleRegisters_OverLimit(t *testing.T) {
	client := NewClient(NewTCPFramer(&pipeConn{}), nil)
	values := make([]uint16, MaxRegistersPerWrite+1)
	err := client.WriteMultipleRegisters(context.Background(), 1, 0, values)
	require.ErrorIs(t, err, ErrLimit)
}

func TestRTUFramer_NotImplemented(t *testing.T) {
	var f RTUFramer
	_, err := f.Transact(context.Background(), 1, nil)
	require.ErrorIs(t, err, ErrNotImplemented)
}
