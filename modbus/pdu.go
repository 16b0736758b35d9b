// Package modbus implements a Modbus client limited to the function
// codes spec.md calls out: read input registers, write a single coil or
// register, and write multiple coils or registers. Framing is pluggable
// through the Framer interface; only the TCP (MBAP) framer is
// implemented, grounded on github.com/pascaldekloe/modbus's TCPClient
// (other_examples/7594cd8c_pascaldekloe-modbus__tcp.go.go) and
// github.com/rolfl/modbus's request/response shapes
// (other_examples/c4233bf9_rolfl-modbus__client.go.go).
package modbus

import (
	"encoding/binary"
	"fmt"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Function codes this client implements.
const (
	funcReadInputRegisters    = 0x04
	funcWriteSingleCoil       = 0x05
	funcWriteSingleRegister   = 0x06
	funcWriteMultipleCoils    = 0x0F
	funcWriteMultipleRegisters = 0x10
)

// errorFlag marks an exception response: the function code echoed back
// has its high bit set.
const errorFlag = 0x80

// MaxCoilsPerWrite and MaxRegistersPerWrite are the PDU payload limits
// for the multiple-write function codes (Modbus Application Protocol
// V1.1b3 §6.11/§6.12).
const (
	MaxCoilsPerWrite     = 1968
	MaxRegistersPerWrite = 123
)

// Exception is a Modbus exception response, Modbus Application Protocol
// V1.1b3 §7. The code is the single byte following the echoed function
// code in the response PDU.
type Exception byte

const (
	ExcIllegalFunction                    Exception = 0x01
	ExcIllegalDataAddress                 Exception = 0x02
	ExcIllegalDataValue                   Exception = 0x03
	ExcServerDeviceFailure                Exception = 0x04
	ExcAcknowledge                        Exception = 0x05
	ExcServerDeviceBusy                   Exception = 0x06
	ExcMemoryParityError                  Exception = 0x08
	ExcGatewayPathUnavailable             Exception = 0x0A
	ExcGatewayTargetDeviceFailedToRespond Exception = 0x0B
)

func (e Exception) Error() string {
	switch e {
	case ExcIllegalFunction:
		return "illegal function"
	case ExcIllegalDataAddress:
		return "illegal data address"
	case ExcIllegalDataValue:
		return "illegal data value"
	case ExcServerDeviceFailure:
		return "server device failure"
	case ExcAcknowledge:
		return "acknowledge"
	case ExcServerDeviceBusy:
		return "server device busy"
	case ExcMemoryParityError:
		return "memory parity error"
	case ExcGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExcGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("exception 0x%02x", byte(e))
	}
}

// ErrLimit is returned when a request exceeds MaxCoilsPerWrite or
// MaxRegistersPerWrite.
var ErrLimit = labwire.NewError(labwire.KindProtocol, "modbus", fmt.Errorf("request exceeds the per-PDU item limit"))

func encodeReadInputRegisters(startAddr, quantity uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = funcReadInputRegisters
	binary.BigEndian.PutUint16(pdu[1:3], startAddr)
	binary.BigEndian.PutUint16(pdu[3:5], quantity)
	return pdu
}

func decodeReadInputRegisters(resp []byte, quantity uint16) ([]uint16, error) {
	if err := checkException(resp, funcReadInputRegisters); err != nil {
		return nil, err
	}
	if len(resp) < 2 || int(resp[1]) != int(quantity)*2 {
		return nil, labwire.NewError(labwire.KindProtocol, "modbus.ReadInputRegisters", fmt.Errorf("unexpected byte count in response"))
	}
	body := resp[2:]
	if len(body) < int(quantity)*2 {
		return nil, labwire.NewError(labwire.KindProtocol, "modbus.ReadInputRegisters", fmt.Errorf("response too short"))
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(body[i*2 : i*2+2])
	}
	return out, nil
}

func encodeWriteSingleCoil(addr uint16, on bool) []byte {
	pdu := make([]byte, 5)
	pdu[0] = funcWriteSingleCoil
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	if on {
		binary.BigEndian.PutUint16(pdu[3:5], 0xFF00)
	}
	return pdu
}

func encodeWriteSingleRegister(addr, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = funcWriteSingleRegister
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu
}

// checkWriteSingleEcho validates that a write-single-coil/register
// response echoes the request exactly, per §6.5/§6.6.
func checkWriteSingleEcho(resp, req []byte, funcCode byte) error {
	if err := checkException(resp, funcCode); err != nil {
		return err
	}
	if len(resp) != len(req) {
		return labwire.NewError(labwire.KindProtocol, "modbus", fmt.Errorf("response length %d does not match request length %d", len(resp), len(req)))
	}
	for i := range req {
		if resp[i] != req[i] {
			return labwire.NewError(labwire.KindProtocol, "modbus", fmt.Errorf("response does not echo request"))
		}
	}
	return nil
}

func encodeWriteMultipleCoils(startAddr uint16, values []bool) ([]byte, error) {
	if len(values) == 0 || len(values) > MaxCoilsPerWrite {
		return nil, ErrLimit
	}
	byteCount := (len(values) + 7) / 8
	pdu := make([]byte, 6+byteCount)
	pdu[0] = funcWriteMultipleCoils
	binary.BigEndian.PutUint16(pdu[1:3], startAddr)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(byteCount)
	for i, on := range values {
		if on {
			pdu[6+i/8] |= 1 << uint(i%8)
		}
	}
	return pdu, nil
}

func encodeWriteMultipleRegisters(startAddr uint16, values []uint16) ([]byte, error) {
	if len(values) == 0 || len(values) > MaxRegistersPerWrite {
		return nil, ErrLimit
	}
	pdu := make([]byte, 6+len(values)*2)
	pdu[0] = funcWriteMultipleRegisters
	binary.BigEndian.PutUint16(pdu[1:3], startAddr)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+i*2:8+i*2], v)
	}
	return pdu, nil
}

// checkWriteMultipleEcho validates the §6.11/§6.12 response, which
// echoes the start address and quantity but not the payload.
func checkWriteMultipleEcho(resp []byte, funcCode byte, startAddr, quantity uint16) error {
	if err := checkException(resp, funcCode); err != nil {
		return err
	}
	if len(resp) != 5 {
		return labwire.NewError(labwire.KindProtocol, "modbus", fmt.Errorf("unexpected write-multiple response length %d", len(resp)))
	}
	gotAddr := binary.BigEndian.Uint16(resp[1:3])
	gotQty := binary.BigEndian.Uint16(resp[3:5])
	if gotAddr != startAddr || gotQty != quantity {
		return labwire.NewError(labwire.KindProtocol, "modbus", fmt.Errorf("response echoes addr=%d qty=%d, want addr=%d qty=%d", gotAddr, gotQty, startAddr, quantity))
	}
	return nil
}

// checkException reports resp as an Exception if its function code byte
// has the error flag set and it doesn't match funcCode, and validates
// the echoed function code otherwise.
func checkException(resp []byte, funcCode byte) error {
	if len(resp) == 0 {
		return labwire.NewError(labwire.KindProtocol, "modbus", fmt.Errorf("empty response PDU"))
	}
	if resp[0] == funcCode|errorFlag {
		if len(resp) < 2 {
			return labwire.NewError(labwire.KindProtocol, "modbus", fmt.Errorf("truncated exception response"))
		}
		return Exception(resp[1])
	}
	if resp[0] != funcCode {
		return labwire.NewError(labwire.KindProtocol, "modbus", fmt.Errorf("response function code 0x%02x does not match request 0x%02x", resp[0], funcCode))
	}
	return nil
}
