package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Framer sends one request PDU to the given unit and returns its
// response PDU, with whatever header/CRC framing its wire format needs
// stripped off. Implementations are not required to be safe for
// concurrent use by more than one goroutine; Client serializes calls
// with its own mutex.
type Framer interface {
	Transact(ctx context.Context, unitID byte, pdu []byte) ([]byte, error)
}

// TCPFramer implements the Modbus Application Protocol's MBAP framing
// over an io.ReadWriter (typically a transport.Stream), grounded on
// TCPClient.sendAndReceive in other_examples/7594cd8c_pascaldekloe-modbus__tcp.go.go.
// Unlike that implementation's reused fixed-size buffer, each
// transaction here allocates its own frame, matching this module's
// preference elsewhere (hislip, usbtmc) for allocating per-message
// buffers over pooling.
type TCPFramer struct {
	conn io.ReadWriter

	mu  sync.Mutex
	txn uint16
}

// NewTCPFramer wraps conn (already dialed) in MBAP framing.
func NewTCPFramer(conn io.ReadWriter) *TCPFramer {
	return &TCPFramer{conn: conn}
}

// nextTxnID returns the next MBAP transaction identifier, wrapping from
// 65535 back to 1 rather than 0: transaction_id 0 is reserved as "no
// outstanding transaction" by several gateways this client talks to.
func (f *TCPFramer) nextTxnID() uint16 {
	f.txn++
	if f.txn == 0 {
		f.txn = 1
	}
	return f.txn
}

const mbapHeaderSize = 7

func (f *TCPFramer) Transact(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const op = "modbus.TCPFramer.Transact"
	txnID := f.nextTxnID()

	frame := make([]byte, mbapHeaderSize+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], txnID)
	binary.BigEndian.PutUint16(frame[2:4], 0) // protocol_id is always 0 for Modbus
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1))
	frame[6] = unitID
	copy(frame[7:], pdu)

	if _, err := f.conn.Write(frame); err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}

	header := make([]byte, mbapHeaderSize)
	if _, err := io.ReadFull(f.conn, header); err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	gotTxnID := binary.BigEndian.Uint16(header[0:2])
	gotProtoID := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint16(header[4:6])
	gotUnitID := header[6]

	if gotTxnID != txnID {
		return nil, labwire.NewError(labwire.KindConnection, op, fmt.Errorf("response transaction id %d does not match request %d", gotTxnID, txnID))
	}
	if gotProtoID != 0 {
		return nil, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("unexpected protocol id %d", gotProtoID))
	}
	if gotUnitID != unitID {
		return nil, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("response unit id %d does not match request %d", gotUnitID, unitID))
	}
	if length == 0 {
		return nil, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("zero-length MBAP response"))
	}

	pduBuf := make([]byte, int(length)-1)
	if _, err := io.ReadFull(f.conn, pduBuf); err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	return pduBuf, nil
}

// ErrNotImplemented is returned by RTUFramer and ASCIIFramer: serial
// Modbus framing (CRC-16 / LRC, inter-character timing) has no
// instrument in this spec's scope, so the framer is reserved rather
// than built out speculatively.
var ErrNotImplemented = labwire.NewError(labwire.KindConnection, "modbus", fmt.Errorf("framer not implemented"))

// RTUFramer is reserved for Modbus RTU (CRC-16, serial inter-frame
// timing per §2.5.1). Every method returns ErrNotImplemented.
type RTUFramer struct{}

func (RTUFramer) Transact(context.Context, byte, []byte) ([]byte, error) {
	return nil, ErrNotImplemented
}

// ASCIIFramer is reserved for Modbus ASCII (':'-prefixed hex-encoded
// frames with an LRC checksum, per §2.5.2). Every method returns
// ErrNotImplemented.
type ASCIIFramer struct{}

func (ASCIIFramer) Transact(context.Context, byte, []byte) ([]byte, error) {
	return nil, ErrNotImplemented
}
