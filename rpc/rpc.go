// Package rpc implements the Sun RPC v2 (RFC 1057/5531) call/reply
// framing that VXI-11's port-mapper and Device-Core/Device-Async
// programs ride on: fragmented records, XDR opaque packing, and the
// accept/reject status vocabulary.
//
// The fragment read/write shape here is grounded on
// absfs-absnfs's RecordMarkingConn (portmapper.go), generalized from a
// server decoding one call into a client encoding one call and decoding
// one reply.
package rpc

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Message types (RFC 5531 §9).
const (
	callMessage  uint32 = 0
	replyMessage uint32 = 1
)

// Reply statuses.
const (
	MsgAccepted uint32 = 0
	MsgDenied   uint32 = 1
)

// Accept statuses.
const (
	Success      uint32 = 0
	ProgUnavail  uint32 = 1
	ProgMismatch uint32 = 2
	ProcUnavail  uint32 = 3
	GarbageArgs  uint32 = 4
	SystemErr    uint32 = 5
)

// Reject statuses.
const (
	RPCMismatch uint32 = 0
	AuthError   uint32 = 1
)

const rpcVersion uint32 = 2

// maxFragmentSize bounds a single outgoing fragment; VXI-11 calls are
// small enough that Write almost always emits exactly one fragment, but
// larger payloads (e.g. device_write with large opaque data) are
// still split correctly.
const maxFragmentSize = 1 << 15

// acceptStatusName maps an accept-status code to the RPC reject-reason
// name spec.md calls out by name (PROG_MISMATCH, AUTH_ERROR, …).
func acceptStatusName(status uint32) string {
	switch status {
	case Success:
		return "SUCCESS"
	case ProgUnavail:
		return "PROG_UNAVAIL"
	case ProgMismatch:
		return "PROG_MISMATCH"
	case ProcUnavail:
		return "PROC_UNAVAIL"
	case GarbageArgs:
		return "GARBAGE_ARGS"
	case SystemErr:
		return "SYSTEM_ERR"
	default:
		return fmt.Sprintf("ACCEPT_STATUS(%d)", status)
	}
}

// Conn is the byte-stream a Client speaks RPC fragments over: a plain
// TCP connection, no termination or framing of its own.
type Conn interface {
	io.Reader
	io.Writer
}

// Client builds and exchanges one Sun RPC v2 call/reply pair at a time
// over a stream connection. It is not safe for concurrent use; VXI-11's
// Core/Async clients each own one.
type Client struct {
	conn Conn
	xid  uint32
	buf  bytes.Buffer

	// InterruptHandler is invoked when a reply's XID does not match the
	// expected one, per spec.md's "invoke interrupt_handler() then
	// recurse" rule — implemented here as a loop, not recursion, so an
	// adversarial or buggy peer that never sends the expected XID
	// cannot grow the call stack without bound.
	InterruptHandler func(ctx context.Context) error

	log labwire.Logger
}

// NewClient wraps conn for one logical RPC program; the starting XID is
// drawn from crypto/rand so concurrent clients against the same server
// don't collide on low XIDs.
func NewClient(conn Conn) *Client {
	var seed [4]byte
	_, _ = rand.Read(seed[:])
	return &Client{conn: conn, xid: binary.BigEndian.Uint32(seed[:])}
}

// SetLogger attaches a logger for protocol-level tracing.
func (c *Client) SetLogger(l labwire.Logger) { c.log = l }

func (c *Client) nextXID() uint32 {
	c.xid++ // wraps at 2^32 per spec.md
	return c.xid
}

// Init starts building a new call for (prog, vers, proc), discarding any
// previously buffered (and unsent) call. Credentials and verifier are
// always AUTH_NONE with zero length, matching every VXI-11 transcript in
// the retrieved pack.
func (c *Client) Init(prog, vers, proc uint32) uint32 {
	c.buf.Reset()
	xid := c.nextXID()
	c.writeU32(xid)
	c.writeU32(callMessage)
	c.writeU32(rpcVersion)
	c.writeU32(prog)
	c.writeU32(vers)
	c.writeU32(proc)
	c.writeU32(0) // cred flavor
	c.writeU32(0) // cred length
	c.writeU32(0) // verf flavor
	c.writeU32(0) // verf length
	return xid
}

func (c *Client) writeU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	c.buf.Write(b[:])
}

// Append appends raw, already-packed bytes to the call in progress.
func (c *Client) Append(data []byte) { c.buf.Write(data) }

// AppendOpaque XDR-packs a variable-length opaque: a 4-byte length
// followed by the bytes, zero-padded to a 4-byte boundary.
func (c *Client) AppendOpaque(data []byte) {
	c.writeU32(uint32(len(data)))
	c.buf.Write(data)
	if pad := (4 - len(data)%4) % 4; pad > 0 {
		c.buf.Write(make([]byte, pad))
	}
}

// PackString XDR-packs a Go string as an opaque byte sequence; recovered
// from the original Python source's inline `pack_opaque(s.encode())` at
// every VXI-11 call site that takes a string argument.
func (c *Client) PackString(s string) { c.AppendOpaque([]byte(s)) }

// PackFixedOpaque XDR-packs a fixed-length opaque: no length prefix, the
// caller-supplied size controls the padding. data longer than size is
// truncated; shorter is zero-filled, matching xdrlib's pack_fopaque.
func (c *Client) PackFixedOpaque(data []byte, size int) {
	if len(data) > size {
		data = data[:size]
	}
	c.buf.Write(data)
	if short := size - len(data); short > 0 {
		c.buf.Write(make([]byte, short))
	}
	if pad := (4 - size%4) % 4; pad > 0 {
		c.buf.Write(make([]byte, pad))
	}
}

// PackArray XDR-packs a variable-length array of opaque elements: a
// 4-byte element count followed by each element opaque-packed.
func (c *Client) PackArray(elems [][]byte) {
	c.writeU32(uint32(len(elems)))
	for _, e := range elems {
		c.AppendOpaque(e)
	}
}

// Write sends the buffered call as one or more RPC fragments; only the
// final fragment's header has the MSB set.
func (c *Client) Write(ctx context.Context) error {
	const op = "rpc.Client.Write"
	data := c.buf.Bytes()
	if len(data) == 0 {
		return labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("rpc: no call buffered, call Init first"))
	}

	for offset := 0; offset < len(data); {
		chunk := data[offset:]
		last := true
		if len(chunk) > maxFragmentSize {
			chunk = chunk[:maxFragmentSize]
			last = false
		}
		header := uint32(len(chunk))
		if last {
			header |= 1 << 31
		}
		var hdrBuf [4]byte
		binary.BigEndian.PutUint32(hdrBuf[:], header)
		if _, err := c.conn.Write(hdrBuf[:]); err != nil {
			return labwire.NewError(labwire.KindConnection, op, err)
		}
		if _, err := c.conn.Write(chunk); err != nil {
			return labwire.NewError(labwire.KindConnection, op, err)
		}
		offset += len(chunk)
	}
	labwire.Debugf(c.log, "rpc: wrote call (%d bytes)", len(data))
	return nil
}

// Read reads fragments until the last-fragment bit, verifies the XID
// against the most recently Init'd call, checks message type and
// accept-status, and returns the procedure-specific payload. A reply
// whose XID does not match the expected one is treated as an
// interleaved service-request interrupt: InterruptHandler (if set) is
// invoked and the next reply is read instead, in a bounded loop rather
// than by recursion.
func (c *Client) Read(ctx context.Context) ([]byte, error) {
	const op = "rpc.Client.Read"
	const maxInterrupts = 64

	for attempt := 0; ; attempt++ {
		if attempt >= maxInterrupts {
			return nil, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("rpc: too many XID mismatches without expected reply"))
		}

		record, err := c.readRecord(ctx)
		if err != nil {
			return nil, err
		}

		r := bytes.NewReader(record)
		xid, err := readU32(r)
		if err != nil {
			return nil, labwire.NewError(labwire.KindProtocol, op, err)
		}
		if xid != c.xid {
			if c.InterruptHandler != nil {
				if err := c.InterruptHandler(ctx); err != nil {
					return nil, labwire.NewError(labwire.KindProtocol, op, err)
				}
			}
			continue
		}

		msgType, err := readU32(r)
		if err != nil {
			return nil, labwire.NewError(labwire.KindProtocol, op, err)
		}
		if msgType != replyMessage {
			return nil, labwire.NewError(labwire.KindProtocol, op, fmt.Errorf("rpc: expected REPLY, got message type %d", msgType))
		}

		replyStat, err := readU32(r)
		if err != nil {
			return nil, labwire.NewError(labwire.KindProtocol, op, err)
		}
		if replyStat == MsgDenied {
			reason, _ := readU32(r)
			if reason == AuthError {
				return nil, labwire.NewError(labwire.KindFatalProtocol, op, fmt.Errorf("rpc: call denied: AUTH_ERROR"))
			}
			return nil, labwire.NewError(labwire.KindFatalProtocol, op, fmt.Errorf("rpc: call denied: RPC_MISMATCH"))
		}

		// verifier
		if _, err := readU32(r); err != nil { // flavor
			return nil, labwire.NewError(labwire.KindProtocol, op, err)
		}
		verfLen, err := readU32(r)
		if err != nil {
			return nil, labwire.NewError(labwire.KindProtocol, op, err)
		}
		if verfLen > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(verfLen)); err != nil {
				return nil, labwire.NewError(labwire.KindProtocol, op, err)
			}
		}

		acceptStat, err := readU32(r)
		if err != nil {
			return nil, labwire.NewError(labwire.KindProtocol, op, err)
		}
		if acceptStat != Success {
			return nil, labwire.NewError(labwire.KindFatalProtocol, op, fmt.Errorf("rpc: %s", acceptStatusName(acceptStat)))
		}

		payload := make([]byte, r.Len())
		_, _ = r.Read(payload)
		return payload, nil
	}
}

// readRecord reads fragments until the last-fragment bit is set,
// returning the concatenated record bytes.
func (c *Client) readRecord(ctx context.Context) ([]byte, error) {
	const op = "rpc.Client.readRecord"
	var record bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return nil, labwire.NewError(labwire.KindTimeout, op, ctx.Err())
		default:
		}

		var hdrBuf [4]byte
		if _, err := io.ReadFull(c.conn, hdrBuf[:]); err != nil {
			return nil, labwire.NewError(labwire.KindConnection, op, err)
		}
		header := binary.BigEndian.Uint32(hdrBuf[:])
		last := header&(1<<31) != 0
		length := header &^ (1 << 31)

		if length > 0 {
			chunk := make([]byte, length)
			if _, err := io.ReadFull(c.conn, chunk); err != nil {
				return nil, labwire.NewError(labwire.KindConnection, op, err)
			}
			record.Write(chunk)
		}
		if last {
			return record.Bytes(), nil
		}
	}
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
