// Package message implements the read/write state machine shared by
// every transport that speaks termination-delimited or sized messages:
// the accumulate-check-termination-or-timeout loop that, in the
// reference TNC, is duplicated between kissnet.go (TCP) and
// kissserial.go (serial). Here it is written once, against a Conn
// interface. The Prologix GPIB controller drives a State over its
// connection, and the transport types satisfy Conn; the VXI-11, HiSLIP,
// USBTMC and Modbus clients keep their own read loops.
package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// Conn is the minimal operation a transport must support for State to
// drive it: a deadline-aware byte reader/writer. net.Conn and a
// pkg/term-backed serial handle both satisfy it directly.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
}

// State is the ConnectionState entity from the data model: the
// read/write configuration and the private byte_buffer that accumulates
// unread bytes between Read calls.
type State struct {
	// Timeout is the per-operation deadline. Negative means blocking (no
	// deadline); zero is a deadline that expires immediately.
	Timeout time.Duration

	// ReadTermination, if non-empty, is the byte sequence a Read call
	// stops at. WriteTermination, if non-empty, is appended to every
	// Write call that doesn't already end with it.
	ReadTermination  []byte
	WriteTermination []byte

	// MaxReadSize bounds the accumulated buffer; exceeding it is a
	// ConnectionError. Zero means "use DefaultMaxReadSize".
	MaxReadSize uint32

	// Rstrip, if true, strips trailing ASCII whitespace from the
	// returned buffer after termination detection.
	Rstrip bool

	buf []byte
}

// DefaultMaxReadSize matches the common VISA default of 1<<20 (one
// mebibyte), used whenever MaxReadSize is left at zero.
const DefaultMaxReadSize = 1 << 20

func (s *State) maxReadSize() int {
	if s.MaxReadSize == 0 {
		return DefaultMaxReadSize
	}
	return int(s.MaxReadSize)
}

const readChunkSize = 4096

// Read blocks until one of, in priority order: size bytes have
// accumulated (when size >= 0), ReadTermination is matched, the timeout
// elapses, or MaxReadSize is exceeded. size < 0 means "read until
// termination or timeout, return whatever was accumulated".
func (s *State) Read(ctx context.Context, conn Conn, size int) ([]byte, error) {
	const op = "message.Read"
	deadline, hasDeadline := s.deadline()

	for {
		if done, out := s.checkDone(size); done {
			return out, nil
		}
		if len(s.buf) > s.maxReadSize() {
			return nil, labwire.NewError(labwire.KindConnection, op, fmt.Errorf("read buffer exceeds max_read_size %d", s.maxReadSize()))
		}

		if hasDeadline {
			if err := conn.SetReadDeadline(deadline); err != nil {
				return nil, labwire.NewError(labwire.KindConnection, op, err)
			}
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}

		select {
		case <-ctx.Done():
			return nil, labwire.NewError(labwire.KindTimeout, op, ctx.Err())
		default:
		}

		chunk := make([]byte, readChunkSize)
		n, err := conn.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			if isTimeout(err) {
				return nil, labwire.NewError(labwire.KindTimeout, op, err)
			}
			return nil, labwire.NewError(labwire.KindConnection, op, err)
		}
	}
}

// checkDone evaluates the first two items of the read-priority list
// (size reached, termination matched) against the accumulated buffer.
func (s *State) checkDone(size int) (bool, []byte) {
	if size >= 0 && len(s.buf) >= size {
		out := s.buf[:size]
		s.buf = s.buf[size:]
		return true, out
	}
	if len(s.ReadTermination) > 0 {
		if idx := indexSuffix(s.buf, s.ReadTermination); idx >= 0 {
			end := idx + len(s.ReadTermination)
			out := s.buf[:end]
			s.buf = s.buf[end:]
			if s.Rstrip {
				out = rstrip(out)
			}
			return true, out
		}
	}
	return false, nil
}

// indexSuffix returns the index of the first occurrence of term anywhere
// in buf, or -1 if there is none.
func indexSuffix(buf, term []byte) int {
	if len(term) == 0 || len(buf) < len(term) {
		return -1
	}
	for i := 0; i+len(term) <= len(buf); i++ {
		if string(buf[i:i+len(term)]) == string(term) {
			return i
		}
	}
	return -1
}

func rstrip(b []byte) []byte {
	end := len(b)
	for end > 0 && isASCIISpace(b[end-1]) {
		end--
	}
	return b[:end]
}

func isASCIISpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// deadline implements the "Timeout: Option<f64>, < 0 normalised to None
// (blocking)" rule from the data model: a negative Timeout blocks
// forever, but a zero Timeout is a real (immediately-expiring) deadline,
// not blocking.
func (s *State) deadline() (time.Time, bool) {
	if s.Timeout < 0 {
		return time.Time{}, false
	}
	return time.Now().Add(s.Timeout), true
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Write appends WriteTermination to data unless data already ends with
// it, writes the result to conn, and returns the number of bytes placed
// on the wire (including any appended termination).
func (s *State) Write(conn Conn, data []byte) (int, error) {
	const op = "message.Write"
	out := data
	if len(s.WriteTermination) > 0 && !hasSuffix(data, s.WriteTermination) {
		out = append(append([]byte{}, data...), s.WriteTermination...)
	}
	n, err := conn.Write(out)
	if err != nil {
		return n, labwire.NewError(labwire.KindConnection, op, err)
	}
	return n, nil
}

func hasSuffix(data, suffix []byte) bool {
	if len(suffix) > len(data) {
		return false
	}
	return string(data[len(data)-len(suffix):]) == string(suffix)
}

// Query writes msg, sleeps for delay, then reads size bytes (size < 0
// for termination/timeout-bounded read).
func (s *State) Query(ctx context.Context, conn Conn, msg []byte, delay time.Duration, size int) ([]byte, error) {
	if _, err := s.Write(conn, msg); err != nil {
		return nil, err
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, labwire.NewError(labwire.KindTimeout, "message.Query", ctx.Err())
		}
	}
	return s.Read(ctx, conn, size)
}

// Reset clears the accumulated byte buffer, used after a disconnect or
// after a protocol-level resync (HiSLIP Interrupted, VXI-11 abort).
func (s *State) Reset() {
	s.buf = nil
}
