// Package hislip implements a HiSLIP v2.0 client: a synchronous channel
// and an asynchronous channel, each a TCP stream carrying fixed 16-byte
// headers ahead of a variable-length payload.
//
// The header-then-payload binary.Write shape is grounded on the
// reference TNC's agwpe.go (one fixed struct header followed by a
// variable payload written in a second call), generalized here from one
// AX.25 frame kind to HiSLIP's larger message-type vocabulary. The
// Message-ID/Interrupted state machine and the exact message-type
// table are grounded on
// original_source/src/msl/equipment/interfaces/hislip.py.
package hislip

import (
	"encoding/binary"
	"fmt"
	"io"

	labwire "github.com/scopelab/labwire/internal/werrors"
)

// MessageType is Table 4 (Section 2.5) of the HiSLIP spec.
type MessageType uint8

const (
	Initialize                      MessageType = 0
	InitializeResponse              MessageType = 1
	FatalErrorType                  MessageType = 2
	ErrorType                       MessageType = 3
	AsyncLock                       MessageType = 4
	AsyncLockResponse               MessageType = 5
	Data                            MessageType = 6
	DataEnd                         MessageType = 7
	DeviceClearComplete             MessageType = 8
	DeviceClearAcknowledge          MessageType = 9
	AsyncRemoteLocalControl         MessageType = 10
	AsyncRemoteLocalResponse        MessageType = 11
	Trigger                         MessageType = 12
	Interrupted                     MessageType = 13
	AsyncInterrupted                MessageType = 14
	AsyncMaximumMessageSize         MessageType = 15
	AsyncMaximumMessageSizeResponse MessageType = 16
	AsyncInitialize                 MessageType = 17
	AsyncInitializeResponse         MessageType = 18
	AsyncDeviceClear                MessageType = 19
	AsyncServiceRequest             MessageType = 20
	AsyncStatusQuery                MessageType = 21
	AsyncStatusResponse             MessageType = 22
	AsyncDeviceClearAcknowledge     MessageType = 23
	AsyncLockInfo                   MessageType = 24
	AsyncLockInfoResponse           MessageType = 25
	GetDescriptors                  MessageType = 26
	GetDescriptorsResponse          MessageType = 27
	StartTLS                        MessageType = 28
	AsyncStartTLS                   MessageType = 29
	AsyncStartTLSResponse           MessageType = 30
	EndTLS                          MessageType = 31
	AsyncEndTLS                     MessageType = 32
	AsyncEndTLSResponse             MessageType = 33
)

var prologue = [2]byte{'H', 'S'}

const headerSize = 16

// Message is one HiSLIP frame: "HS", type, control_code, parameter,
// payload_len, payload. The 16-byte header has no reserved byte; type
// and control_code are each one byte, matching the wire layout packed
// by the reference client's "!2s2BIQ" struct format.
type Message struct {
	Type        MessageType
	ControlCode uint8
	Parameter   uint32
	Payload     []byte
}

func (m Message) size() int64 { return headerSize + int64(len(m.Payload)) }

// pack serializes the message header and payload in one byte slice.
func (m Message) pack() []byte {
	buf := make([]byte, headerSize+len(m.Payload))
	buf[0], buf[1] = prologue[0], prologue[1]
	buf[2] = byte(m.Type)
	buf[3] = m.ControlCode
	binary.BigEndian.PutUint32(buf[4:8], m.Parameter)
	binary.BigEndian.PutUint64(buf[8:16], uint64(len(m.Payload)))
	copy(buf[16:], m.Payload)
	return buf
}

func readMessage(r io.Reader, maxSize int64) (Message, error) {
	const op = "hislip.readMessage"
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if isTimeout(err) {
			return Message{}, labwire.NewError(labwire.KindTimeout, op, err)
		}
		return Message{}, labwire.NewError(labwire.KindConnection, op, err)
	}
	if hdr[0] != 'H' || hdr[1] != 'S' {
		return Message{}, &FatalError{Code: ErrBadHeader, Reason: "prologue != HS"}
	}
	m := Message{
		Type:        MessageType(hdr[2]),
		ControlCode: hdr[3],
		Parameter:   binary.BigEndian.Uint32(hdr[4:8]),
	}
	length := binary.BigEndian.Uint64(hdr[8:16])
	if maxSize > 0 && int64(length) > maxSize {
		return Message{}, &FatalError{Code: 0, Reason: fmt.Sprintf("payload length %d exceeds max message size %d", length, maxSize)}
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if isTimeout(err) {
				return Message{}, labwire.NewError(labwire.KindTimeout, op, err)
			}
			return Message{}, labwire.NewError(labwire.KindConnection, op, err)
		}
	}
	m.Payload = payload

	if m.Type == FatalErrorType {
		return m, &FatalError{Code: ErrorType(m.ControlCode), Reason: string(payload), FromPeer: true}
	}
	if m.Type == ErrorType {
		return m, &NonFatalError{Code: ErrorType(m.ControlCode), Reason: string(payload), FromPeer: true}
	}
	return m, nil
}

