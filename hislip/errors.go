package hislip

import "fmt"

// ErrorType is the control_code carried by a FatalError or NonFatalError
// message. UNIDENTIFIED (0) is shared by both tables; the rest of each
// table is only meaningful for its own message type.
const (
	ErrUnidentified ErrorType = 0

	// Fatal errors, Table 14.
	ErrBadHeader           ErrorType = 1
	ErrChannelsInactivated ErrorType = 2
	ErrInvalidInitSequence ErrorType = 3
	ErrMaxClients          ErrorType = 4

	// Non-fatal errors, Table 16.
	ErrBadMessageType       ErrorType = 1
	ErrBadControlCode       ErrorType = 2
	ErrBadVendor            ErrorType = 3
	ErrMessageTooLarge      ErrorType = 4
	ErrAuthenticationFailed ErrorType = 5
)

// ErrorType is the 8-bit control_code of a FatalError/Error message.
type ErrorType uint8

var fatalReasons = map[ErrorType]string{
	ErrUnidentified:        "unidentified error",
	ErrBadHeader:           "poorly formed message header",
	ErrChannelsInactivated: "attempt to use connection without both channels established",
	ErrInvalidInitSequence: "invalid initialization sequence",
	ErrMaxClients:          "server refused connection due to maximum number of clients exceeded",
}

var nonFatalReasons = map[ErrorType]string{
	ErrUnidentified:         "unidentified error",
	ErrBadMessageType:       "unrecognized message type",
	ErrBadControlCode:       "unrecognized control code",
	ErrBadVendor:            "unrecognized vendor defined message",
	ErrMessageTooLarge:      "message too large",
	ErrAuthenticationFailed: "authentication failed",
}

// FatalError means the connection can no longer be trusted: both the
// synchronous and asynchronous channels must be closed. Section 6.2.
type FatalError struct {
	Code   ErrorType
	Reason string
	// FromPeer is set when this error was read off the wire rather than
	// detected locally; Section 6.2's "report it back to the peer"
	// recovery step only applies to locally detected errors.
	FromPeer bool
}

func (e *FatalError) Error() string {
	text, ok := fatalReasons[e.Code]
	if !ok {
		text = fatalReasons[ErrUnidentified]
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s [code=%d, reason=%q]", text, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s [code=%d]", text, e.Code)
}

// payload is what gets sent back to the peer when this client detects
// the fatal condition itself, per Section 6.2's "send a FatalError
// before closing" recovery rule.
func (e *FatalError) payload() []byte {
	text, ok := fatalReasons[e.Code]
	if !ok {
		return []byte(fatalReasons[ErrUnidentified])
	}
	return []byte(text)
}

// NonFatalError leaves the connection usable; the transaction that
// triggered it simply failed. Section 6.3.
type NonFatalError struct {
	Code     ErrorType
	Reason   string
	FromPeer bool
}

func (e *NonFatalError) Error() string {
	text, ok := nonFatalReasons[e.Code]
	if !ok {
		text = nonFatalReasons[ErrUnidentified]
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s [code=%d, reason=%q]", text, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s [code=%d]", text, e.Code)
}

func (e *NonFatalError) payload() []byte {
	text, ok := nonFatalReasons[e.Code]
	if !ok {
		return []byte(nonFatalReasons[ErrUnidentified])
	}
	return []byte(text)
}
