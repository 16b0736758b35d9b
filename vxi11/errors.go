package vxi11

import "fmt"

// ErrorCode is the 32-bit error value every VXI-11 reply carries ahead
// of its procedure-specific data (Table B.2 of the VXI-11 spec).
type ErrorCode uint32

var errorText = map[ErrorCode]string{
	0:  "no error",
	1:  "syntax error",
	3:  "device not accessible",
	4:  "invalid link identifier",
	5:  "parameter error",
	6:  "channel not established",
	8:  "operation not supported",
	9:  "out of resources",
	11: "device locked by another link",
	12: "no lock held by this link",
	15: "I/O timeout",
	17: "I/O error",
	21: "invalid address",
	23: "abort",
	29: "channel already established",
}

// Error satisfies the error interface, reporting the human-readable
// reason alongside the raw numeric code so callers can still branch on
// ErrorCode directly.
func (e ErrorCode) Error() string {
	text, ok := errorText[e]
	if !ok {
		text = "undefined error"
	}
	return fmt.Sprintf("%s [error=%d]", text, uint32(e))
}

// OK reports whether the code is VXI-11's "no error" value.
func (e ErrorCode) OK() bool { return e == 0 }
