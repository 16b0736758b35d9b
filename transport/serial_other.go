//go:build !linux

package transport

import "github.com/pkg/term"

// applyTermios is a no-op outside Linux: pkg/term's SetSpeed call in
// OpenSerial already configures the baseline raw mode, and the other
// fields (parity, data bits, stop bits, flow control) have no portable
// cgo-free termios path on non-Linux platforms in this pack. Wiring
// them per-OS (Darwin IOKit, Windows DCB) is future work, not something
// any example in the retrieved pack demonstrates.
func applyTermios(t *term.Term, cfg SerialConfig) error {
	return nil
}
