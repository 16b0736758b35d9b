// Package usbtmc implements the USB Test and Measurement Class (USBTMC)
// and its USB488 subclass: DEV_DEP_MSG_OUT/IN bulk framing, the
// GET_CAPABILITIES control transfer, serial poll, trigger, and
// remote/local control.
//
// The bulk header encode/decode follows the same header-then-payload
// binary.Write shape the hislip package uses (itself grounded on the
// reference TNC's agwpe.go), generalized here to USBTMC's 12-byte Bulk
// header with its alignment padding. The exact header field layout, tag
// sequencing, and capability bit semantics are grounded on
// original_source/src/msl/equipment/interfaces/usbtmc.py.
package usbtmc

import "encoding/binary"

// Message IDs, USBTMC_1_00.pdf Table 2.
const (
	msgDevDepMsgOut       = 1
	msgRequestDevDepMsgIn = 2
	msgDevDepMsgIn        = 2
	msgTrigger            = 128
)

// bulkHeaderSize is the fixed 12-byte Bulk-OUT/Bulk-IN header (Table 3/
// Table 9): msg_id, bTag, bTagInverse, 1 reserved byte, then a
// message-specific 8-byte body.
const bulkHeaderSize = 12

// tagSequence produces bTag values 1..255 wrapping back to 1, matching
// _Message.next_tag in the reference client. The counter is widened to
// uint16 so the "> 255" rollover check can actually observe 256 instead
// of silently wrapping to 0 inside a uint8.
type tagSequence struct {
	tag uint16
}

func (t *tagSequence) next() uint8 {
	t.tag++
	if t.tag > 255 {
		t.tag = 1
	}
	return uint8(t.tag)
}

// devDepMsgOut builds a Bulk-OUT DEV_DEP_MSG_OUT packet: header plus
// payload plus 0..3 alignment bytes so the whole transfer is a multiple
// of 4 bytes. USBTMC_1_00.pdf Section 3.2.1.1, Table 3.
func devDepMsgOut(tag uint8, message []byte, eom bool) []byte {
	pad := (4 - len(message)%4) % 4
	buf := make([]byte, bulkHeaderSize+len(message)+pad)
	buf[0] = msgDevDepMsgOut
	buf[1] = tag
	buf[2] = tag ^ 0xFF
	// buf[3] reserved
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(message)))
	if eom {
		buf[8] = 1
	}
	// buf[9:12] reserved
	copy(buf[12:], message)
	return buf
}

// requestDevDepMsgIn builds the Bulk-OUT REQUEST_DEV_DEP_MSG_IN packet
// that asks the device to queue up to size bytes for the next Bulk-IN
// transfer, with no termination character. USBTMC_1_00.pdf Section
// 3.2.1.2, Table 4.
func requestDevDepMsgIn(tag uint8, size uint32) []byte {
	buf := make([]byte, bulkHeaderSize)
	buf[0] = msgRequestDevDepMsgIn
	buf[1] = tag
	buf[2] = tag ^ 0xFF
	binary.LittleEndian.PutUint32(buf[4:8], size)
	// buf[8] TermCharEnabled = 0, buf[9] TermChar = 0
	return buf
}

// triggerMessage builds the USB488 TRIGGER Bulk-OUT packet.
// USBTMC_usb488_subclass_1_00.pdf Section 3.2.1.1, Table 2.
func triggerMessage(tag uint8) []byte {
	buf := make([]byte, bulkHeaderSize)
	buf[0] = msgTrigger
	buf[1] = tag
	buf[2] = tag ^ 0xFF
	return buf
}

// devDepMsgInHeader is the parsed Bulk-IN header preceding response
// data. USBTMC_1_00.pdf Section 3.3.1.1, Table 9. bTagInverse is
// intentionally not validated, matching the reference client.
type devDepMsgInHeader struct {
	msgID        uint8
	tag          uint8
	transferSize uint32
	eom          bool
}

func parseDevDepMsgInHeader(hdr []byte) devDepMsgInHeader {
	return devDepMsgInHeader{
		msgID:        hdr[0],
		tag:          hdr[1],
		transferSize: binary.LittleEndian.Uint32(hdr[4:8]),
		eom:          hdr[8] != 0,
	}
}

// alignPad returns the number of alignment bytes following a Bulk-IN
// payload of the given transfer size so the whole transfer lands on a
// 4-byte boundary.
func alignPad(transferSize uint32) int {
	return int((4 - transferSize%4) % 4)
}
