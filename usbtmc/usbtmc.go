package usbtmc

import (
	"context"
	"errors"

	labwire "github.com/scopelab/labwire/internal/werrors"

	"github.com/google/gousb"
)

var (
	errNoDevice        = errors.New("usbtmc: no matching USB device")
	errNoBulkEndpoints = errors.New("usbtmc: interface has no Bulk-OUT/Bulk-IN endpoint pair")
)

// USB488 class-specific control requests, USBTMC_usb488_subclass_1_00.pdf
// Table 9, and the USBTMC GET_CAPABILITIES request, Table 15.
const (
	reqGetCapabilities  = 7
	reqIndicatorPulse   = 64
	reqReadStatusByte   = 128
	reqRenControl       = 160
	reqGoToLocal        = 161
	reqLocalLockout     = 162
	ctrlTypeClassIn     = 0xA1 // Dir=IN, Type=Class, Recipient=Interface
	statusSuccess       = 1
)

// Capabilities reports a device's USBTMC and USB488 capability bits, as
// returned by GET_CAPABILITIES. USBTMC_1_00.pdf Section 4.2.1.8, Table 37;
// USBTMC_usb488_subclass_1_00.pdf Section 4.2.2, Table 8.
type Capabilities struct {
	Raw [0x18]byte

	AcceptsIndicatorPulse bool
	IsTalkOnly            bool
	IsListenOnly          bool
	AcceptsTermChar       bool

	AcceptsTrigger        bool
	AcceptsRemoteLocal    bool
	AcceptsServiceRequest bool
	Is488                 bool
}

func parseCapabilities(data []byte) Capabilities {
	var c Capabilities
	copy(c.Raw[:], data)
	if len(data) < 0x18 || data[0] != statusSuccess {
		return c
	}

	// USBTMC Interface Capabilities, data[4].
	iface := data[4]
	c.AcceptsIndicatorPulse = iface&(1<<2) != 0
	c.IsTalkOnly = iface&(1<<1) != 0
	c.IsListenOnly = iface&(1<<0) != 0

	// USBTMC Device Capabilities, data[5].
	c.AcceptsTermChar = data[5]&(1<<0) != 0

	// USB488 Interface Capabilities, data[14].
	iface488 := data[14]
	is488Interface := iface488&(1<<2) != 0
	acceptsRemoteLocal := iface488&(1<<1) != 0
	acceptsInterfaceTrigger := iface488&(1<<0) != 0

	// USB488 Device Capabilities, data[15].
	device488 := data[15]
	understandsSCPI := device488&(1<<3) != 0
	isSRCapable := device488&(1<<2) != 0
	isRLCapable := device488&(1<<1) != 0
	isDTCapable := device488&(1<<0) != 0

	// Not every manufacturer honors the additional rules underneath
	// Table 8; OR the two bitmaps together rather than requiring both.
	c.AcceptsTrigger = isDTCapable || acceptsInterfaceTrigger
	c.AcceptsRemoteLocal = isRLCapable || acceptsRemoteLocal
	c.AcceptsServiceRequest = is488Interface || isSRCapable
	c.Is488 = understandsSCPI || (isSRCapable && is488Interface)
	return c
}

// RENMode selects the GPIB Remote Enable line state and, optionally, the
// device's remote/local state, mirroring the GPIB/HiSLIP remote/local
// control vocabulary over USB488's class-specific control transfers.
type RENMode int

const (
	RenDeassert RENMode = iota
	RenAssert
	RenDeassertGTL
	RenAssertAddress
	RenAssertLLO
	RenAssertAddressLLO
	RenAddressGTL
)

// Device is a USBTMC (optionally USB488) instrument reachable over a
// claimed USB interface's bulk and control endpoints.
type Device struct {
	ep  Endpoints
	log labwire.Logger

	closeFn      func()
	capabilities Capabilities
	outTag       tagSequence
	statusTag    uint8 // bTag for READ_STATUS_BYTE, starts at 1 and stays in 2..127
}

// Open resolves a USB::<vid>::<pid>::<serial>::INSTR-style address
// against ctx, claims the device's first interface, and reads its
// capabilities via GET_CAPABILITIES.
func Open(ctx context.Context, usbCtx *gousb.Context, vid, pid uint16, serial string, logger labwire.Logger) (*Device, error) {
	const op = "usbtmc.Open"
	ep, closeFn, err := openGoUSB(usbCtx, gousb.ID(vid), gousb.ID(pid), serial)
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	return newDevice(ctx, ep, closeFn, logger)
}

// OpenEndpoints builds a Device directly from an already-opened
// Endpoints implementation, bypassing gousb device discovery. Exported
// for tests and for callers that manage USB device lifetime themselves.
func OpenEndpoints(ctx context.Context, ep Endpoints, logger labwire.Logger) (*Device, error) {
	return newDevice(ctx, ep, func() {}, logger)
}

func newDevice(ctx context.Context, ep Endpoints, closeFn func(), logger labwire.Logger) (*Device, error) {
	const op = "usbtmc.Open"
	d := &Device{ep: ep, log: logger, closeFn: closeFn, statusTag: 1}

	capData := make([]byte, 0x18)
	n, err := ep.Control(ctrlTypeClassIn, reqGetCapabilities, 0, uint16(ep.InterfaceNumber()), capData)
	if err != nil {
		closeFn()
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	d.capabilities = parseCapabilities(capData[:n])
	labwire.Debugf(logger, "usbtmc: opened, capabilities=%+v", d.capabilities)
	return d, nil
}

// Capabilities returns the device's GET_CAPABILITIES result.
func (d *Device) Capabilities() Capabilities { return d.capabilities }

// Close releases the underlying USB interface, configuration, and
// device handle.
func (d *Device) Close() error {
	d.closeFn()
	return nil
}

// Write sends message as a single DEV_DEP_MSG_OUT Bulk-OUT transfer.
// USBTMC_1_00.pdf Section 3.2: a complete command message must be sent
// in one transfer (Rule 5 below Table 2); this package never fragments
// a Write the way Section 3.2.1.1's Rule 1 optionally allows, matching
// the reference client's choice to let libusb handle USB-level packet
// fragmentation instead.
func (d *Device) Write(ctx context.Context, message []byte) (int, error) {
	const op = "usbtmc.Write"
	if d.capabilities.IsTalkOnly {
		return 0, labwire.NewError(labwire.KindProtocol, op, errors.New("device does not accept a write request (talk-only)"))
	}
	tag := d.outTag.next()
	_, err := d.ep.BulkOut(ctx, devDepMsgOut(tag, message, true))
	if err != nil {
		return 0, labwire.NewError(labwire.KindConnection, op, err)
	}
	return len(message), nil
}

// Read requests up to size bytes (the device's own buffering may return
// fewer) via REQUEST_DEV_DEP_MSG_IN and returns the Bulk-IN payload,
// validating msg_id and bTag per USBTMC_1_00.pdf Section 3.3.1.1.
func (d *Device) Read(ctx context.Context, size int) ([]byte, error) {
	const op = "usbtmc.Read"
	if d.capabilities.IsListenOnly {
		return nil, labwire.NewError(labwire.KindProtocol, op, errors.New("device does not accept a read request (listen-only)"))
	}
	tag := d.outTag.next()
	if _, err := d.ep.BulkOut(ctx, requestDevDepMsgIn(tag, uint32(size))); err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}

	hdrBuf := make([]byte, bulkHeaderSize)
	if _, err := readFull(ctx, d.ep, hdrBuf); err != nil {
		return nil, labwire.NewError(labwire.KindConnection, op, err)
	}
	hdr := parseDevDepMsgInHeader(hdrBuf)
	if hdr.msgID != msgDevDepMsgIn {
		return nil, labwire.NewError(labwire.KindConnection, op,
			errors.New("device sent a message ID other than DEV_DEP_MSG_IN; it does not obey the USBTMC standard"))
	}
	if hdr.tag != tag {
		return nil, labwire.NewError(labwire.KindConnection, op,
			errors.New("received bTag does not match sent bTag; device does not obey the USBTMC standard"))
	}

	pad := alignPad(hdr.transferSize)
	body := make([]byte, int(hdr.transferSize)+pad)
	if len(body) > 0 {
		if _, err := readFull(ctx, d.ep, body); err != nil {
			return nil, labwire.NewError(labwire.KindConnection, op, err)
		}
	}
	return body[:hdr.transferSize], nil
}

// readFull drains p from a Bulk-IN endpoint across as many transfers as
// it takes to fill it, since a single BulkIn call is not guaranteed to
// return the full requested length.
func readFull(ctx context.Context, ep Endpoints, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := ep.BulkIn(ctx, p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// Trigger sends a USB488 TRIGGER message, equivalent to a GPIB group
// execute trigger.
func (d *Device) Trigger(ctx context.Context) error {
	const op = "usbtmc.Trigger"
	if !d.capabilities.AcceptsTrigger {
		return labwire.NewError(labwire.KindProtocol, op, errors.New("device does not accept the trigger request"))
	}
	tag := d.outTag.next()
	_, err := d.ep.BulkOut(ctx, triggerMessage(tag))
	if err != nil {
		return labwire.NewError(labwire.KindConnection, op, err)
	}
	return nil
}

// IndicatorPulse asks the device to flash an identification indicator
// for 0.5 to 1 second. USBTMC_1_00.pdf Section 4.2.1.9, Table 38.
func (d *Device) IndicatorPulse() error {
	const op = "usbtmc.IndicatorPulse"
	if !d.capabilities.AcceptsIndicatorPulse {
		return labwire.NewError(labwire.KindProtocol, op, errors.New("device does not accept the indicator-pulse request"))
	}
	return d.ctrlInStatus(op, reqIndicatorPulse, 0, 1)
}

// ControlREN controls the GPIB Remote Enable line state and, optionally,
// the device's local-lockout/go-to-local state.
// USBTMC_usb488_subclass_1_00.pdf Section 4.3.2-4.3.4.
func (d *Device) ControlREN(mode RENMode) error {
	const op = "usbtmc.ControlREN"
	if !d.capabilities.AcceptsRemoteLocal {
		return labwire.NewError(labwire.KindProtocol, op, errors.New("device does not accept a remote-local request"))
	}

	switch mode {
	case RenAssert, RenAssertAddress, RenAssertAddressLLO:
		if err := d.ctrlInStatus(op, reqRenControl, 1, 1); err != nil {
			return err
		}
	}
	switch mode {
	case RenAssertLLO, RenAssertAddressLLO:
		if err := d.ctrlInStatus(op, reqLocalLockout, 0, 1); err != nil {
			return err
		}
	}
	switch mode {
	case RenDeassertGTL, RenAddressGTL:
		if err := d.ctrlInStatus(op, reqGoToLocal, 0, 1); err != nil {
			return err
		}
	}
	switch mode {
	case RenDeassert, RenDeassertGTL:
		if err := d.ctrlInStatus(op, reqRenControl, 0, 1); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) ctrlInStatus(op string, request uint8, value uint16, length int) error {
	data := make([]byte, length)
	n, err := d.ep.Control(ctrlTypeClassIn, request, value, uint16(d.ep.InterfaceNumber()), data)
	if err != nil {
		return labwire.NewError(labwire.KindConnection, op, err)
	}
	if n < 1 || data[0] != statusSuccess {
		return labwire.NewError(labwire.KindProtocol, op, errors.New("request was not successful"))
	}
	return nil
}

// SerialPoll reads the device's status byte, equivalent to a GPIB serial
// poll / the ibrsp function. USBTMC_usb488_subclass_1_00.pdf Section
// 4.3.1.
func (d *Device) SerialPoll(ctx context.Context) (uint8, error) {
	const op = "usbtmc.SerialPoll"
	if !d.capabilities.AcceptsServiceRequest {
		return 0, labwire.NewError(labwire.KindProtocol, op, errors.New("device does not accept the serial-poll request"))
	}

	d.statusTag++
	if d.statusTag > 127 {
		d.statusTag = 2
	}

	data := make([]byte, 3)
	n, err := d.ep.Control(ctrlTypeClassIn, reqReadStatusByte, uint16(d.statusTag), uint16(d.ep.InterfaceNumber()), data)
	if err != nil {
		return 0, labwire.NewError(labwire.KindConnection, op, err)
	}
	if n < 3 || data[0] != statusSuccess {
		return 0, labwire.NewError(labwire.KindProtocol, op, errors.New("request was not successful"))
	}
	tag, status := data[1], data[2]
	if tag != d.statusTag {
		return 0, labwire.NewError(labwire.KindConnection, op, errors.New("sent bTag does not match received bTag"))
	}

	// USBTMC_usb488_subclass_1_00.pdf Section 3.4.2, Table 7: a device
	// with an Interrupt-IN endpoint follows up the control transfer with
	// a notify packet that must be consumed and validated before the
	// status byte it carries is trusted.
	notify := make([]byte, 2)
	nn, ok, err := d.ep.InterruptIn(ctx, notify)
	if !ok {
		return status, nil
	}
	if err != nil {
		return 0, labwire.NewError(labwire.KindConnection, op, err)
	}
	if nn < 2 {
		return 0, labwire.NewError(labwire.KindConnection, op, errors.New("short Interrupt-IN notify packet"))
	}
	notify1, notifyStatus := notify[0], notify[1]
	if notify1&0x80 == 0 {
		return 0, labwire.NewError(labwire.KindConnection, op, errors.New("invalid Interrupt-IN response packet, bit 7 is not 1"))
	}
	if notify1&0x7F != d.statusTag {
		return 0, labwire.NewError(labwire.KindConnection, op, errors.New("invalid Interrupt-IN response packet, bTag mismatch"))
	}
	return notifyStatus, nil
}
