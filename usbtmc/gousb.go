package usbtmc

import (
	"context"

	"github.com/google/gousb"
)

// gousbEndpoints adapts a claimed gousb interface and its endpoints to
// the Endpoints interface. interruptIn is nil when the device exposes no
// Interrupt-IN endpoint, which is legal under USBTMC.
type gousbEndpoints struct {
	intf        *gousb.Interface
	bulkOut     *gousb.OutEndpoint
	bulkIn      *gousb.InEndpoint
	interruptIn *gousb.InEndpoint
	device      *gousb.Device
}

func (e *gousbEndpoints) BulkOut(ctx context.Context, p []byte) (int, error) {
	return e.bulkOut.WriteContext(ctx, p)
}

func (e *gousbEndpoints) BulkIn(ctx context.Context, p []byte) (int, error) {
	return e.bulkIn.ReadContext(ctx, p)
}

func (e *gousbEndpoints) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	return e.device.Control(requestType, request, value, index, data)
}

func (e *gousbEndpoints) InterruptIn(ctx context.Context, p []byte) (int, bool, error) {
	if e.interruptIn == nil {
		return 0, false, nil
	}
	n, err := e.interruptIn.ReadContext(ctx, p)
	return n, true, err
}

func (e *gousbEndpoints) InterfaceNumber() int {
	return e.intf.Setting.Number
}

// openGoUSB opens the device at vid/pid (optionally matching serial),
// claims its first interface/setting, and resolves the Bulk-OUT,
// Bulk-IN, and (if present) Interrupt-IN endpoints by their transfer
// type and direction rather than a hardcoded address, since USBTMC does
// not fix endpoint numbers the way the reference ASIC driver's hardware
// does.
func openGoUSB(ctx *gousb.Context, vid, pid gousb.ID, serial string) (*gousbEndpoints, func(), error) {
	var device *gousb.Device
	var err error
	if serial == "" {
		device, err = ctx.OpenDeviceWithVIDPID(vid, pid)
		if err == nil && device == nil {
			err = errNoDevice
		}
	} else {
		devices, openErr := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
			return desc.Vendor == vid && desc.Product == pid
		})
		if openErr != nil {
			err = openErr
		} else {
			for _, d := range devices {
				s, serr := d.SerialNumber()
				if serr == nil && s == serial {
					device = d
					continue
				}
				d.Close()
			}
			if device == nil {
				err = errNoDevice
			}
		}
	}
	if err != nil {
		return nil, nil, err
	}

	cfg, err := device.Config(1)
	if err != nil {
		device.Close()
		return nil, nil, err
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		device.Close()
		return nil, nil, err
	}

	var bulkOut *gousb.OutEndpoint
	var bulkIn *gousb.InEndpoint
	var interruptIn *gousb.InEndpoint
	for _, epDesc := range intf.Setting.Endpoints {
		switch {
		case epDesc.Direction == gousb.EndpointDirectionOut && epDesc.TransferType == gousb.TransferTypeBulk:
			ep, eerr := intf.OutEndpoint(epDesc.Number)
			if eerr != nil {
				err = eerr
				break
			}
			bulkOut = ep
		case epDesc.Direction == gousb.EndpointDirectionIn && epDesc.TransferType == gousb.TransferTypeBulk:
			ep, eerr := intf.InEndpoint(epDesc.Number)
			if eerr != nil {
				err = eerr
				break
			}
			bulkIn = ep
		case epDesc.Direction == gousb.EndpointDirectionIn && epDesc.TransferType == gousb.TransferTypeInterrupt:
			ep, eerr := intf.InEndpoint(epDesc.Number)
			if eerr != nil {
				err = eerr
				break
			}
			interruptIn = ep
		}
	}
	if err == nil && (bulkOut == nil || bulkIn == nil) {
		err = errNoBulkEndpoints
	}
	if err != nil {
		intf.Close()
		cfg.Close()
		device.Close()
		return nil, nil, err
	}

	e := &gousbEndpoints{intf: intf, bulkOut: bulkOut, bulkIn: bulkIn, interruptIn: interruptIn, device: device}
	closeFn := func() {
		intf.Close()
		cfg.Close()
		device.Close()
	}
	return e, closeFn, nil
}
