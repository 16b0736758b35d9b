// Package vxi11 implements the VXI-11 Device-Core and Device-Async
// programs on top of package rpc, following the procedure numbers and
// error-code table recovered from the original msl-equipment VXI-11
// client (src/msl/equipment/vxi11.py).
package vxi11

// VXI-11 program numbers.
const (
	ProgramAsync uint32 = 0x0607B0
	ProgramCore  uint32 = 0x0607AF
	ProgramIntr  uint32 = 0x0607B1
)

// VXI-11 version numbers; every program in this package speaks v1.
const programVersion uint32 = 1

// VXI-11 Device-Core and Device-Async procedure numbers.
const (
	procDeviceAbort      uint32 = 1
	procCreateLink       uint32 = 10
	procDeviceWrite      uint32 = 11
	procDeviceRead       uint32 = 12
	procDeviceReadSTB    uint32 = 13
	procDeviceTrigger    uint32 = 14
	procDeviceClear      uint32 = 15
	procDeviceRemote     uint32 = 16
	procDeviceLocal      uint32 = 17
	procDeviceLock       uint32 = 18
	procDeviceUnlock     uint32 = 19
	procDeviceEnableSRQ  uint32 = 20
	procDeviceDocmd      uint32 = 22
	procDestroyLink      uint32 = 23
	procCreateIntrChan  uint32 = 25
	procDestroyIntrChan uint32 = 26
)

// Reason bits returned by device_read's reply.
const (
	ReasonREQCNT uint32 = 1
	ReasonCHR    uint32 = 2
	ReasonEND    uint32 = 4
)

// OperationFlag carries the VXI-11 Section B.5.3 per-call option bits.
type OperationFlag uint32

const (
	FlagNull       OperationFlag = 0x00
	FlagWaitlock   OperationFlag = 0x01
	FlagEnd        OperationFlag = 0x08
	FlagTermCharSet OperationFlag = 0x80
)

// maxRecvSizeCeiling is the cap spec.md places on the server-advertised
// max_recv_size used for device_write chunking.
const maxRecvSizeCeiling = 65536
