package gpib

// ATNMode mirrors the ATN_DEASSERT/ATN_ASSERT/ATN_ASSERT_IMMEDIATE
// constants from control_atn in the reference client.
type ATNMode int

const (
	AtnDeassert ATNMode = iota
	AtnAssert
	AtnAssertImmediate
)

// RENMode mirrors the REN_* constants from control_ren in the reference
// client: REN_DEASSERT through REN_ADDRESS_GTL.
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

// Step is one primitive bus action in an ATN/REN control sequence.
// Board and Controller each translate a Step list into their own
// underlying calls (ibgts/ibcac/ibsre/... for Board, ++-prefixed
// commands for Controller), so the state table lives once here instead
// of being duplicated — and hand-translated into magic numbers — in
// both backends.
type Step struct {
	Op  string
	Arg bool
}

// Step ops.
const (
	OpGoToStandby  = "gts"  // release ATN (become a listener again)
	OpTakeControl  = "cac"  // assert ATN (become controller-in-charge)
	OpSetREN       = "sre"  // assert/deassert REN
	OpAddressAsListener = "listener" // address this device as a listener
	OpSendLLO      = "llo"  // send the Local Lockout command
	OpSendGTL      = "gtl"  // send the Go To Local command
)

// IFCSequence returns the steps needed to reach the given ATN mode,
// mirroring control_atn's three independent branches.
func IFCSequence(mode ATNMode) []Step {
	switch mode {
	case AtnDeassert:
		return []Step{{Op: OpGoToStandby}}
	case AtnAssert:
		return []Step{{Op: OpTakeControl}}
	case AtnAssertImmediate:
		return []Step{{Op: OpTakeControl, Arg: true}}
	default:
		return nil
	}
}

// RENSequence returns the steps needed to reach the given REN mode.
// Like control_ren in the reference client, the checks below are
// independent `if` branches, not a mutually exclusive switch: several
// steps can fire for one mode (e.g. RenAssertAddressLLO asserts REN,
// addresses the device, and sends LLO, in that order).
func RENSequence(mode RENMode) []Step {
	var steps []Step

	switch mode {
	case RenAssert, RenAssertAddress, RenAssertLLO, RenAssertAddressLLO:
		steps = append(steps, Step{Op: OpSetREN, Arg: true})
	}
	switch mode {
	case RenAssertAddress, RenAssertAddressLLO, RenAddressGTL, RenDeassertGTL:
		steps = append(steps, Step{Op: OpAddressAsListener, Arg: true})
	}
	switch mode {
	case RenAssertLLO, RenAssertAddressLLO:
		steps = append(steps, Step{Op: OpSendLLO})
	}
	switch mode {
	case RenDeassertGTL, RenAddressGTL:
		steps = append(steps, Step{Op: OpSendGTL})
	}
	switch mode {
	case RenDeassert:
		steps = append(steps, Step{Op: OpSetREN, Arg: false})
	}
	return steps
}
