package gpib

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopelab/labwire/message"
)

// fakeConn is a minimal in-memory message.Conn: it records every Write
// and serves Read from a preloaded buffer.
type fakeConn struct {
	written [][]byte
	toRead  []byte
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.written = append(f.written, append([]byte{}, p...))
	return len(p), nil
}

func (f *fakeConn) Read(p []byte) (int, error) {
	n := copy(p, f.toRead)
	f.toRead = f.toRead[n:]
	return n, nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func newTestController(cfg ControllerConfig) (*Controller, *fakeConn) {
	fc := &fakeConn{}
	c := &Controller{
		conn:  fc,
		cfg:   cfg,
		state: message.State{ReadTermination: []byte("\n"), Rstrip: true},
	}
	return c, fc
}

func TestController_EnsureAddressSelected_OnlyWritesOnChange(t *testing.T) {
	c, fc := newTestController(ControllerConfig{})

	_, err := c.Write(5, 0, []byte("*IDN?"))
	require.NoError(t, err)
	_, err = c.Write(5, 0, []byte("*RST"))
	require.NoError(t, err)
	_, err = c.Write(6, 0, []byte("*CLS"))
	require.NoError(t, err)

	require.Len(t, fc.written, 5) // ++addr 5, *IDN?, *RST, ++addr 6, *CLS
}

func TestController_AddressSelection_ChangesOnNewPad(t *testing.T) {
	c, fc := newTestController(ControllerConfig{})

	_, err := c.Write(1, 0, []byte("A"))
	require.NoError(t, err)
	assert.Equal(t, "++addr 1\n", string(fc.written[0]))
	assert.Equal(t, "A\n", string(fc.written[1]))

	_, err = c.Write(1, 0, []byte("B"))
	require.NoError(t, err)
	assert.Equal(t, "B\n", string(fc.written[2])) // no repeated ++addr

	_, err = c.Write(2, 3, []byte("C"))
	require.NoError(t, err)
	assert.Equal(t, "++addr 2 3\n", string(fc.written[3]))
	assert.Equal(t, "C\n", string(fc.written[4]))
}

func TestController_PlusPlusBypassesAddressSelection(t *testing.T) {
	c, fc := newTestController(ControllerConfig{})

	_, err := c.Write(1, 0, []byte("++ver"))
	require.NoError(t, err)
	require.Len(t, fc.written, 1)
	assert.Equal(t, "++ver\n", string(fc.written[0]))
	assert.Equal(t, "", c.selected) // address selection state untouched
}

func TestController_Read_SelectsAddressThenIssuesReadCommand(t *testing.T) {
	c, fc := newTestController(ControllerConfig{EOI: true})
	fc.toRead = []byte("reply text\n")

	got, err := c.Read(context.Background(), 4, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "reply text", string(got))
	assert.Equal(t, "++addr 4\n", string(fc.written[0]))
	assert.Equal(t, "++read eoi\n", string(fc.written[1]))
}

func TestEscapePrologix(t *testing.T) {
	in := []byte{0x1b, '\n', '\r', '+', 'x'}
	out := escapePrologix(in)
	assert.Equal(t, []byte{0x1b, 0x1b, 0x1b, '\n', 0x1b, '\r', 0x1b, '+', 'x'}, out)
}

func TestController_SerialPoll(t *testing.T) {
	c, fc := newTestController(ControllerConfig{})
	fc.toRead = []byte("66\n")

	status, err := c.SerialPoll(context.Background(), 9, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(66), status)
	assert.Equal(t, "++spoll 9\n", string(fc.written[0]))
}

func TestIFCSequence(t *testing.T) {
	assert.Equal(t, []Step{{Op: OpGoToStandby}}, IFCSequence(AtnDeassert))
	assert.Equal(t, []Step{{Op: OpTakeControl}}, IFCSequence(AtnAssert))
	assert.Equal(t, []Step{{Op: OpTakeControl, Arg: true}}, IFCSequence(AtnAssertImmediate))
}

func TestRENSequence_AssertAddressLLO(t *testing.T) {
	steps := RENSequence(RenAssertAddressLLO)
	require.Len(t, steps, 3)
	assert.Equal(t, OpSetREN, steps[0].Op)
	assert.True(t, steps[0].Arg)
	assert.Equal(t, OpAddressAsListener, steps[1].Op)
	assert.Equal(t, OpSendLLO, steps[2].Op)
}

func TestRENSequence_Deassert(t *testing.T) {
	steps := RENSequence(RenDeassert)
	require.Len(t, steps, 1)
	assert.Equal(t, OpSetREN, steps[0].Op)
	assert.False(t, steps[0].Arg)
}

func TestParseAddress(t *testing.T) {
	p, err := ParseAddress("GPIB0::6::INSTR")
	require.Error(t, err) // ::INSTR suffix is VISA-grammar, not accepted by the internal board/pad/sad form
	_ = p

	p, err = ParseAddress("GPIB0::6")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Board)
	assert.Equal(t, 6, p.PAD)
	assert.Equal(t, noSecAddr, p.SAD)

	p, err = ParseAddress("GPIB1::6::12")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Board)
	assert.Equal(t, 6, p.PAD)
	assert.Equal(t, 12, p.SAD)

	p, err = ParseAddress("GPIB::my_board")
	require.NoError(t, err)
	assert.Equal(t, "my_board", p.Name)
}
