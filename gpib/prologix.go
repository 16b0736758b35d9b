package gpib

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	labwire "github.com/scopelab/labwire/internal/werrors"
	"github.com/scopelab/labwire/message"
)

// ControllerMode mirrors the Prologix ++mode setting: whether the
// adapter itself appears on the bus as a GPIB device (0) or drives the
// bus as controller-in-charge (1).
type ControllerMode int

const (
	ModeDevice ControllerMode = iota
	ModeController
)

// ControllerConfig is the one-time adapter configuration applied by
// GetController, mirroring the ++mode/++eoi/++eos/++eot_char/
// ++eot_enable/++read_tmo_ms sequence in the reference client's
// PrologixUSB/PrologixEthernet constructors.
type ControllerConfig struct {
	Mode             ControllerMode
	EOI              bool
	EOS              int // 0=CR+LF 1=CR 2=LF 3=none, matches ++eos
	EOTChar          byte
	EOTEnable        bool
	ReadTimeout      time.Duration
	EscapeCharacters bool
}

// registry is the process-wide table of open Controllers keyed by
// hardware address (host:port for Ethernet, device path for USB),
// mirroring the reference client's class-level Prologix._controllers
// dict: several GPIB device handles that share one physical adapter
// share one Controller and its lock, rather than opening the transport
// twice.
var registry = struct {
	mu    sync.Mutex
	ctrls map[string]*Controller
}{ctrls: map[string]*Controller{}}

// GetController returns the Controller for hwAddress, creating and
// initializing one via dial if this is the first request for that
// address.
func GetController(ctx context.Context, hwAddress string, dial func() (message.Conn, error), cfg ControllerConfig, log labwire.Logger) (*Controller, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if c, ok := registry.ctrls[hwAddress]; ok {
		return c, nil
	}
	conn, err := dial()
	if err != nil {
		return nil, labwire.NewError(labwire.KindConnection, "gpib.GetController", err)
	}
	c := &Controller{
		conn: conn,
		cfg:  cfg,
		log:  log,
		state: message.State{
			ReadTermination: []byte("\n"),
			Timeout:         cfg.ReadTimeout,
			Rstrip:          true,
		},
	}
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	registry.ctrls[hwAddress] = c
	return c, nil
}

// Controller drives one Prologix USB-GPIB or GPIB-ETHERNET adapter over
// a serial or TCP transport (transport.Serial/transport.Stream, both of
// which satisfy message.Conn).
type Controller struct {
	conn  message.Conn
	state message.State
	cfg   ControllerConfig
	log   labwire.Logger

	mu       sync.Mutex
	selected string // "<pad>" or "<pad> <sad>" currently addressed by ++addr, "" if none yet
}

func (c *Controller) init(ctx context.Context) error {
	mode := 0
	if c.cfg.Mode == ModeController {
		mode = 1
	}
	eoi := 0
	if c.cfg.EOI {
		eoi = 1
	}
	eot := 0
	if c.cfg.EOTEnable {
		eot = 1
	}
	cmds := []string{
		fmt.Sprintf("++mode %d", mode),
		fmt.Sprintf("++eoi %d", eoi),
		fmt.Sprintf("++eos %d", c.cfg.EOS),
		fmt.Sprintf("++eot_char %d", c.cfg.EOTChar),
		fmt.Sprintf("++eot_enable %d", eot),
	}
	if c.cfg.Mode == ModeController {
		cmds = append(cmds, fmt.Sprintf("++read_tmo_ms %d", c.cfg.ReadTimeout.Milliseconds()))
	}
	for _, cmd := range cmds {
		if _, err := c.rawWrite(cmd); err != nil {
			return err
		}
	}
	return nil
}

func addressKey(pad, sad int) string {
	if sad == 0 {
		return strconv.Itoa(pad)
	}
	return fmt.Sprintf("%d %d", pad, sad)
}

// ensureAddressSelected writes ++addr only when the adapter's currently
// selected GPIB address differs from pad/sad, matching
// _ensure_gpib_address_selected in the reference client. Callers must
// hold c.mu.
func (c *Controller) ensureAddressSelected(pad, sad int) error {
	key := addressKey(pad, sad)
	if c.selected == key {
		return nil
	}
	if _, err := c.rawWrite("++addr " + key); err != nil {
		return err
	}
	c.selected = key
	return nil
}

// rawWrite sends a bare ++-prefixed controller command, appending a
// trailing newline if missing. Callers must hold c.mu, except init()
// which runs before any concurrent access is possible.
func (c *Controller) rawWrite(cmd string) (int, error) {
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	return c.state.Write(c.conn, []byte(cmd))
}

// escapePrologix prefixes each ESC, newline, carriage return, and '+'
// byte with ESC in a single pass over the input, so an inserted ESC is
// never itself re-escaped, matching the reference client's to_bytes
// escaping when escape_characters is enabled.
func escapePrologix(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		switch b {
		case 0x1b, '\n', '\r', '+':
			out = append(out, 0x1b)
		}
		out = append(out, b)
	}
	return out
}

// Write sends data to the device at pad/sad. A message that already
// starts with "++" is a controller command and bypasses address
// selection entirely, matching the reference client's write() branch.
func (c *Controller) Write(pad, sad int, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.HasPrefix(string(data), "++") {
		return c.rawWrite(string(data))
	}

	if err := c.ensureAddressSelected(pad, sad); err != nil {
		return 0, err
	}

	out := data
	if c.cfg.EscapeCharacters {
		out = escapePrologix(data)
	}
	out = append(append([]byte{}, out...), '\n')
	return c.state.Write(c.conn, out)
}

// Read addresses pad/sad, issues ++read, and returns the response.
func (c *Controller) Read(ctx context.Context, pad, sad int, size int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureAddressSelected(pad, sad); err != nil {
		return nil, err
	}
	readCmd := "++read eoi"
	if !c.cfg.EOI {
		readCmd = fmt.Sprintf("++read %d", c.cfg.EOTChar)
	}
	if _, err := c.rawWrite(readCmd); err != nil {
		return nil, err
	}
	return c.state.Read(ctx, c.conn, size)
}

// Clear issues Selected Device Clear to the device at pad/sad.
func (c *Controller) Clear(pad, sad int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureAddressSelected(pad, sad); err != nil {
		return err
	}
	_, err := c.rawWrite("++clr")
	return err
}

// Local returns the device at pad/sad to front-panel control.
func (c *Controller) Local(pad, sad int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureAddressSelected(pad, sad); err != nil {
		return err
	}
	_, err := c.rawWrite("++loc")
	return err
}

// RemoteEnable asserts REN on the bus.
func (c *Controller) RemoteEnable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.rawWrite("++ren 1")
	return err
}

// Trigger issues a Group Execute Trigger to the device at pad/sad.
func (c *Controller) Trigger(pad, sad int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureAddressSelected(pad, sad); err != nil {
		return err
	}
	_, err := c.rawWrite("++trg")
	return err
}

// InterfaceClear asserts IFC on the bus.
func (c *Controller) InterfaceClear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.rawWrite("++ifc")
	return err
}

// ResetController reboots the Prologix adapter's firmware.
func (c *Controller) ResetController() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.rawWrite("++rst")
	return err
}

// SerialPoll returns the status byte of the device at pad/sad.
func (c *Controller) SerialPoll(ctx context.Context, pad, sad int) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := "++spoll " + strconv.Itoa(pad)
	if sad != 0 {
		cmd += " " + strconv.Itoa(sad)
	}
	if _, err := c.rawWrite(cmd); err != nil {
		return 0, err
	}
	resp, err := c.state.Read(ctx, c.conn, -1)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(resp)))
	if err != nil {
		return 0, labwire.NewError(labwire.KindProtocol, "gpib.Controller.SerialPoll", fmt.Errorf("unexpected ++spoll reply %q", resp))
	}
	return byte(n), nil
}

// WaitForSRQ polls ++srq every interval until it reports the service
// request line is asserted or ctx is done, mirroring wait_for_srq in
// the reference client's polling loop.
func (c *Controller) WaitForSRQ(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		_, err := c.rawWrite("++srq")
		if err == nil {
			resp, rerr := c.state.Read(ctx, c.conn, -1)
			err = rerr
			if rerr == nil && strings.TrimSpace(string(resp)) == "1" {
				c.mu.Unlock()
				return nil
			}
		}
		c.mu.Unlock()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return labwire.NewError(labwire.KindTimeout, "gpib.Controller.WaitForSRQ", ctx.Err())
		case <-ticker.C:
		}
	}
}
