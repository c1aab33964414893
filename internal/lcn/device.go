package lcn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StatusItem identifies one pollable status value of a module.
type StatusItem struct {
	kind   ResponseKind
	output int
	vari   Variable
}

// Status item constructors.
func StatusOutput(output int) StatusItem { return StatusItem{kind: RespOutput, output: output} }
func StatusRelays() StatusItem           { return StatusItem{kind: RespRelays} }
func StatusBinSensors() StatusItem       { return StatusItem{kind: RespBinSensors} }
func StatusVar(v Variable) StatusItem    { return StatusItem{kind: RespVar, vari: v} }
func StatusLedsLogic() StatusItem        { return StatusItem{kind: RespLedsLogic} }
func StatusKeyLocks() StatusItem         { return StatusItem{kind: RespKeyLocks} }

// Kind returns the response kind the item correlates with.
func (s StatusItem) Kind() ResponseKind { return s.kind }

// Output returns the output id for output items.
func (s StatusItem) Output() int { return s.output }

// Variable returns the variable for variable items.
func (s StatusItem) Variable() Variable { return s.vari }

// ModuleConnection is the client-side state for one bus module: the
// acknowledge-gated command queue, the module's serial and firmware
// identification, attribution of typeless variable responses and the
// status pollers.
//
// Create instances through Connection.Module; the connection owns the
// lifecycle and resets all module state when the session dies.
type ModuleConnection struct {
	conn *Connection

	mu       sync.Mutex
	addr     Address
	queue    []string
	ackRetry *RetryHandler

	serialRetry *RetryHandler
	serial      SerialInfo
	hasSerial   bool
	serialCh    chan struct{}

	// lastRequestedVar attributes typeless variable responses from old
	// firmware to the variable most recently asked for.
	lastRequestedVar Variable

	pollers map[StatusItem]*statusPoller
}

// statusPoller pairs a retry handler with a stop latch so polling
// activated while the module identification is still pending can be
// cancelled before it arms.
type statusPoller struct {
	mu      sync.Mutex
	retry   *RetryHandler
	stopped bool
}

func (p *statusPoller) arm(interval time.Duration, callback func(failed bool)) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	retry := NewRetryHandler(-1, interval)
	p.retry = retry
	p.mu.Unlock()
	retry.Activate(callback)
}

func (p *statusPoller) stop() {
	p.mu.Lock()
	p.stopped = true
	retry := p.retry
	p.mu.Unlock()
	if retry != nil {
		retry.Cancel()
	}
}

func newModuleConnection(conn *Connection, addr Address) *ModuleConnection {
	return &ModuleConnection{
		conn:             conn,
		addr:             addr,
		ackRetry: NewRetryHandler(conn.cfg.NumTries, conn.cfg.RequestTimeout),
		// The identification is the key to every firmware-dependent
		// decision; keep asking until the module answers.
		serialRetry:      NewRetryHandler(-1, conn.cfg.RequestTimeout),
		serialCh:         make(chan struct{}),
		lastRequestedVar: VarUnknown,
		pollers:          make(map[StatusItem]*statusPoller),
	}
}

// Address returns the module's logical address.
func (m *ModuleConnection) Address() Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// rekey updates the logical address after the segment scan resolved the
// local segment.
func (m *ModuleConnection) rekey(addr Address) {
	m.mu.Lock()
	m.addr = addr
	m.mu.Unlock()
}

// fetchSerial arms the serial request loop. The serial is fetched on
// demand, not eagerly, so idle modules cause no traffic.
func (m *ModuleConnection) fetchSerial() {
	m.mu.Lock()
	has := m.hasSerial
	m.mu.Unlock()
	if has || m.serialRetry.IsActive() {
		return
	}
	m.serialRetry.Activate(func(failed bool) {
		_ = m.conn.sendTo(m.Address(), false, RequestSerial()) //nolint:errcheck // Retried on the next tick
	})
}

// reset discards all per-session state. Runs on session teardown.
func (m *ModuleConnection) reset() {
	m.ackRetry.Cancel()
	m.serialRetry.Cancel()

	m.mu.Lock()
	m.queue = nil
	m.hasSerial = false
	m.serial = SerialInfo{}
	if isClosed(m.serialCh) {
		m.serialCh = make(chan struct{})
	}
	m.lastRequestedVar = VarUnknown
	pollers := m.pollers
	m.pollers = make(map[StatusItem]*statusPoller)
	m.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
}

// handleInput consumes inputs addressed to this module. It may rewrite
// the input (typeless variable attribution) before the requester and the
// observers see it.
func (m *ModuleConnection) handleInput(input Input) Input {
	switch v := input.(type) {
	case Ack:
		m.onAck()
	case SerialInfo:
		m.onSerial(v)
	case VarStatus:
		if v.Var == VarUnknown {
			m.mu.Lock()
			v.Var = m.lastRequestedVar
			m.mu.Unlock()
			return v
		}
	}
	return input
}

// onSerial stores the module identification and stops asking for it.
func (m *ModuleConnection) onSerial(info SerialInfo) {
	m.serialRetry.Cancel()
	m.mu.Lock()
	m.serial = info
	m.hasSerial = true
	if !isClosed(m.serialCh) {
		close(m.serialCh)
	}
	m.mu.Unlock()
}

// Serial returns the module's serial and firmware identification, asking
// the module if it is not known yet.
func (m *ModuleConnection) Serial(ctx context.Context) (SerialInfo, error) {
	m.mu.Lock()
	if m.hasSerial {
		info := m.serial
		m.mu.Unlock()
		return info, nil
	}
	ch := m.serialCh
	m.mu.Unlock()

	m.fetchSerial()

	select {
	case <-ch:
		m.mu.Lock()
		info := m.serial
		m.mu.Unlock()
		return info, nil
	case <-ctx.Done():
		return SerialInfo{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-m.conn.closed:
		return SerialInfo{}, ErrClosed
	}
}

// FirmwareAge returns the module's firmware age, or 0 while unknown.
func (m *ModuleConnection) FirmwareAge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSerial {
		return 0
	}
	return m.serial.FirmwareAge
}

// is2013 reports whether the module firmware takes the 2013-generation
// encodings. Modules with unknown firmware are assumed current; request
// the serial first when exactness matters.
func (m *ModuleConnection) is2013() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.hasSerial || m.serial.FirmwareAge >= Firmware2013
}

// Send transmits a command body to this module. With wantsAck the command
// enters the acknowledge-gated queue: it is retried until the module
// acknowledges and queued commands go out strictly one at a time, in
// order. Without wantsAck the command bypasses the queue.
func (m *ModuleConnection) Send(wantsAck bool, body string) error {
	if !wantsAck {
		return m.conn.sendTo(m.Address(), false, body)
	}

	m.mu.Lock()
	m.queue = append(m.queue, body)
	start := len(m.queue) == 1
	m.mu.Unlock()

	if start {
		m.transmitHead()
	}
	return nil
}

// transmitHead arms the retry loop for the queue head. Exhausted retries
// drop the head and advance; one unreachable command must not wedge the
// queue forever.
func (m *ModuleConnection) transmitHead() {
	m.ackRetry.Activate(func(failed bool) {
		if failed {
			m.conn.logWarn("command not acknowledged, dropping",
				"module", m.Address().String())
			m.advanceQueue()
			return
		}
		m.mu.Lock()
		var head string
		if len(m.queue) > 0 {
			head = m.queue[0]
		}
		m.mu.Unlock()
		if head == "" {
			return
		}
		if err := m.conn.sendTo(m.Address(), true, head); err != nil {
			m.conn.logError("sending queued command", err)
		}
	})
}

// onAck pops the queue head and starts the next queued command.
func (m *ModuleConnection) onAck() {
	m.ackRetry.Cancel()
	m.advanceQueue()
}

// advanceQueue drops the head and transmits the next entry, if any.
func (m *ModuleConnection) advanceQueue() {
	m.mu.Lock()
	if len(m.queue) > 0 {
		m.queue = m.queue[1:]
	}
	next := len(m.queue) > 0
	m.mu.Unlock()

	if next {
		m.transmitHead()
	}
}

// QueueLen returns the number of commands waiting for acknowledgement.
func (m *ModuleConnection) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// --- Output ports ---

// Dim sets an output to the given brightness with a ramp.
//
// Parameters:
//   - output: Output id 0..3
//   - percent: Brightness 0..100, resolution 0.5
//   - rampMsec: Ramp time in milliseconds
func (m *ModuleConnection) Dim(output int, percent float64, rampMsec int) error {
	cmd, err := DimOutput(output, percent, TimeToRamp(rampMsec))
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// DimAll sets all outputs to the given brightness with a ramp.
func (m *ModuleConnection) DimAll(percent float64, rampMsec int) error {
	is1805 := m.FirmwareAge() >= Firmware1805
	return m.Send(true, DimAllOutputs(percent, TimeToRamp(rampMsec), is1805))
}

// Rel changes an output relative to its current value.
func (m *ModuleConnection) Rel(output int, percent float64) error {
	cmd, err := RelOutput(output, percent)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// Toggle toggles a single output with a ramp.
func (m *ModuleConnection) Toggle(output int, rampMsec int) error {
	cmd, err := ToggleOutput(output, TimeToRamp(rampMsec))
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// ToggleAll toggles all outputs with a ramp.
func (m *ModuleConnection) ToggleAll(rampMsec int) error {
	return m.Send(true, ToggleAllOutputs(TimeToRamp(rampMsec)))
}

// --- Relays and motors ---

// ControlRelays changes the eight relays.
func (m *ModuleConnection) ControlRelays(actions [8]RelayAction) error {
	return m.Send(true, ControlRelays(actions))
}

// ControlMotorsViaRelays drives up to four motors connected to relay
// pairs.
func (m *ModuleConnection) ControlMotorsViaRelays(actions [4]MotorAction) error {
	return m.Send(true, ControlMotorsRelays(actions))
}

// ControlMotorViaOutputs drives a motor connected to outputs 1 and 2.
func (m *ModuleConnection) ControlMotorViaOutputs(action MotorAction, reverseTime MotorReverseTime) error {
	cmd, err := ControlMotorsOutputs(action, reverseTime)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// --- Variables, setpoints, thresholds ---

// SetVarAbs sets a regulator setpoint to an absolute native value.
func (m *ModuleConnection) SetVarAbs(v Variable, value int) error {
	cmd, err := VarAbs(v, value)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// ChangeVar changes a variable, setpoint or threshold relative to a
// reference point. The wire form depends on the module's firmware.
func (m *ModuleConnection) ChangeVar(v Variable, ref RefPoint, value int) error {
	cmd, err := VarRel(v, ref, value, m.is2013())
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// ResetVar resets a variable or setpoint to zero.
func (m *ModuleConnection) ResetVar(v Variable) error {
	cmd, err := VarReset(v, m.is2013())
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// LockRegulator locks or unlocks one of the two regulators.
func (m *ModuleConnection) LockRegulator(regulator int, locked bool) error {
	cmd, err := LockRegulator(regulator, locked)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// --- LEDs, keys, locks ---

// SetLed sets a single LED 0..11.
func (m *ModuleConnection) SetLed(led int, state LedState) error {
	cmd, err := ControlLed(led, state)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// SendKeys sends keys of up to four tables.
func (m *ModuleConnection) SendKeys(actions [4]KeyAction, keys [8]bool) error {
	return m.Send(true, SendKeys(actions, keys))
}

// SendKeysDeferred sends keys of one table after a delay.
func (m *ModuleConnection) SendKeysDeferred(table, delay int, unit TimeUnit, keys [8]bool) error {
	cmd, err := SendKeysDeferred(table, delay, unit, keys)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// LockKeys changes the key locks of one table.
func (m *ModuleConnection) LockKeys(table int, actions [8]KeyLockAction) error {
	cmd, err := LockKeys(table, actions)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// LockKeysTemporary locks keys of table A for a limited time.
func (m *ModuleConnection) LockKeysTemporary(duration int, unit TimeUnit, keys [8]bool) error {
	cmd, err := LockKeysTemporary(duration, unit, keys)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// --- Scenes and display ---

// SelectSceneRegister selects the active scene register 0..9.
func (m *ModuleConnection) SelectSceneRegister(register int) error {
	cmd, err := SetSceneRegister(register)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// ActivateSceneOutputs recalls the stored output states of a scene. A
// negative rampMsec keeps the module's programmed ramp.
func (m *ModuleConnection) ActivateSceneOutputs(scene int, outputs []int, rampMsec int) error {
	ramp := -1
	if rampMsec >= 0 {
		ramp = TimeToRamp(rampMsec)
	}
	cmd, err := ActivateSceneOutputs(scene, outputs, ramp)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// ActivateSceneRelays recalls the stored relay states of a scene.
func (m *ModuleConnection) ActivateSceneRelays(scene int, relays []int) error {
	cmd, err := ActivateSceneRelays(scene, relays)
	if err != nil {
		return err
	}
	return m.Send(true, cmd)
}

// SendDynamicText writes one display row of an LCN-GTxD panel. The text
// is transmitted in chunks of twelve bytes, padded to five full parts.
func (m *ModuleConnection) SendDynamicText(row int, text string) error {
	data := []byte(text)
	if len(data) > 60 {
		return fmt.Errorf("%w: text length %d exceeds 60 bytes", ErrInvalidParameter, len(data))
	}
	padded := make([]byte, 60)
	copy(padded, data)
	for part := 0; part < 5; part++ {
		cmd, err := DynTextPart(row, part, padded[part*12:(part+1)*12])
		if err != nil {
			return err
		}
		if err := m.Send(true, cmd); err != nil {
			return err
		}
	}
	return nil
}

// --- Status requests ---

// RequestName fetches the module's name (two blocks of twelve
// characters).
func (m *ModuleConnection) RequestName(ctx context.Context, maxAge time.Duration) (string, error) {
	return m.requestText(ctx, TextName, 2, maxAge)
}

// RequestComment fetches the module's comment (three blocks).
func (m *ModuleConnection) RequestComment(ctx context.Context, maxAge time.Duration) (string, error) {
	return m.requestText(ctx, TextComment, 3, maxAge)
}

// RequestOEMText fetches the module's OEM text (four blocks).
func (m *ModuleConnection) RequestOEMText(ctx context.Context, maxAge time.Duration) (string, error) {
	return m.requestText(ctx, TextOEM, 4, maxAge)
}

// requestText fetches and joins the blocks of one text field.
func (m *ModuleConnection) requestText(ctx context.Context, kind TextKind, blocks int, maxAge time.Duration) (string, error) {
	var b strings.Builder
	for block := 0; block < blocks; block++ {
		cmd, err := textBlockCommand(kind, block)
		if err != nil {
			return "", err
		}
		params := fmt.Sprintf("%c%d", kind, block)
		input, err := m.conn.requester.Request(ctx, m.Address(), RespTextBlock, params, maxAge, func() error {
			return m.conn.sendTo(m.Address(), false, cmd)
		})
		if err != nil {
			return "", err
		}
		b.WriteString(input.(TextBlock).Text)
	}
	return strings.TrimRight(b.String(), " \x00"), nil
}

// textBlockCommand maps a text kind and block to its request command.
func textBlockCommand(kind TextKind, block int) (string, error) {
	switch kind {
	case TextName:
		return RequestNameBlock(block)
	case TextComment:
		return RequestCommentBlock(block)
	case TextOEM:
		return RequestOEMBlock(block)
	}
	return "", fmt.Errorf("%w: text kind %q", ErrInvalidParameter, kind)
}

// RequestOutputStatus fetches one output's level. The result is an
// OutputStatusPercent or OutputStatusNative depending on the session's
// status mode.
func (m *ModuleConnection) RequestOutputStatus(ctx context.Context, output int, maxAge time.Duration) (Input, error) {
	cmd, err := RequestOutputStatus(output)
	if err != nil {
		return nil, err
	}
	return m.conn.requester.Request(ctx, m.Address(), RespOutput, fmt.Sprintf("%d", output), maxAge, func() error {
		return m.conn.sendTo(m.Address(), false, cmd)
	})
}

// RequestRelaysStatus fetches the state of all eight relays.
func (m *ModuleConnection) RequestRelaysStatus(ctx context.Context, maxAge time.Duration) (RelaysStatus, error) {
	input, err := m.conn.requester.Request(ctx, m.Address(), RespRelays, "", maxAge, func() error {
		return m.conn.sendTo(m.Address(), false, RequestRelaysStatus())
	})
	if err != nil {
		return RelaysStatus{}, err
	}
	return input.(RelaysStatus), nil
}

// RequestBinSensorsStatus fetches the state of all eight binary sensors.
func (m *ModuleConnection) RequestBinSensorsStatus(ctx context.Context, maxAge time.Duration) (BinSensorsStatus, error) {
	input, err := m.conn.requester.Request(ctx, m.Address(), RespBinSensors, "", maxAge, func() error {
		return m.conn.sendTo(m.Address(), false, RequestBinSensorsStatus())
	})
	if err != nil {
		return BinSensorsStatus{}, err
	}
	return input.(BinSensorsStatus), nil
}

// RequestVarStatus fetches the value of a variable, setpoint, threshold
// or S0 input. On firmware older than 170206 the module answers without
// naming the variable; the response is attributed to the most recent
// request, so such requests are effectively serialized per module.
func (m *ModuleConnection) RequestVarStatus(ctx context.Context, v Variable, maxAge time.Duration) (VarStatus, error) {
	swAge := m.FirmwareAge()
	if swAge == 0 {
		info, err := m.Serial(ctx)
		if err != nil {
			return VarStatus{}, err
		}
		swAge = info.FirmwareAge
	}
	cmd, err := RequestVarStatus(v, swAge)
	if err != nil {
		return VarStatus{}, err
	}
	input, err := m.conn.requester.Request(ctx, m.Address(), RespVar, v.String(), maxAge, func() error {
		if !v.HasTypeInResponse(swAge) {
			m.mu.Lock()
			m.lastRequestedVar = v
			m.mu.Unlock()
		}
		return m.conn.sendTo(m.Address(), false, cmd)
	})
	if err != nil {
		return VarStatus{}, err
	}
	return input.(VarStatus), nil
}

// RequestLedsAndLogicOps fetches the LED and logic-operation states.
func (m *ModuleConnection) RequestLedsAndLogicOps(ctx context.Context, maxAge time.Duration) (LedsLogicStatus, error) {
	input, err := m.conn.requester.Request(ctx, m.Address(), RespLedsLogic, "", maxAge, func() error {
		return m.conn.sendTo(m.Address(), false, RequestLedsAndLogicOps())
	})
	if err != nil {
		return LedsLogicStatus{}, err
	}
	return input.(LedsLogicStatus), nil
}

// RequestKeyLockStatus fetches the key-lock states of all tables.
func (m *ModuleConnection) RequestKeyLockStatus(ctx context.Context, maxAge time.Duration) (KeyLocksStatus, error) {
	input, err := m.conn.requester.Request(ctx, m.Address(), RespKeyLocks, "", maxAge, func() error {
		return m.conn.sendTo(m.Address(), false, RequestKeyLockStatus())
	})
	if err != nil {
		return KeyLocksStatus{}, err
	}
	return input.(KeyLocksStatus), nil
}

// --- Status polling ---

// ActivateStatusPolling keeps a status value fresh: the matching request
// goes out periodically and the reports surface through the registered
// input handlers. Values the module reports on change by itself are
// polled slowly as a safety net, everything else at the short interval.
//
// Variable polling depends on the module's firmware for both the wire
// form and the interval. While the identification is still unknown the
// poller registers immediately but arms only once the serial answer
// arrives.
func (m *ModuleConnection) ActivateStatusPolling(item StatusItem) error {
	if err := validatePollItem(item); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.pollers[item]; ok {
		m.mu.Unlock()
		return nil
	}
	poller := &statusPoller{}
	m.pollers[item] = poller
	serialCh := m.serialCh
	known := m.hasSerial
	m.mu.Unlock()

	if item.kind == RespVar && !known {
		m.fetchSerial()
		go func() {
			select {
			case <-serialCh:
				m.armPoller(item, poller)
			case <-m.conn.closed:
			}
		}()
		return nil
	}

	m.armPoller(item, poller)
	return nil
}

// CancelStatusPolling stops polling one status value.
func (m *ModuleConnection) CancelStatusPolling(item StatusItem) {
	m.mu.Lock()
	poller, ok := m.pollers[item]
	if ok {
		delete(m.pollers, item)
	}
	m.mu.Unlock()
	if ok {
		poller.stop()
	}
}

// validatePollItem rejects items no poller can serve.
func validatePollItem(item StatusItem) error {
	switch item.kind {
	case RespOutput:
		if item.output < 0 || item.output > 3 {
			return fmt.Errorf("%w: output id %d", ErrInvalidParameter, item.output)
		}
	case RespVar:
		if item.vari == VarUnknown {
			return fmt.Errorf("%w: cannot poll unknown variable", ErrInvalidParameter)
		}
	case RespRelays, RespBinSensors, RespLedsLogic, RespKeyLocks:
	default:
		return fmt.Errorf("%w: status item kind %d", ErrInvalidParameter, item.kind)
	}
	return nil
}

// armPoller starts the periodic request loop. The wire command is
// produced per tick so the variable form always follows the current
// firmware generation.
func (m *ModuleConnection) armPoller(item StatusItem, poller *statusPoller) {
	poller.arm(m.pollInterval(item), func(failed bool) {
		cmd, typeless, err := m.pollCommand(item)
		if err != nil {
			m.conn.logWarn("status value not readable on this firmware, polling stopped",
				"module", m.Address().String(), "error", err.Error())
			m.CancelStatusPolling(item)
			return
		}
		if typeless {
			m.mu.Lock()
			m.lastRequestedVar = item.vari
			m.mu.Unlock()
		}
		_ = m.conn.sendTo(m.Address(), false, cmd) //nolint:errcheck // Retried on the next tick
	})
}

// pollInterval maps a status item to its poll interval.
func (m *ModuleConnection) pollInterval(item StatusItem) time.Duration {
	switch item.kind {
	case RespOutput, RespRelays, RespBinSensors:
		return MaxAgeEventBased
	case RespVar:
		if item.vari.IsEventBased(m.FirmwareAge()) {
			return MaxAgeEventBased
		}
	}
	return MaxAgePolled
}

// pollCommand produces the wire request for one tick. Typeless reports
// whether the answer will carry no variable type and must be attributed.
func (m *ModuleConnection) pollCommand(item StatusItem) (cmd string, typeless bool, err error) {
	switch item.kind {
	case RespOutput:
		cmd, err = RequestOutputStatus(item.output)
	case RespRelays:
		cmd = RequestRelaysStatus()
	case RespBinSensors:
		cmd = RequestBinSensorsStatus()
	case RespVar:
		swAge := m.FirmwareAge()
		cmd, err = RequestVarStatus(item.vari, swAge)
		typeless = !item.vari.HasTypeInResponse(swAge)
	case RespLedsLogic:
		cmd = RequestLedsAndLogicOps()
	case RespKeyLocks:
		cmd = RequestKeyLockStatus()
	}
	return cmd, typeless, err
}

// GroupConnection addresses a module group. Groups never acknowledge and
// never answer status requests, so only fire-and-forget commands exist.
type GroupConnection struct {
	conn *Connection
	addr Address
}

// Address returns the group address.
func (g *GroupConnection) Address() Address { return g.addr }

// Send transmits a command body to the group.
func (g *GroupConnection) Send(body string) error {
	return g.conn.sendTo(g.addr, false, body)
}

// Dim sets an output on all group members.
func (g *GroupConnection) Dim(output int, percent float64, rampMsec int) error {
	cmd, err := DimOutput(output, percent, TimeToRamp(rampMsec))
	if err != nil {
		return err
	}
	return g.Send(cmd)
}

// ControlRelays changes the eight relays on all group members.
func (g *GroupConnection) ControlRelays(actions [8]RelayAction) error {
	return g.Send(ControlRelays(actions))
}

// SendKeys sends keys on all group members.
func (g *GroupConnection) SendKeys(actions [4]KeyAction, keys [8]bool) error {
	return g.Send(SendKeys(actions, keys))
}

// UpdateStatusVar feeds a variable value into PCHK's status distribution.
// Only meaningful when the group is group 4.
func (g *GroupConnection) UpdateStatusVar(v Variable, value int) error {
	cmd, err := UpdateStatusVar(v, value)
	if err != nil {
		return err
	}
	return g.Send(cmd)
}
