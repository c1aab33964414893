package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/lcn-core/internal/lcn"
)

// executeCommand validates and dispatches a command message. A nil return
// means the command entered the bus transmit path; the module's own
// acknowledgement follows asynchronously.
func (b *Bridge) executeCommand(addr lcn.Address, msg CommandMessage) error {
	if addr.Group {
		return b.executeGroupCommand(b.bus.Group(addr), msg)
	}
	return b.executeModuleCommand(b.bus.Module(addr), msg)
}

func (b *Bridge) executeModuleCommand(m *lcn.ModuleConnection, msg CommandMessage) error {
	p := msg.Parameters

	switch msg.Command {
	case "on":
		output, err := outputParam(p)
		if err != nil {
			return err
		}
		return m.Dim(output, 100, optionalIntParam(p, "ramp_ms", 0))

	case "off":
		output, err := outputParam(p)
		if err != nil {
			return err
		}
		return m.Dim(output, 0, optionalIntParam(p, "ramp_ms", 0))

	case "dim":
		output, err := outputParam(p)
		if err != nil {
			return err
		}
		percent, err := floatParam(p, "percent")
		if err != nil {
			return err
		}
		return m.Dim(output, percent, optionalIntParam(p, "ramp_ms", 0))

	case "dim_all":
		percent, err := floatParam(p, "percent")
		if err != nil {
			return err
		}
		return m.DimAll(percent, optionalIntParam(p, "ramp_ms", 0))

	case "rel":
		output, err := outputParam(p)
		if err != nil {
			return err
		}
		delta, err := floatParam(p, "delta")
		if err != nil {
			return err
		}
		return m.Rel(output, delta)

	case "toggle":
		output, err := outputParam(p)
		if err != nil {
			return err
		}
		return m.Toggle(output, optionalIntParam(p, "ramp_ms", 0))

	case "toggle_all":
		return m.ToggleAll(optionalIntParam(p, "ramp_ms", 0))

	case "relays":
		states, err := stringParam(p, "states")
		if err != nil {
			return err
		}
		actions, err := relayActions(states)
		if err != nil {
			return err
		}
		return m.ControlRelays(actions)

	case "motors":
		names, err := stringSliceParam(p, "actions")
		if err != nil {
			return err
		}
		actions, err := motorActions(names)
		if err != nil {
			return err
		}
		return m.ControlMotorsViaRelays(actions)

	case "var_abs":
		v, value, err := variableValueParams(p)
		if err != nil {
			return err
		}
		return m.SetVarAbs(v, value)

	case "var_rel":
		v, value, err := variableValueParams(p)
		if err != nil {
			return err
		}
		ref, err := refPoint(optionalStringParam(p, "ref", "current"))
		if err != nil {
			return err
		}
		return m.ChangeVar(v, ref, value)

	case "var_reset":
		v, err := variableParam(p)
		if err != nil {
			return err
		}
		return m.ResetVar(v)

	case "lock_regulator":
		regulator, err := intParam(p, "regulator")
		if err != nil {
			return err
		}
		regulator--
		locked, err := boolParam(p, "locked")
		if err != nil {
			return err
		}
		return m.LockRegulator(regulator, locked)

	case "led":
		led, err := intParam(p, "led")
		if err != nil {
			return err
		}
		led--
		name, err := stringParam(p, "state")
		if err != nil {
			return err
		}
		state, err := ledState(name)
		if err != nil {
			return err
		}
		return m.SetLed(led, state)

	case "send_keys":
		actions, keys, err := sendKeysParams(p)
		if err != nil {
			return err
		}
		return m.SendKeys(actions, keys)

	case "lock_keys":
		table, err := tableParam(p)
		if err != nil {
			return err
		}
		states, err := stringParam(p, "states")
		if err != nil {
			return err
		}
		actions, err := keyLockActions(states)
		if err != nil {
			return err
		}
		return m.LockKeys(table, actions)

	case "scene":
		return b.activateScene(m, p, false)

	case "scene_relays":
		return b.activateScene(m, p, true)

	case "dynamic_text":
		row, err := intParam(p, "row")
		if err != nil {
			return err
		}
		row--
		text, err := stringParam(p, "text")
		if err != nil {
			return err
		}
		return m.SendDynamicText(row, text)

	case "read":
		name, err := stringParam(p, "item")
		if err != nil {
			return err
		}
		item, err := statusItem(name)
		if err != nil {
			return err
		}
		b.readStatus(m, item)
		return nil

	case "poll_start":
		name, err := stringParam(p, "item")
		if err != nil {
			return err
		}
		item, err := statusItem(name)
		if err != nil {
			return err
		}
		return m.ActivateStatusPolling(item)

	case "poll_stop":
		name, err := stringParam(p, "item")
		if err != nil {
			return err
		}
		item, err := statusItem(name)
		if err != nil {
			return err
		}
		m.CancelStatusPolling(item)
		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
}

// executeGroupCommand handles the subset of commands that make sense for
// a whole group at once. Groups never acknowledge.
func (b *Bridge) executeGroupCommand(g *lcn.GroupConnection, msg CommandMessage) error {
	p := msg.Parameters

	switch msg.Command {
	case "on":
		output, err := outputParam(p)
		if err != nil {
			return err
		}
		return g.Dim(output, 100, optionalIntParam(p, "ramp_ms", 0))

	case "off":
		output, err := outputParam(p)
		if err != nil {
			return err
		}
		return g.Dim(output, 0, optionalIntParam(p, "ramp_ms", 0))

	case "dim":
		output, err := outputParam(p)
		if err != nil {
			return err
		}
		percent, err := floatParam(p, "percent")
		if err != nil {
			return err
		}
		return g.Dim(output, percent, optionalIntParam(p, "ramp_ms", 0))

	case "relays":
		states, err := stringParam(p, "states")
		if err != nil {
			return err
		}
		actions, err := relayActions(states)
		if err != nil {
			return err
		}
		return g.ControlRelays(actions)

	case "send_keys":
		actions, keys, err := sendKeysParams(p)
		if err != nil {
			return err
		}
		return g.SendKeys(actions, keys)
	}

	return fmt.Errorf("%w: %q not available for groups", ErrUnknownCommand, msg.Command)
}

// activateScene selects the scene register and recalls the scene on the
// listed outputs or relays.
func (b *Bridge) activateScene(m *lcn.ModuleConnection, p map[string]interface{}, relays bool) error {
	register, err := intParam(p, "register")
	if err != nil {
		return err
	}
	scene, err := intParam(p, "scene")
	if err != nil {
		return err
	}
	if err := m.SelectSceneRegister(register - 1); err != nil {
		return err
	}

	if relays {
		ids, err := intSliceParam(p, "relays")
		if err != nil {
			return err
		}
		return m.ActivateSceneRelays(scene-1, zeroBased(ids))
	}
	ids, err := intSliceParam(p, "outputs")
	if err != nil {
		return err
	}
	return m.ActivateSceneOutputs(scene-1, zeroBased(ids), optionalIntParam(p, "ramp_ms", 0))
}

// readStatus requests a status item in the background. The response
// reaches MQTT through the regular input path, so nothing is published
// here.
func (b *Bridge) readStatus(m *lcn.ModuleConnection, item lcn.StatusItem) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.requestItem(m, item); err != nil {
			b.logWarn("status read failed",
				"module", m.Address().String(), "error", err.Error())
		}
	}()
}

func (b *Bridge) requestItem(m *lcn.ModuleConnection, item lcn.StatusItem) error {
	var err error
	switch item.Kind() {
	case lcn.RespOutput:
		_, err = m.RequestOutputStatus(b.ctx, item.Output(), lcn.ForceFresh)
	case lcn.RespRelays:
		_, err = m.RequestRelaysStatus(b.ctx, lcn.ForceFresh)
	case lcn.RespBinSensors:
		_, err = m.RequestBinSensorsStatus(b.ctx, lcn.ForceFresh)
	case lcn.RespVar:
		_, err = m.RequestVarStatus(b.ctx, item.Variable(), lcn.ForceFresh)
	case lcn.RespLedsLogic:
		_, err = m.RequestLedsAndLogicOps(b.ctx, lcn.ForceFresh)
	case lcn.RespKeyLocks:
		_, err = m.RequestKeyLockStatus(b.ctx, lcn.ForceFresh)
	}
	return err
}

// codeForError maps a dispatch error onto the ack error code vocabulary.
func codeForError(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, lcn.ErrInvalidParameter):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, lcn.ErrInvalidAddress):
		return ErrCodeInvalidAddress
	case errors.Is(err, lcn.ErrNotConnected), errors.Is(err, lcn.ErrClosed),
		errors.Is(err, lcn.ErrTimeout), errors.Is(err, lcn.ErrNoResult):
		return ErrCodeProtocolError
	}
	return ErrCodeBridgeError
}

// =============================================================================
// Parameter Extraction
// =============================================================================

// JSON numbers arrive as float64; the helpers below narrow them. Ids on
// the MQTT surface are 1-based, matching the state item names; the
// protocol layer counts from 0.

// outputParam reads the 1-based "output" parameter.
func outputParam(p map[string]interface{}) (int, error) {
	output, err := intParam(p, "output")
	if err != nil {
		return 0, err
	}
	return output - 1, nil
}

func zeroBased(ids []int) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = id - 1
	}
	return out
}

func intParam(p map[string]interface{}, key string) (int, error) {
	raw, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameter, key)
	}
	return int(f), nil
}

func optionalIntParam(p map[string]interface{}, key string, def int) int {
	if f, ok := p[key].(float64); ok {
		return int(f)
	}
	return def
}

func floatParam(p map[string]interface{}, key string) (float64, error) {
	raw, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameter, key)
	}
	return f, nil
}

func stringParam(p map[string]interface{}, key string) (string, error) {
	raw, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidParameter, key)
	}
	return s, nil
}

func optionalStringParam(p map[string]interface{}, key, def string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return def
}

func boolParam(p map[string]interface{}, key string) (bool, error) {
	raw, ok := p[key]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	v, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a boolean", ErrInvalidParameter, key)
	}
	return v, nil
}

func intSliceParam(p map[string]interface{}, key string) ([]int, error) {
	raw, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %q must be an array of numbers", ErrInvalidParameter, key)
	}
	out := make([]int, 0, len(list))
	for _, item := range list {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %q must be an array of numbers", ErrInvalidParameter, key)
		}
		out = append(out, int(f))
	}
	return out, nil
}

func stringSliceParam(p map[string]interface{}, key string) ([]string, error) {
	raw, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %q must be an array of strings", ErrInvalidParameter, key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q must be an array of strings", ErrInvalidParameter, key)
		}
		out = append(out, s)
	}
	return out, nil
}

// variableParam resolves the "variable" parameter by its short name, the
// same form the status topics use: "var3", "setpoint1", "thrs2.4",
// "s0input1".
func variableParam(p map[string]interface{}) (lcn.Variable, error) {
	name, err := stringParam(p, "variable")
	if err != nil {
		return lcn.VarUnknown, err
	}
	return parseVariable(name)
}

func variableValueParams(p map[string]interface{}) (lcn.Variable, int, error) {
	v, err := variableParam(p)
	if err != nil {
		return lcn.VarUnknown, 0, err
	}
	value, err := intParam(p, "value")
	if err != nil {
		return lcn.VarUnknown, 0, err
	}
	return v, value, nil
}

// tableParam resolves the "table" parameter, "A".."D" or 0..3.
func tableParam(p map[string]interface{}) (int, error) {
	switch raw := p["table"].(type) {
	case nil:
		return 0, fmt.Errorf("%w: %q", ErrMissingParameter, "table")
	case float64:
		return int(raw), nil
	case string:
		if len(raw) == 1 && raw[0] >= 'A' && raw[0] <= 'D' {
			return int(raw[0] - 'A'), nil
		}
		return 0, fmt.Errorf("%w: table %q", ErrInvalidParameter, raw)
	}
	return 0, fmt.Errorf("%w: %q must be a letter or number", ErrInvalidParameter, "table")
}

// sendKeysParams builds the per-table actions and the key mask for a
// send_keys command. "keys" is an eight-character mask of '1' and '0';
// "tables" lists the targeted tables, e.g. "AB"; "action" is "hit",
// "make" or "break" and applies to all targeted tables.
func sendKeysParams(p map[string]interface{}) ([4]lcn.KeyAction, [8]bool, error) {
	var actions [4]lcn.KeyAction
	var keys [8]bool

	mask, err := stringParam(p, "keys")
	if err != nil {
		return actions, keys, err
	}
	keys, err = keyMask(mask)
	if err != nil {
		return actions, keys, err
	}

	action, err := keyAction(optionalStringParam(p, "action", "hit"))
	if err != nil {
		return actions, keys, err
	}

	tables := optionalStringParam(p, "tables", "A")
	for i := range actions {
		actions[i] = lcn.KeyDontSend
	}
	for _, letter := range tables {
		if letter < 'A' || letter > 'D' {
			return actions, keys, fmt.Errorf("%w: table %q", ErrInvalidParameter, string(letter))
		}
		actions[letter-'A'] = action
	}
	return actions, keys, nil
}

// =============================================================================
// Enum Parsing
// =============================================================================

func relayActions(states string) ([8]lcn.RelayAction, error) {
	var actions [8]lcn.RelayAction
	if len(states) != 8 {
		return actions, fmt.Errorf("%w: relay states must be 8 characters", ErrInvalidParameter)
	}
	for i, c := range states {
		switch c {
		case '1':
			actions[i] = lcn.RelayOn
		case '0':
			actions[i] = lcn.RelayOff
		case 'T', 'U':
			actions[i] = lcn.RelayToggle
		case '-':
			actions[i] = lcn.RelayNoChange
		default:
			return actions, fmt.Errorf("%w: relay state %q", ErrInvalidParameter, string(c))
		}
	}
	return actions, nil
}

func motorActions(names []string) ([4]lcn.MotorAction, error) {
	var actions [4]lcn.MotorAction
	if len(names) != 4 {
		return actions, fmt.Errorf("%w: motor actions must list 4 motors", ErrInvalidParameter)
	}
	for i, name := range names {
		switch name {
		case "up":
			actions[i] = lcn.MotorUp
		case "down":
			actions[i] = lcn.MotorDown
		case "stop":
			actions[i] = lcn.MotorStop
		case "toggle":
			actions[i] = lcn.MotorToggleDir
		case "cycle":
			actions[i] = lcn.MotorCycle
		case "-", "":
			actions[i] = lcn.MotorNoChange
		default:
			return actions, fmt.Errorf("%w: motor action %q", ErrInvalidParameter, name)
		}
	}
	return actions, nil
}

func keyLockActions(states string) ([8]lcn.KeyLockAction, error) {
	var actions [8]lcn.KeyLockAction
	if len(states) != 8 {
		return actions, fmt.Errorf("%w: lock states must be 8 characters", ErrInvalidParameter)
	}
	for i, c := range states {
		switch c {
		case '1':
			actions[i] = lcn.KeyLockOn
		case '0':
			actions[i] = lcn.KeyLockOff
		case 'T', 'U':
			actions[i] = lcn.KeyLockToggle
		case '-':
			actions[i] = lcn.KeyLockNoChange
		default:
			return actions, fmt.Errorf("%w: lock state %q", ErrInvalidParameter, string(c))
		}
	}
	return actions, nil
}

func keyMask(mask string) ([8]bool, error) {
	var keys [8]bool
	if len(mask) != 8 {
		return keys, fmt.Errorf("%w: key mask must be 8 characters", ErrInvalidParameter)
	}
	for i, c := range mask {
		switch c {
		case '1':
			keys[i] = true
		case '0':
		default:
			return keys, fmt.Errorf("%w: key mask %q", ErrInvalidParameter, mask)
		}
	}
	return keys, nil
}

func keyAction(name string) (lcn.KeyAction, error) {
	switch name {
	case "hit":
		return lcn.KeyHit, nil
	case "make":
		return lcn.KeyMake, nil
	case "break":
		return lcn.KeyBreak, nil
	}
	return lcn.KeyDontSend, fmt.Errorf("%w: key action %q", ErrInvalidParameter, name)
}

func ledState(name string) (lcn.LedState, error) {
	switch name {
	case "on":
		return lcn.LedOn, nil
	case "off":
		return lcn.LedOff, nil
	case "blink":
		return lcn.LedBlink, nil
	case "flicker":
		return lcn.LedFlicker, nil
	}
	return lcn.LedOff, fmt.Errorf("%w: led state %q", ErrInvalidParameter, name)
}

func refPoint(name string) (lcn.RefPoint, error) {
	switch name {
	case "current":
		return lcn.RefCurrent, nil
	case "programmed":
		return lcn.RefProgrammed, nil
	}
	return lcn.RefCurrent, fmt.Errorf("%w: reference point %q", ErrInvalidParameter, name)
}

// parseVariable inverts the short variable names used on the wire-facing
// status topics.
func parseVariable(name string) (lcn.Variable, error) {
	switch {
	case strings.HasPrefix(name, "var"):
		if id, err := strconv.Atoi(name[3:]); err == nil {
			if v := lcn.VarByID(id - 1); v != lcn.VarUnknown {
				return v, nil
			}
		}
	case strings.HasPrefix(name, "setpoint"):
		if id, err := strconv.Atoi(name[8:]); err == nil {
			if v := lcn.SetpointByID(id - 1); v != lcn.VarUnknown {
				return v, nil
			}
		}
	case strings.HasPrefix(name, "thrs"):
		if register, id, ok := strings.Cut(name[4:], "."); ok {
			r, err1 := strconv.Atoi(register)
			i, err2 := strconv.Atoi(id)
			if err1 == nil && err2 == nil {
				if v := lcn.ThresholdByID(r-1, i-1); v != lcn.VarUnknown {
					return v, nil
				}
			}
		}
	case strings.HasPrefix(name, "s0input"):
		if id, err := strconv.Atoi(name[7:]); err == nil {
			if v := lcn.S0ByID(id - 1); v != lcn.VarUnknown {
				return v, nil
			}
		}
	}
	return lcn.VarUnknown, fmt.Errorf("%w: variable %q", ErrInvalidParameter, name)
}

// statusItem resolves a status item name: "output1".."output4", "relays",
// "binsensors", "leds", "keylocks" or a variable name.
func statusItem(name string) (lcn.StatusItem, error) {
	switch name {
	case "output1", "output2", "output3", "output4":
		return lcn.StatusOutput(int(name[6]-'0') - 1), nil
	case "relays":
		return lcn.StatusRelays(), nil
	case "binsensors":
		return lcn.StatusBinSensors(), nil
	case "leds":
		return lcn.StatusLedsLogic(), nil
	case "keylocks":
		return lcn.StatusKeyLocks(), nil
	}
	if v, err := parseVariable(name); err == nil {
		return lcn.StatusVar(v), nil
	}
	return lcn.StatusItem{}, fmt.Errorf("%w: status item %q", ErrInvalidParameter, name)
}
