package lcn

import (
	"regexp"
	"strconv"
)

// Input is one typed message parsed from a line received from LCN-PCHK.
// The concrete type identifies the message kind; dispatch with a type
// switch.
type Input interface {
	isInput()
}

// ModInput is embedded by every input sourced from a bus module. Source is
// the physical address as it appeared on the wire; the connection manager
// resolves it to a logical address before dispatching.
type ModInput struct {
	Source Address
}

func (ModInput) isInput() {}

// TextKind distinguishes the three multi-block text fields of a module.
type TextKind byte

// Text kinds.
const (
	TextName    TextKind = 'N'
	TextComment TextKind = 'K'
	TextOEM     TextKind = 'O'
)

// AuthUsername is the gateway's username prompt.
type AuthUsername struct{}

// AuthPassword is the gateway's password prompt.
type AuthPassword struct{}

// AuthOK signals accepted credentials.
type AuthOK struct{}

// AuthFailed signals rejected credentials.
type AuthFailed struct{}

// BusConnState signals that the gateway's connection to the physical bus
// came up or went down. This toggles independently of the socket.
type BusConnState struct {
	Connected bool
}

// LicenseError signals that PCHK refused the session for licensing
// reasons.
type LicenseError struct{}

// CommandError is the gateway's complaint about a malformed command.
type CommandError struct {
	Message string
}

func (AuthUsername) isInput() {}
func (AuthPassword) isInput() {}
func (AuthOK) isInput()       {}
func (AuthFailed) isInput()   {}
func (BusConnState) isInput() {}
func (LicenseError) isInput() {}
func (CommandError) isInput() {}

// Ack is a module's acknowledgement of a command sent with the ack flag.
// Code is -1 for a positive acknowledge, otherwise the module's error
// code.
type Ack struct {
	ModInput
	Code int
}

// Positive reports whether the acknowledge is positive.
func (a Ack) Positive() bool { return a.Code == -1 }

// SegmentInfo is a segment coupler's response to a coupler scan.
type SegmentInfo struct {
	ModInput
	SegmentID int
}

// SerialInfo carries a module's serial number and firmware/hardware
// identification.
type SerialInfo struct {
	ModInput
	Serial       uint64
	Manufacturer int
	FirmwareAge  int
	HardwareType int
}

// TextBlock is one block of a module's name (2 blocks), comment (3) or
// OEM text (4). Blocks are twelve characters each.
type TextBlock struct {
	ModInput
	Kind  TextKind
	Block int
	Text  string
}

// OutputStatusPercent is an output level report in percent.
type OutputStatusPercent struct {
	ModInput
	Output  int
	Percent float64
}

// OutputStatusNative is an output level report in native steps 0..200.
type OutputStatusNative struct {
	ModInput
	Output int
	Value  int
}

// RelaysStatus reports the state of all eight relays.
type RelaysStatus struct {
	ModInput
	States [8]bool
}

// BinSensorsStatus reports the state of all eight binary sensors.
type BinSensorsStatus struct {
	ModInput
	States [8]bool
}

// VarStatus reports the native value of a variable, setpoint, threshold
// or S0 input. Var is VarUnknown for typeless responses from firmware
// older than 170206; the device connection attributes those to the most
// recently requested variable.
type VarStatus struct {
	ModInput
	Var   Variable
	Value int
}

// IsLockedRegulator reports whether the value carries the regulator lock
// bit. Only meaningful for setpoint sources.
func (v VarStatus) IsLockedRegulator() bool { return v.Value&0x8000 != 0 }

// LedsLogicStatus reports all twelve LED states and the four
// logic-operation states.
type LedsLogicStatus struct {
	ModInput
	Leds     [12]LedState
	LogicOps [4]LogicOpState
}

// KeyLocksStatus reports the key-lock states of tables A-C, plus D on
// modules that have it.
type KeyLocksStatus struct {
	ModInput
	Tables [][8]bool
}

// HostCommand is one parameter of a multi-value send-command-host
// message. A single line fans out into one HostCommand per parameter.
type HostCommand struct {
	ModInput
	Index int
	Value int
}

// Unknown captures any line no other shape matched. Unrecognized traffic
// is not an error.
type Unknown struct {
	Line string
}

func (Unknown) isInput() {}

// Fixed handshake tokens.
const (
	tokenAuthUsername    = "Username:"
	tokenAuthPassword    = "Password:"
	tokenAuthOK          = "OK"
	tokenAuthFailed      = "Authentification failed."
	tokenBusConnected    = "$io:#LCN:connected"
	tokenBusDisconnected = "$io:#LCN:disconnected"
	tokenLicenseError    = "$err:(license?)"
)

// Message shape patterns, tried in the order listed in parseFuncs.
// All numeric fields are fixed width.
var (
	reCommandError = regexp.MustCompile(`^\((.+)\?\)`)
	reAckPositive  = regexp.MustCompile(`^-M(\d{3})(\d{3})!`)
	reAckNegative  = regexp.MustCompile(`^-M(\d{3})(\d{3})(\d+)`)
	reTextBlock    = regexp.MustCompile(`^=M(\d{3})(\d{3})\.([NKO])(\d)(.{0,12})`)
	reSegmentInfo  = regexp.MustCompile(`^=M(\d{3})(\d{3})\.SK(\d+)`)
	reSerialInfo   = regexp.MustCompile(`^=M(\d{3})(\d{3})\.SN([0-9A-F]{10})([0-9A-F]{2})FW([0-9A-F]{6})HW(\d+)`)
	reOutputPct    = regexp.MustCompile(`^:M(\d{3})(\d{3})A(\d)(\d+)`)
	reOutputNative = regexp.MustCompile(`^:M(\d{3})(\d{3})O(\d)(\d+)`)
	reRelays       = regexp.MustCompile(`^:M(\d{3})(\d{3})Rx(\d+)`)
	reBinSensors   = regexp.MustCompile(`^:M(\d{3})(\d{3})Bx(\d+)`)
	reVarTyped     = regexp.MustCompile(`^%M(\d{3})(\d{3})\.A(\d{3})(\d+)`)
	reSetpoint     = regexp.MustCompile(`^%M(\d{3})(\d{3})\.S(\d)(\d+)`)
	reThreshold    = regexp.MustCompile(`^%M(\d{3})(\d{3})\.T(\d)(\d)(\d+)`)
	reS0Input      = regexp.MustCompile(`^%M(\d{3})(\d{3})\.C(\d)(\d+)`)
	reVarTypeless  = regexp.MustCompile(`^%M(\d{3})(\d{3})\.(\d+)`)
	reThrs5        = regexp.MustCompile(`^=M(\d{3})(\d{3})\.S1(\d{5})(\d{5})(\d{5})(\d{5})(\d{5})(\d{5})`)
	reLedsLogic    = regexp.MustCompile(`^=M(\d{3})(\d{3})\.TL([AEBF]{12})([NTV]{4})`)
	reKeyLocks     = regexp.MustCompile(`^=M(\d{3})(\d{3})\.TX(\d{3})(\d{3})(\d{3})(\d{3})?`)
	reHostCommand  = regexp.MustCompile(`^\+M(\d{3})(\d{3})\.SKH((?:\d{3})+)`)
)

// Parse turns one received line into its typed inputs.
//
// Shapes are tried in a fixed priority order; the first structural match
// wins. Most shapes yield exactly one input; the legacy five-threshold
// report and send-command-host messages yield several. Lines that match
// nothing yield a single Unknown - a well-formed but unrecognized line is
// never a parse failure.
func Parse(line string) []Input {
	for _, parse := range parseFuncs {
		if inputs := parse(line); inputs != nil {
			return inputs
		}
	}
	return []Input{Unknown{Line: line}}
}

// parseFuncs lists the shape matchers in priority order.
var parseFuncs = []func(string) []Input{
	parseAuth,
	parseConnState,
	parseCommandError,
	parseAck,
	parseTextBlock,
	parseSegmentInfo,
	parseSerialInfo,
	parseOutputStatus,
	parseRelays,
	parseBinSensors,
	parseVarStatus,
	parseLedsLogic,
	parseKeyLocks,
	parseHostCommand,
}

func parseAuth(line string) []Input {
	switch line {
	case tokenAuthUsername:
		return []Input{AuthUsername{}}
	case tokenAuthPassword:
		return []Input{AuthPassword{}}
	case tokenAuthOK:
		return []Input{AuthOK{}}
	case tokenAuthFailed:
		return []Input{AuthFailed{}}
	}
	return nil
}

func parseConnState(line string) []Input {
	switch line {
	case tokenBusConnected:
		return []Input{BusConnState{Connected: true}}
	case tokenBusDisconnected:
		return []Input{BusConnState{Connected: false}}
	case tokenLicenseError:
		return []Input{LicenseError{}}
	}
	return nil
}

func parseCommandError(line string) []Input {
	m := reCommandError.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return []Input{CommandError{Message: m[1]}}
}

func parseAck(line string) []Input {
	if m := reAckPositive.FindStringSubmatch(line); m != nil {
		return []Input{Ack{ModInput: modSource(m[1], m[2]), Code: -1}}
	}
	if m := reAckNegative.FindStringSubmatch(line); m != nil {
		code, _ := strconv.Atoi(m[3])
		return []Input{Ack{ModInput: modSource(m[1], m[2]), Code: code}}
	}
	return nil
}

func parseTextBlock(line string) []Input {
	m := reTextBlock.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	block, _ := strconv.Atoi(m[4])
	return []Input{TextBlock{
		ModInput: modSource(m[1], m[2]),
		Kind:     TextKind(m[3][0]),
		Block:    block - 1,
		Text:     m[5],
	}}
}

func parseSegmentInfo(line string) []Input {
	m := reSegmentInfo.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	id, _ := strconv.Atoi(m[3])
	return []Input{SegmentInfo{ModInput: modSource(m[1], m[2]), SegmentID: id}}
}

func parseSerialInfo(line string) []Input {
	m := reSerialInfo.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	serial, _ := strconv.ParseUint(m[3], 16, 64)
	manu, _ := strconv.ParseInt(m[4], 16, 32)
	swAge, _ := strconv.ParseInt(m[5], 16, 32)
	hwType, _ := strconv.Atoi(m[6])
	return []Input{SerialInfo{
		ModInput:     modSource(m[1], m[2]),
		Serial:       serial,
		Manufacturer: int(manu),
		FirmwareAge:  int(swAge),
		HardwareType: hwType,
	}}
}

func parseOutputStatus(line string) []Input {
	if m := reOutputPct.FindStringSubmatch(line); m != nil {
		output, _ := strconv.Atoi(m[3])
		percent, _ := strconv.Atoi(m[4])
		return []Input{OutputStatusPercent{
			ModInput: modSource(m[1], m[2]),
			Output:   output - 1,
			Percent:  float64(percent),
		}}
	}
	if m := reOutputNative.FindStringSubmatch(line); m != nil {
		output, _ := strconv.Atoi(m[3])
		value, _ := strconv.Atoi(m[4])
		return []Input{OutputStatusNative{
			ModInput: modSource(m[1], m[2]),
			Output:   output - 1,
			Value:    value,
		}}
	}
	return nil
}

func parseRelays(line string) []Input {
	m := reRelays.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	states, ok := bitsFromField(m[3])
	if !ok {
		return nil
	}
	return []Input{RelaysStatus{ModInput: modSource(m[1], m[2]), States: states}}
}

func parseBinSensors(line string) []Input {
	m := reBinSensors.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	states, ok := bitsFromField(m[3])
	if !ok {
		return nil
	}
	return []Input{BinSensorsStatus{ModInput: modSource(m[1], m[2]), States: states}}
}

func parseVarStatus(line string) []Input {
	if m := reVarTyped.FindStringSubmatch(line); m != nil {
		id, _ := strconv.Atoi(m[3])
		value, _ := strconv.Atoi(m[4])
		return []Input{VarStatus{ModInput: modSource(m[1], m[2]), Var: VarByID(id - 1), Value: value}}
	}
	if m := reSetpoint.FindStringSubmatch(line); m != nil {
		id, _ := strconv.Atoi(m[3])
		value, _ := strconv.Atoi(m[4])
		return []Input{VarStatus{ModInput: modSource(m[1], m[2]), Var: SetpointByID(id - 1), Value: value}}
	}
	if m := reThreshold.FindStringSubmatch(line); m != nil {
		register, _ := strconv.Atoi(m[3])
		id, _ := strconv.Atoi(m[4])
		value, _ := strconv.Atoi(m[5])
		return []Input{VarStatus{
			ModInput: modSource(m[1], m[2]),
			Var:      ThresholdByID(register-1, id-1),
			Value:    value,
		}}
	}
	if m := reS0Input.FindStringSubmatch(line); m != nil {
		id, _ := strconv.Atoi(m[3])
		value, _ := strconv.Atoi(m[4])
		return []Input{VarStatus{ModInput: modSource(m[1], m[2]), Var: S0ByID(id - 1), Value: value}}
	}
	if m := reVarTypeless.FindStringSubmatch(line); m != nil {
		value, _ := strconv.Atoi(m[3])
		return []Input{VarStatus{ModInput: modSource(m[1], m[2]), Var: VarUnknown, Value: value}}
	}
	if m := reThrs5.FindStringSubmatch(line); m != nil {
		// Legacy register-1 report: five thresholds in one line. The
		// trailing hysteresis field is not exposed as a variable.
		src := modSource(m[1], m[2])
		inputs := make([]Input, 0, 5)
		for i := 0; i < 5; i++ {
			value, _ := strconv.Atoi(m[3+i])
			inputs = append(inputs, VarStatus{
				ModInput: src,
				Var:      ThresholdByID(0, i),
				Value:    value,
			})
		}
		return inputs
	}
	return nil
}

func parseLedsLogic(line string) []Input {
	m := reLedsLogic.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	input := LedsLogicStatus{ModInput: modSource(m[1], m[2])}
	for i := 0; i < 12; i++ {
		input.Leds[i] = LedState(m[3][i])
	}
	for i := 0; i < 4; i++ {
		input.LogicOps[i] = LogicOpState(m[4][i])
	}
	return []Input{input}
}

func parseKeyLocks(line string) []Input {
	m := reKeyLocks.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	input := KeyLocksStatus{ModInput: modSource(m[1], m[2])}
	for i := 3; i <= 6; i++ {
		if m[i] == "" {
			break
		}
		states, ok := bitsFromField(m[i])
		if !ok {
			return nil
		}
		input.Tables = append(input.Tables, states)
	}
	return []Input{input}
}

func parseHostCommand(line string) []Input {
	m := reHostCommand.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	src := modSource(m[1], m[2])
	params := m[3]
	inputs := make([]Input, 0, len(params)/3)
	for i := 0; i+3 <= len(params); i += 3 {
		value, _ := strconv.Atoi(params[i : i+3])
		inputs = append(inputs, HostCommand{ModInput: src, Index: i / 3, Value: value})
	}
	return inputs
}

// modSource builds the physical source address from the two fixed-width
// wire fields.
func modSource(seg, id string) ModInput {
	segment, _ := strconv.Atoi(seg)
	module, _ := strconv.Atoi(id)
	return ModInput{Source: ModuleAddress(segment, module)}
}

// bitsFromField expands a 0..255 byte field into eight booleans, bit 0
// first.
func bitsFromField(field string) ([8]bool, bool) {
	var states [8]bool
	value, err := strconv.Atoi(field)
	if err != nil || value < 0 || value > 255 {
		return states, false
	}
	for i := 0; i < 8; i++ {
		states[i] = value&(1<<i) != 0
	}
	return states, true
}
