package lcn

import (
	"fmt"
	"time"
)

// Firmware age thresholds selecting between wire encodings. A module's
// firmware age is encoded as 0xYYMMDD of its release date.
const (
	// Firmware2013 marks the 2013 module generation. Relative variable
	// and threshold commands use the newer encoding from here on.
	Firmware2013 = 0x170101

	// FirmwareTypedVars marks the firmware from which variable status
	// responses carry their type and generic id-based read commands
	// (MWT, MWS, SE, MWC) exist.
	FirmwareTypedVars = 0x170206

	// Firmware1805 marks the firmware from which all four outputs can be
	// dimmed natively in one command (OY).
	Firmware1805 = 0x180501
)

// Connection defaults, overridable via ConnectionConfig.
const (
	// DefaultNumTries is the number of attempts for acknowledged commands
	// and status requests before giving up.
	DefaultNumTries = 3

	// DefaultScanTries is the number of segment coupler scan broadcasts
	// before assuming no coupler is present.
	DefaultScanTries = 3

	// DefaultRequestTimeout is the per-attempt timeout for acknowledged
	// commands and status requests.
	DefaultRequestTimeout = 3500 * time.Millisecond

	// DefaultPingInterval is how often a keepalive ping is sent. PCHK
	// closes idle sockets after ten minutes by default.
	DefaultPingInterval = 10 * time.Minute

	// MaxAgeEventBased is the poll interval for status values the module
	// reports on change by itself; polling is only a keepalive here.
	MaxAgeEventBased = 10 * time.Minute

	// MaxAgePolled is the poll interval for status values that are never
	// reported spontaneously and must always be polled.
	MaxAgePolled = 30 * time.Second

	// StatusRequestDelayAfterCommand is how long to wait before polling a
	// status that a just-sent command may have changed.
	StatusRequestDelayAfterCommand = 2 * time.Second

	// DefaultMaxInFlightRequests bounds the number of distinct status
	// requests simultaneously on the wire.
	DefaultMaxInFlightRequests = 10
)

// DimMode is the output-port dimming granularity the bus is programmed for.
// All modules of a bus share one mode; STEPS200 requires the 170206 firmware
// generation on every module.
type DimMode int

// Dimming modes.
const (
	DimSteps50  DimMode = iota // 0..50 steps, all module generations
	DimSteps200                // 0..200 steps, since 170206
)

// StatusMode selects how PCHK reports output-port status.
type StatusMode int

// Status modes.
const (
	StatusPercent StatusMode = iota // percent (0..100)
	StatusNative                    // native steps (0..200)
)

// RelayAction is a per-relay modifier within a relay control command.
type RelayAction byte

// Relay actions.
const (
	RelayOn       RelayAction = '1'
	RelayOff      RelayAction = '0'
	RelayToggle   RelayAction = 'U'
	RelayNoChange RelayAction = '-'
)

// MotorAction is a per-motor modifier within a motor control command.
// Motors connected to relays occupy two relays each (on/off, direction).
type MotorAction int

// Motor actions.
const (
	MotorUp MotorAction = iota
	MotorDown
	MotorStop
	MotorToggleOnOff
	MotorToggleDir
	MotorCycle // up, stop, down, stop, ...
	MotorNoChange
)

// MotorReverseTime is the reversing delay for motors driven via output
// ports on modules with firmware older than 190C.
type MotorReverseTime int

// Motor reverse times.
const (
	ReverseTime70ms MotorReverseTime = iota
	ReverseTime600ms
	ReverseTime1200ms
)

// RefPoint is the reference for relative setpoint/threshold changes.
type RefPoint int

// Reference points.
const (
	RefCurrent    RefPoint = iota // relative to the current value
	RefProgrammed                 // relative to the LCN-PRO programmed value
)

// LedState is the state of a module LED.
type LedState byte

// LED states.
const (
	LedOff     LedState = 'A'
	LedOn      LedState = 'E'
	LedBlink   LedState = 'B'
	LedFlicker LedState = 'F'
)

// LogicOpState is the state of a module logic operation.
type LogicOpState byte

// Logic-operation states.
const (
	LogicOpNone LogicOpState = 'N'
	LogicOpOr   LogicOpState = 'T'
	LogicOpAnd  LogicOpState = 'V'
)

// KeyAction is the command type used when sending keys of one table.
type KeyAction byte

// Key actions.
const (
	KeyHit      KeyAction = 'K'
	KeyMake     KeyAction = 'L'
	KeyBreak    KeyAction = 'O'
	KeyDontSend KeyAction = '-'
)

// KeyLockAction is a per-key modifier within a key-lock command.
type KeyLockAction byte

// Key-lock actions.
const (
	KeyLockOn       KeyLockAction = '1'
	KeyLockOff      KeyLockAction = '0'
	KeyLockToggle   KeyLockAction = 'U'
	KeyLockNoChange KeyLockAction = '-'
)

// TimeUnit is the unit for timed commands (deferred keys, temporary locks).
type TimeUnit byte

// Time units.
const (
	UnitSeconds TimeUnit = 'S'
	UnitMinutes TimeUnit = 'M'
	UnitHours   TimeUnit = 'H'
	UnitDays    TimeUnit = 'D'
)

// maxTime returns the largest value a timed command accepts for the unit.
func (u TimeUnit) maxTime() int {
	switch u {
	case UnitSeconds:
		return 60
	case UnitMinutes:
		return 90
	case UnitHours:
		return 50
	case UnitDays:
		return 45
	}
	return 0
}

// Variable identifies a module data source: one of the twelve variables,
// a regulator setpoint, a threshold or an S0 input counter.
type Variable int

// Variables. Var1..Var3 double as the T-variable and the two regulator
// variables on older hardware.
const (
	VarUnknown Variable = iota - 1 // type not known (yet)
	Var1                           // a.k.a. TVar
	Var2                           // a.k.a. R1Var
	Var3                           // a.k.a. R2Var
	Var4
	Var5
	Var6
	Var7
	Var8
	Var9
	Var10
	Var11
	Var12 // since 170206
	SetpointR1
	SetpointR2
	Thrs1 // register 1 (five thresholds before 170206)
	Thrs2
	Thrs3
	Thrs4
	Thrs5
	Thrs2_1 // registers 2..4 (four thresholds each, since 2012)
	Thrs2_2
	Thrs2_3
	Thrs2_4
	Thrs3_1
	Thrs3_2
	Thrs3_3
	Thrs3_4
	Thrs4_1
	Thrs4_2
	Thrs4_3
	Thrs4_4
	S0Input1 // LCN-BU4L
	S0Input2
	S0Input3
	S0Input4
)

// VarByID returns the plain variable for id 0..11, or VarUnknown.
func VarByID(id int) Variable {
	if id < 0 || id > 11 {
		return VarUnknown
	}
	return Var1 + Variable(id)
}

// SetpointByID returns the setpoint variable for regulator id 0..1, or
// VarUnknown.
func SetpointByID(id int) Variable {
	switch id {
	case 0:
		return SetpointR1
	case 1:
		return SetpointR2
	}
	return VarUnknown
}

// ThresholdByID returns the threshold variable for register 0..3 and
// threshold id 0..4 (registers 1..3 only carry four thresholds), or
// VarUnknown.
func ThresholdByID(register, id int) Variable {
	switch {
	case register == 0 && id >= 0 && id < 5:
		return Thrs1 + Variable(id)
	case register == 1 && id >= 0 && id < 4:
		return Thrs2_1 + Variable(id)
	case register == 2 && id >= 0 && id < 4:
		return Thrs3_1 + Variable(id)
	case register == 3 && id >= 0 && id < 4:
		return Thrs4_1 + Variable(id)
	}
	return VarUnknown
}

// S0ByID returns the S0 input variable for id 0..3, or VarUnknown.
func S0ByID(id int) Variable {
	if id < 0 || id > 3 {
		return VarUnknown
	}
	return S0Input1 + Variable(id)
}

// VarID returns the plain variable id 0..11, or -1 for other types.
func (v Variable) VarID() int {
	if v >= Var1 && v <= Var12 {
		return int(v - Var1)
	}
	return -1
}

// SetpointID returns the regulator id 0..1, or -1 for other types.
func (v Variable) SetpointID() int {
	switch v {
	case SetpointR1:
		return 0
	case SetpointR2:
		return 1
	}
	return -1
}

// ThresholdRegister returns the threshold register id 0..3, or -1 for
// other types.
func (v Variable) ThresholdRegister() int {
	switch {
	case v >= Thrs1 && v <= Thrs5:
		return 0
	case v >= Thrs2_1 && v <= Thrs2_4:
		return 1
	case v >= Thrs3_1 && v <= Thrs3_4:
		return 2
	case v >= Thrs4_1 && v <= Thrs4_4:
		return 3
	}
	return -1
}

// ThresholdID returns the threshold id within its register (0..4 for
// register 1, 0..3 otherwise), or -1 for other types.
func (v Variable) ThresholdID() int {
	switch {
	case v >= Thrs1 && v <= Thrs5:
		return int(v - Thrs1)
	case v >= Thrs2_1 && v <= Thrs2_4:
		return int(v - Thrs2_1)
	case v >= Thrs3_1 && v <= Thrs3_4:
		return int(v - Thrs3_1)
	case v >= Thrs4_1 && v <= Thrs4_4:
		return int(v - Thrs4_1)
	}
	return -1
}

// S0ID returns the S0 input id 0..3, or -1 for other types.
func (v Variable) S0ID() int {
	if v >= S0Input1 && v <= S0Input4 {
		return int(v - S0Input1)
	}
	return -1
}

// IsLockableRegulatorSource reports whether the variable is a regulator
// setpoint whose value carries a lock bit.
func (v Variable) IsLockableRegulatorSource() bool {
	return v == SetpointR1 || v == SetpointR2
}

// HasTypeInResponse reports whether a status response for this variable
// carries the variable's type. Plain variables on firmware older than
// 170206 answer with a typeless value that must be attributed to the most
// recent request.
func (v Variable) HasTypeInResponse(swAge int) bool {
	return swAge >= FirmwareTypedVars || v.VarID() == -1
}

// IsEventBased reports whether the module reports this variable on change
// by itself. Setpoints and S0 inputs always do; everything else only from
// firmware 170206 on.
func (v Variable) IsEventBased(swAge int) bool {
	if v.SetpointID() != -1 || v.S0ID() != -1 {
		return true
	}
	return swAge >= FirmwareTypedVars
}

// String returns a short identifier such as "var3", "setpoint1" or
// "thrs2.4".
func (v Variable) String() string {
	switch {
	case v.VarID() != -1:
		return fmt.Sprintf("var%d", v.VarID()+1)
	case v.SetpointID() != -1:
		return fmt.Sprintf("setpoint%d", v.SetpointID()+1)
	case v.ThresholdRegister() != -1:
		return fmt.Sprintf("thrs%d.%d", v.ThresholdRegister()+1, v.ThresholdID()+1)
	case v.S0ID() != -1:
		return fmt.Sprintf("s0input%d", v.S0ID()+1)
	}
	return "unknown"
}

// TimeToRamp converts a ramp time in milliseconds into the LCN-internal
// ramp value 0..250. Times above the representable range are clamped.
func TimeToRamp(msec int) int {
	switch {
	case msec < 250:
		return 0
	case msec < 500:
		return 1
	case msec < 660:
		return 2
	case msec < 1000:
		return 3
	case msec < 1400:
		return 4
	case msec < 2000:
		return 5
	case msec < 3000:
		return 6
	case msec < 4000:
		return 7
	case msec < 5000:
		return 8
	case msec < 6000:
		return 9
	}
	ramp := (msec/1000-6)/2 + 10
	if ramp > 250 {
		ramp = 250
	}
	return ramp
}

// RampToTime converts an LCN-internal ramp value 0..250 back into a time
// in milliseconds.
func RampToTime(ramp int) (int, error) {
	if ramp < 0 || ramp > 250 {
		return 0, fmt.Errorf("%w: ramp value %d out of range 0..250", ErrInvalidParameter, ramp)
	}
	if ramp < 10 {
		times := [10]int{0, 250, 500, 660, 1000, 1400, 2000, 3000, 4000, 5000}
		return times[ramp], nil
	}
	return ((ramp-10)*2 + 6) * 1000, nil
}
