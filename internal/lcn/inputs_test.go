package lcn

import (
	"reflect"
	"testing"
)

func TestParseHandshakeTokens(t *testing.T) {
	tests := []struct {
		line string
		want Input
	}{
		{"Username:", AuthUsername{}},
		{"Password:", AuthPassword{}},
		{"OK", AuthOK{}},
		{"Authentification failed.", AuthFailed{}},
		{"$io:#LCN:connected", BusConnState{Connected: true}},
		{"$io:#LCN:disconnected", BusConnState{Connected: false}},
		{"$err:(license?)", LicenseError{}},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			got := Parse(tc.line)
			if len(got) != 1 || !reflect.DeepEqual(got[0], tc.want) {
				t.Errorf("Parse(%q) = %#v, want %#v", tc.line, got, tc.want)
			}
		})
	}
}

func TestParseCommandError(t *testing.T) {
	got := Parse("(wrong argument count?)")
	want := CommandError{Message: "wrong argument count"}
	if len(got) != 1 || got[0] != want {
		t.Errorf("Parse() = %#v, want %#v", got, want)
	}
}

func TestParseAck(t *testing.T) {
	got := Parse("-M000007!")
	if len(got) != 1 {
		t.Fatalf("Parse() yielded %d inputs, want 1", len(got))
	}
	ack, ok := got[0].(Ack)
	if !ok {
		t.Fatalf("Parse() = %T, want Ack", got[0])
	}
	if !ack.Positive() || ack.Source != ModuleAddress(0, 7) {
		t.Errorf("positive ack parsed as %+v", ack)
	}

	got = Parse("-M021012005")
	ack = got[0].(Ack)
	if ack.Positive() || ack.Code != 5 || ack.Source != ModuleAddress(21, 12) {
		t.Errorf("negative ack parsed as %+v", ack)
	}
}

func TestParseOutputStatus(t *testing.T) {
	got := Parse(":M000010A1050")
	if len(got) != 1 {
		t.Fatalf("Parse() yielded %d inputs, want 1", len(got))
	}
	pct, ok := got[0].(OutputStatusPercent)
	if !ok {
		t.Fatalf("Parse() = %T, want OutputStatusPercent", got[0])
	}
	if pct.Output != 0 || pct.Percent != 50.0 || pct.Source != ModuleAddress(0, 10) {
		t.Errorf("percent status parsed as %+v", pct)
	}

	got = Parse(":M000010O1050")
	native, ok := got[0].(OutputStatusNative)
	if !ok {
		t.Fatalf("Parse() = %T, want OutputStatusNative", got[0])
	}
	if native.Output != 0 || native.Value != 50 {
		t.Errorf("native status parsed as %+v", native)
	}
}

func TestParseRelaysAndBinSensors(t *testing.T) {
	got := Parse(":M000007Rx005")
	relays, ok := got[0].(RelaysStatus)
	if !ok {
		t.Fatalf("Parse() = %T, want RelaysStatus", got[0])
	}
	want := [8]bool{true, false, true, false, false, false, false, false}
	if relays.States != want {
		t.Errorf("relay states = %v, want %v", relays.States, want)
	}

	got = Parse(":M000007Bx128")
	sensors := got[0].(BinSensorsStatus)
	if !sensors.States[7] || sensors.States[0] {
		t.Errorf("sensor states = %v", sensors.States)
	}

	// A bitfield over 255 is not a valid report.
	got = Parse(":M000007Rx999")
	if _, ok := got[0].(Unknown); !ok {
		t.Errorf("out-of-range bitfield parsed as %T", got[0])
	}
}

func TestParseSegmentAndSerialInfo(t *testing.T) {
	got := Parse("=M000005.SK020")
	info, ok := got[0].(SegmentInfo)
	if !ok {
		t.Fatalf("Parse() = %T, want SegmentInfo", got[0])
	}
	if info.SegmentID != 20 || info.Source != ModuleAddress(0, 5) {
		t.Errorf("segment info parsed as %+v", info)
	}

	got = Parse("=M000007.SN1AB2030405FEFW190C11HW015")
	serial, ok := got[0].(SerialInfo)
	if !ok {
		t.Fatalf("Parse() = %T, want SerialInfo", got[0])
	}
	if serial.Serial != 0x1AB2030405 {
		t.Errorf("serial = %#x, want %#x", serial.Serial, uint64(0x1AB2030405))
	}
	if serial.Manufacturer != 0xFE {
		t.Errorf("manufacturer = %#x, want 0xFE", serial.Manufacturer)
	}
	if serial.FirmwareAge != 0x190C11 {
		t.Errorf("firmware age = %#x, want 0x190C11", serial.FirmwareAge)
	}
	if serial.HardwareType != 15 {
		t.Errorf("hardware type = %d, want 15", serial.HardwareType)
	}
}

func TestParseTextBlock(t *testing.T) {
	got := Parse("=M000007.N1Living Room")
	block, ok := got[0].(TextBlock)
	if !ok {
		t.Fatalf("Parse() = %T, want TextBlock", got[0])
	}
	if block.Kind != TextName || block.Block != 0 || block.Text != "Living Room" {
		t.Errorf("text block parsed as %+v", block)
	}

	got = Parse("=M000007.O3Vendor      ")
	block = got[0].(TextBlock)
	if block.Kind != TextOEM || block.Block != 2 {
		t.Errorf("OEM block parsed as %+v", block)
	}
}

func TestParseVarStatus(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		v     Variable
		value int
	}{
		{"typed variable", "%M000007.A00501234", Var5, 1234},
		{"setpoint", "%M000007.S11100", SetpointR1, 1100},
		{"threshold", "%M000007.T230500", Thrs2_3, 500},
		{"s0 input", "%M000007.C200042", S0Input2, 42},
		{"typeless", "%M000007.01234", VarUnknown, 1234},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.line)
			if len(got) != 1 {
				t.Fatalf("Parse() yielded %d inputs, want 1", len(got))
			}
			vs, ok := got[0].(VarStatus)
			if !ok {
				t.Fatalf("Parse() = %T, want VarStatus", got[0])
			}
			if vs.Var != tc.v || vs.Value != tc.value {
				t.Errorf("var status = %+v, want var %v value %d", vs, tc.v, tc.value)
			}
		})
	}
}

// The legacy register-1 report carries five thresholds in one line and
// fans out into five separate status inputs. The trailing hysteresis
// field is dropped.
func TestParseThrs5(t *testing.T) {
	got := Parse("=M000007.S1001000020000300004000050000600")
	if len(got) != 5 {
		t.Fatalf("Parse() yielded %d inputs, want 5", len(got))
	}
	wantValues := []int{100, 200, 300, 400, 500}
	for i, input := range got {
		vs, ok := input.(VarStatus)
		if !ok {
			t.Fatalf("input %d is %T, want VarStatus", i, input)
		}
		if vs.Var != ThresholdByID(0, i) {
			t.Errorf("input %d var = %v, want %v", i, vs.Var, ThresholdByID(0, i))
		}
		if vs.Value != wantValues[i] {
			t.Errorf("input %d value = %d, want %d", i, vs.Value, wantValues[i])
		}
	}
}

func TestParseRegulatorLock(t *testing.T) {
	got := Parse("%M000007.S134068")
	vs := got[0].(VarStatus)
	if vs.Var != SetpointR1 {
		t.Fatalf("var = %v, want %v", vs.Var, SetpointR1)
	}
	if !vs.IsLockedRegulator() {
		t.Error("lock bit 0x8000 not detected")
	}
}

func TestParseLedsLogic(t *testing.T) {
	got := Parse("=M000007.TLAEBFAEBFAEBFNTVN")
	status, ok := got[0].(LedsLogicStatus)
	if !ok {
		t.Fatalf("Parse() = %T, want LedsLogicStatus", got[0])
	}
	if status.Leds[0] != LedOff || status.Leds[1] != LedOn || status.Leds[2] != LedBlink || status.Leds[3] != LedFlicker {
		t.Errorf("led states = %v", status.Leds)
	}
	if status.LogicOps != [4]LogicOpState{LogicOpNone, LogicOpOr, LogicOpAnd, LogicOpNone} {
		t.Errorf("logic ops = %v", status.LogicOps)
	}
}

func TestParseKeyLocks(t *testing.T) {
	got := Parse("=M000007.TX001002004")
	status, ok := got[0].(KeyLocksStatus)
	if !ok {
		t.Fatalf("Parse() = %T, want KeyLocksStatus", got[0])
	}
	if len(status.Tables) != 3 {
		t.Fatalf("tables = %d, want 3", len(status.Tables))
	}
	if !status.Tables[0][0] || !status.Tables[1][1] || !status.Tables[2][2] {
		t.Errorf("lock states = %v", status.Tables)
	}

	got = Parse("=M000007.TX001002004008")
	status = got[0].(KeyLocksStatus)
	if len(status.Tables) != 4 {
		t.Fatalf("tables = %d, want 4", len(status.Tables))
	}
	if !status.Tables[3][3] {
		t.Errorf("table D states = %v", status.Tables[3])
	}
}

// A send-command-host line fans out into one input per parameter.
func TestParseHostCommand(t *testing.T) {
	got := Parse("+M004007.SKH001002")
	if len(got) != 2 {
		t.Fatalf("Parse() yielded %d inputs, want 2", len(got))
	}
	first := got[0].(HostCommand)
	second := got[1].(HostCommand)
	if first.Index != 0 || first.Value != 1 {
		t.Errorf("first parameter = %+v", first)
	}
	if second.Index != 1 || second.Value != 2 {
		t.Errorf("second parameter = %+v", second)
	}
	if first.Source != ModuleAddress(4, 7) {
		t.Errorf("source = %v", first.Source)
	}
}

func TestParseUnknown(t *testing.T) {
	got := Parse("something entirely different")
	unknown, ok := got[0].(Unknown)
	if !ok {
		t.Fatalf("Parse() = %T, want Unknown", got[0])
	}
	if unknown.Line != "something entirely different" {
		t.Errorf("line = %q", unknown.Line)
	}
}
