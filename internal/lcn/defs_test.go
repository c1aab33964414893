package lcn

import "testing"

func TestTimeToRamp(t *testing.T) {
	tests := []struct {
		msec int
		want int
	}{
		{0, 0},
		{249, 0},
		{250, 1},
		{499, 1},
		{500, 2},
		{659, 2},
		{660, 3},
		{999, 3},
		{1000, 4},
		{1399, 4},
		{1400, 5},
		{2000, 6},
		{3000, 7},
		{4000, 8},
		{5000, 9},
		{6000, 10},
		{8000, 11},
		{1000000, 250},
	}
	for _, tc := range tests {
		if got := TimeToRamp(tc.msec); got != tc.want {
			t.Errorf("TimeToRamp(%d) = %d, want %d", tc.msec, got, tc.want)
		}
	}
}

func TestRampToTime(t *testing.T) {
	tests := []struct {
		ramp int
		want int
	}{
		{0, 0},
		{1, 250},
		{2, 500},
		{3, 660},
		{4, 1000},
		{9, 5000},
		{10, 6000},
		{11, 8000},
	}
	for _, tc := range tests {
		got, err := RampToTime(tc.ramp)
		if err != nil {
			t.Fatalf("RampToTime(%d): %v", tc.ramp, err)
		}
		if got != tc.want {
			t.Errorf("RampToTime(%d) = %d, want %d", tc.ramp, got, tc.want)
		}
	}

	if _, err := RampToTime(251); err == nil {
		t.Error("RampToTime(251) accepted out-of-range value")
	}
	if _, err := RampToTime(-1); err == nil {
		t.Error("RampToTime(-1) accepted out-of-range value")
	}
}

func TestVariableConstructors(t *testing.T) {
	tests := []struct {
		name string
		got  Variable
		want Variable
	}{
		{"var 1", VarByID(0), Var1},
		{"var 12", VarByID(11), Var12},
		{"var out of range", VarByID(12), VarUnknown},
		{"setpoint 1", SetpointByID(0), SetpointR1},
		{"setpoint 2", SetpointByID(1), SetpointR2},
		{"setpoint out of range", SetpointByID(2), VarUnknown},
		{"threshold register 1 slot 5", ThresholdByID(0, 4), Thrs5},
		{"threshold register 2 slot 1", ThresholdByID(1, 0), Thrs2_1},
		{"threshold register 2 slot 5 invalid", ThresholdByID(1, 4), VarUnknown},
		{"s0 input 4", S0ByID(3), S0Input4},
		{"s0 out of range", S0ByID(4), VarUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %v, want %v", tc.got, tc.want)
			}
		})
	}
}

func TestVariableIDs(t *testing.T) {
	if got := Var3.VarID(); got != 2 {
		t.Errorf("Var3.VarID() = %d, want 2", got)
	}
	if got := SetpointR2.SetpointID(); got != 1 {
		t.Errorf("SetpointR2.SetpointID() = %d, want 1", got)
	}
	if got := Thrs3_2.ThresholdRegister(); got != 2 {
		t.Errorf("Thrs3_2.ThresholdRegister() = %d, want 2", got)
	}
	if got := Thrs3_2.ThresholdID(); got != 1 {
		t.Errorf("Thrs3_2.ThresholdID() = %d, want 1", got)
	}
	if got := SetpointR1.VarID(); got != -1 {
		t.Errorf("SetpointR1.VarID() = %d, want -1", got)
	}
}

func TestVariableResponseTyping(t *testing.T) {
	if Var5.HasTypeInResponse(FirmwareTypedVars - 1) {
		t.Error("plain variable typed on old firmware")
	}
	if !Var5.HasTypeInResponse(FirmwareTypedVars) {
		t.Error("plain variable untyped on new firmware")
	}
	if !SetpointR1.HasTypeInResponse(0) {
		t.Error("setpoint response should always carry its type")
	}
}

func TestVariableEventBased(t *testing.T) {
	if Var5.IsEventBased(FirmwareTypedVars - 1) {
		t.Error("plain variable event-based on old firmware")
	}
	if !Var5.IsEventBased(FirmwareTypedVars) {
		t.Error("plain variable not event-based on new firmware")
	}
	if !SetpointR1.IsEventBased(0) {
		t.Error("setpoint not event-based")
	}
	if !S0Input1.IsEventBased(0) {
		t.Error("s0 input not event-based")
	}
}
