package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lcn-core/internal/audit"
	"github.com/nerrad567/lcn-core/internal/infrastructure/config"
	"github.com/nerrad567/lcn-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lcn-core/internal/lcn"
)

// =============================================================================
// Test Doubles
// =============================================================================

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT records publishes and captures subscription handlers.
type mockMQTT struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]mqtt.MessageHandler
	connected bool
	subErr    error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{
		handlers:  make(map[string]mqtt.MessageHandler),
		connected: true,
	}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{
		topic:    topic,
		payload:  append([]byte(nil), payload...),
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	if m.subErr != nil {
		return m.subErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) setConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// messagesOn returns all publishes to one topic.
func (m *mockMQTT) messagesOn(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, msg := range m.published {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// waitFor polls until a message appears on the topic.
func (m *mockMQTT) waitFor(t *testing.T, topic string, timeout time.Duration) publishedMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msgs := m.messagesOn(topic); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no message on %q within %v", topic, timeout)
	return publishedMessage{}
}

// deliver feeds a message through the wildcard command subscription.
func (m *mockMQTT) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers["lcn/command/+"]
	m.mu.Unlock()
	if handler == nil {
		t.Fatal("no command subscription registered")
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("command handler: %v", err)
	}
}

// mockAudit captures command log writes.
type mockAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *mockAudit) Create(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockAudit) List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append([]audit.Entry(nil), m.entries...)
	return &audit.ListResult{Entries: entries, Total: len(entries)}, nil
}

func (m *mockAudit) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

func testBridgeConfig(port int) *config.Config {
	return &config.Config{
		LCN: config.LCNConfig{
			Host: "127.0.0.1",
			Port: port,
			Reconnect: config.LCNReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     1,
			},
		},
	}
}

// newOfflineBridge builds a bridge around a bus connection that is never
// connected. Commands to modules still queue; group commands fail with
// ErrNotConnected.
func newOfflineBridge(t *testing.T) (*Bridge, *mockMQTT, *lcn.Connection) {
	t.Helper()

	bus := lcn.NewConnection(lcn.ConnectionConfig{
		Host:           "127.0.0.1",
		Port:           4114,
		Username:       "user",
		Password:       "pass",
		RequestTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = bus.Close() }) //nolint:errcheck

	mock := newMockMQTT()
	b, err := New(Options{
		Config:  testBridgeConfig(4114),
		MQTT:    mock,
		Bus:     bus,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// The session loop is not running in these tests; handlers are
	// driven directly.
	b.ctx, b.ctxCancel = context.WithCancel(context.Background())
	t.Cleanup(b.ctxCancel)
	if err := mock.Subscribe(b.topics.AllCommands(), 1, b.handleCommandMessage); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return b, mock, bus
}

func decodeAck(t *testing.T, msg publishedMessage) AckMessage {
	t.Helper()
	var ack AckMessage
	if err := json.Unmarshal(msg.payload, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	return ack
}

func decodeState(t *testing.T, msg publishedMessage) StateMessage {
	t.Helper()
	var state StateMessage
	if err := json.Unmarshal(msg.payload, &state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	return state
}

// =============================================================================
// Construction and Address Parsing
// =============================================================================

func TestNewValidatesOptions(t *testing.T) {
	bus := lcn.NewConnection(lcn.ConnectionConfig{Host: "h", Port: 1})
	t.Cleanup(func() { _ = bus.Close() }) //nolint:errcheck
	cfg := testBridgeConfig(1)
	mock := newMockMQTT()

	tests := []struct {
		name string
		opts Options
	}{
		{"missing config", Options{MQTT: mock, Bus: bus}},
		{"missing mqtt", Options{Config: cfg, Bus: bus}},
		{"missing bus", Options{Config: cfg, MQTT: mock}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() accepted incomplete options")
			}
		})
	}

	if _, err := New(Options{Config: cfg, MQTT: mock, Bus: bus}); err != nil {
		t.Errorf("New() with complete options error = %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    lcn.Address
		wantErr bool
	}{
		{"S000M007", lcn.ModuleAddress(0, 7), false},
		{"S020M012", lcn.ModuleAddress(20, 12), false},
		{"S000G011", lcn.GroupAddress(0, 11), false},
		{"S128M254", lcn.ModuleAddress(128, 254), false},
		{"S129M005", lcn.Address{}, true},
		{"S000M000", lcn.Address{}, true},
		{"M007", lcn.Address{}, true},
		{"S000X007", lcn.Address{}, true},
		{"s000m007", lcn.Address{}, true},
		{"", lcn.Address{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Bus Input Handling
// =============================================================================

func TestOutputStatusPublishesState(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)
	addr := lcn.ModuleAddress(0, 7)

	b.handleBusInput(lcn.OutputStatusPercent{
		ModInput: lcn.ModInput{Source: addr},
		Output:   0,
		Percent:  50,
	})

	msgs := mock.messagesOn("lcn/state/S000M007/output1")
	if len(msgs) != 1 {
		t.Fatalf("got %d state messages, want 1", len(msgs))
	}
	if !msgs[0].retained {
		t.Error("state message not retained")
	}

	state := decodeState(t, msgs[0])
	if state.Address != "S000M007" || state.Item != "output1" {
		t.Errorf("state header = %s/%s, want S000M007/output1", state.Address, state.Item)
	}
	if got := state.Values["percent"]; got != 50.0 {
		t.Errorf("percent = %v, want 50", got)
	}
}

func TestUnchangedStateNotRepublished(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)
	input := lcn.OutputStatusPercent{
		ModInput: lcn.ModInput{Source: lcn.ModuleAddress(0, 7)},
		Output:   0,
		Percent:  75,
	}

	b.handleBusInput(input)
	b.handleBusInput(input)
	if got := len(mock.messagesOn("lcn/state/S000M007/output1")); got != 1 {
		t.Fatalf("got %d publishes for unchanged state, want 1", got)
	}

	input.Percent = 80
	b.handleBusInput(input)
	if got := len(mock.messagesOn("lcn/state/S000M007/output1")); got != 2 {
		t.Fatalf("got %d publishes after change, want 2", got)
	}

	b.ClearStateCache()
	input.Percent = 80
	b.handleBusInput(input)
	if got := len(mock.messagesOn("lcn/state/S000M007/output1")); got != 3 {
		t.Fatalf("got %d publishes after cache clear, want 3", got)
	}
}

func TestRelaysStatusPublishesState(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)

	b.handleBusInput(lcn.RelaysStatus{
		ModInput: lcn.ModInput{Source: lcn.ModuleAddress(0, 7)},
		States:   [8]bool{true, false, true, false, false, false, false, true},
	})

	msg := mock.waitFor(t, "lcn/state/S000M007/relays", time.Second)
	state := decodeState(t, msg)
	states, ok := state.Values["states"].([]interface{})
	if !ok || len(states) != 8 {
		t.Fatalf("states = %v, want 8 booleans", state.Values["states"])
	}
	if states[0] != true || states[1] != false || states[7] != true {
		t.Errorf("states = %v, want [true false true false false false false true]", states)
	}
}

func TestVariableStatusPublishesState(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)

	b.handleBusInput(lcn.VarStatus{
		ModInput: lcn.ModInput{Source: lcn.ModuleAddress(0, 7)},
		Var:      lcn.VarByID(2),
		Value:    1200,
	})

	msg := mock.waitFor(t, "lcn/state/S000M007/var3", time.Second)
	state := decodeState(t, msg)
	if got := state.Values["value"]; got != 1200.0 {
		t.Errorf("value = %v, want 1200", got)
	}
}

func TestUnattributedVariableNotPublished(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)

	b.handleBusInput(lcn.VarStatus{
		ModInput: lcn.ModInput{Source: lcn.ModuleAddress(0, 7)},
		Var:      lcn.VarUnknown,
		Value:    42,
	})

	mock.mu.Lock()
	count := len(mock.published)
	mock.mu.Unlock()
	if count != 0 {
		t.Errorf("got %d publishes for unattributed variable, want 0", count)
	}
}

func TestBusAckPublished(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)
	addr := lcn.ModuleAddress(0, 7)

	b.handleBusInput(lcn.Ack{ModInput: lcn.ModInput{Source: addr}, Code: -1})
	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/S000M007", time.Second))
	if ack.Status != AckConfirmed {
		t.Errorf("status = %q, want %q", ack.Status, AckConfirmed)
	}
	if ack.Code != 0 {
		t.Errorf("code = %d, want 0 on positive ack", ack.Code)
	}

	b.handleBusInput(lcn.Ack{ModInput: lcn.ModInput{Source: addr}, Code: 5})
	msgs := mock.messagesOn("lcn/ack/S000M007")
	ack = decodeAck(t, msgs[len(msgs)-1])
	if ack.Status != AckFailed {
		t.Errorf("status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Code != 5 {
		t.Errorf("code = %d, want 5", ack.Code)
	}
}

func TestHostCommandPublishesEvent(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)

	b.handleBusInput(lcn.HostCommand{
		ModInput: lcn.ModInput{Source: lcn.ModuleAddress(0, 7)},
		Index:    0,
		Value:    42,
	})

	msg := mock.waitFor(t, "lcn/event/S000M007", time.Second)
	if msg.retained {
		t.Error("event message retained, events must not be retained")
	}
	var event EventMessage
	if err := json.Unmarshal(msg.payload, &event); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if event.Type != "host_command" {
		t.Errorf("type = %q, want host_command", event.Type)
	}
	if event.Values["value"] != 42.0 {
		t.Errorf("value = %v, want 42", event.Values["value"])
	}
}

// =============================================================================
// Command Handling
// =============================================================================

func TestCommandDimAccepted(t *testing.T) {
	_, mock, bus := newOfflineBridge(t)

	payload := []byte(`{"id":"cmd-1","command":"dim","parameters":{"output":1,"percent":50,"ramp_ms":0}}`)
	mock.deliver(t, "lcn/command/S000M007", payload)

	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/S000M007", time.Second))
	if ack.Status != AckAccepted {
		t.Fatalf("status = %q, want %q (error: %+v)", ack.Status, AckAccepted, ack.Error)
	}
	if ack.ID != "cmd-1" {
		t.Errorf("id = %q, want cmd-1", ack.ID)
	}

	// The command sits in the module's acknowledge-gated queue.
	if got := bus.Module(lcn.ModuleAddress(0, 7)).QueueLen(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestCommandsRecordedInLog(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)
	rec := &mockAudit{}
	b.audit = rec

	mock.deliver(t, "lcn/command/S000M007",
		[]byte(`{"command":"dim","source":"wall-panel","parameters":{"output":1,"percent":50,"ramp_ms":0}}`))
	mock.deliver(t, "lcn/command/S000M007", []byte(`{"command":"levitate"}`))

	entries := rec.all()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}

	first := entries[0]
	if first.Address != "S000M007" || first.Command != "dim" || first.Status != "accepted" {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if first.Source != "wall-panel" {
		t.Errorf("source = %q, want wall-panel", first.Source)
	}
	if first.Details["percent"] != float64(50) {
		t.Errorf("details[percent] = %v, want 50", first.Details["percent"])
	}

	second := entries[1]
	if second.Command != "levitate" || second.Status != "failed" {
		t.Errorf("unexpected second entry: %+v", second)
	}
	if _, ok := second.Details["error"]; !ok {
		t.Error("failed entry missing error detail")
	}
}

func TestCommandUnknownRejected(t *testing.T) {
	_, mock, _ := newOfflineBridge(t)

	mock.deliver(t, "lcn/command/S000M007", []byte(`{"command":"levitate"}`))

	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/S000M007", time.Second))
	if ack.Status != AckFailed {
		t.Fatalf("status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("error = %+v, want code %s", ack.Error, ErrCodeInvalidCommand)
	}
}

func TestCommandMissingParameterRejected(t *testing.T) {
	_, mock, _ := newOfflineBridge(t)

	mock.deliver(t, "lcn/command/S000M007", []byte(`{"command":"dim","parameters":{"output":1}}`))

	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/S000M007", time.Second))
	if ack.Status != AckFailed {
		t.Fatalf("status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeInvalidParameters {
		t.Errorf("error = %+v, want code %s", ack.Error, ErrCodeInvalidParameters)
	}
}

func TestCommandMalformedPayloadRejected(t *testing.T) {
	_, mock, _ := newOfflineBridge(t)

	mock.deliver(t, "lcn/command/S000M007", []byte(`{broken`))

	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/S000M007", time.Second))
	if ack.Status != AckFailed {
		t.Fatalf("status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("error = %+v, want code %s", ack.Error, ErrCodeInvalidCommand)
	}
}

func TestCommandBadAddressRejected(t *testing.T) {
	_, mock, _ := newOfflineBridge(t)

	mock.deliver(t, "lcn/command/banana", []byte(`{"command":"dim"}`))

	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/banana", time.Second))
	if ack.Error == nil || ack.Error.Code != ErrCodeInvalidAddress {
		t.Errorf("error = %+v, want code %s", ack.Error, ErrCodeInvalidAddress)
	}
}

func TestGroupCommandWhileBusDown(t *testing.T) {
	_, mock, _ := newOfflineBridge(t)

	// Group commands are fire-and-forget: no queue absorbs them, so a
	// dead bus surfaces immediately.
	payload := []byte(`{"command":"dim","parameters":{"output":1,"percent":100}}`)
	mock.deliver(t, "lcn/command/S000G011", payload)

	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/S000G011", time.Second))
	if ack.Status != AckFailed {
		t.Fatalf("status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil || ack.Error.Code != ErrCodeProtocolError {
		t.Errorf("error = %+v, want code %s", ack.Error, ErrCodeProtocolError)
	}
}

func TestGroupCommandSubsetOnly(t *testing.T) {
	_, mock, _ := newOfflineBridge(t)

	mock.deliver(t, "lcn/command/S000G011", []byte(`{"command":"dynamic_text","parameters":{"row":1,"text":"hi"}}`))

	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/S000G011", time.Second))
	if ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("error = %+v, want code %s", ack.Error, ErrCodeInvalidCommand)
	}
}

// =============================================================================
// Parameter and Enum Parsing
// =============================================================================

func TestRelayActions(t *testing.T) {
	actions, err := relayActions("10U-T-01")
	if err != nil {
		t.Fatalf("relayActions() error = %v", err)
	}
	want := [8]lcn.RelayAction{
		lcn.RelayOn, lcn.RelayOff, lcn.RelayToggle, lcn.RelayNoChange,
		lcn.RelayToggle, lcn.RelayNoChange, lcn.RelayOff, lcn.RelayOn,
	}
	if actions != want {
		t.Errorf("relayActions() = %v, want %v", actions, want)
	}

	for _, bad := range []string{"", "1010", "101010101", "1010x010"} {
		if _, err := relayActions(bad); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("relayActions(%q) error = %v, want ErrInvalidParameter", bad, err)
		}
	}
}

func TestKeyMask(t *testing.T) {
	keys, err := keyMask("10010000")
	if err != nil {
		t.Fatalf("keyMask() error = %v", err)
	}
	want := [8]bool{true, false, false, true}
	if keys != want {
		t.Errorf("keyMask() = %v, want %v", keys, want)
	}

	if _, err := keyMask("1001"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("keyMask(short) error = %v, want ErrInvalidParameter", err)
	}
	if _, err := keyMask("1001000x"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("keyMask(bad rune) error = %v, want ErrInvalidParameter", err)
	}
}

func TestParseVariableRoundTrip(t *testing.T) {
	// Every parseable name must match the short name the status topics
	// use for the same variable.
	names := []string{
		"var1", "var3", "var12",
		"setpoint1", "setpoint2",
		"thrs1.1", "thrs2.4", "thrs4.4",
		"s0input1", "s0input4",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			v, err := parseVariable(name)
			if err != nil {
				t.Fatalf("parseVariable(%q) error = %v", name, err)
			}
			if got := v.String(); got != name {
				t.Errorf("round trip = %q, want %q", got, name)
			}
		})
	}

	for _, bad := range []string{"var0", "var13", "setpoint3", "thrs5.1", "thrs1.5", "s0input5", "humidity", ""} {
		if _, err := parseVariable(bad); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("parseVariable(%q) error = %v, want ErrInvalidParameter", bad, err)
		}
	}
}

func TestStatusItemNames(t *testing.T) {
	for _, name := range []string{"output1", "output4", "relays", "binsensors", "leds", "keylocks", "var1", "setpoint2"} {
		if _, err := statusItem(name); err != nil {
			t.Errorf("statusItem(%q) error = %v", name, err)
		}
	}
	for _, bad := range []string{"output0", "output5", "everything", ""} {
		if _, err := statusItem(bad); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("statusItem(%q) error = %v, want ErrInvalidParameter", bad, err)
		}
	}
}

func TestTableParam(t *testing.T) {
	if got, err := tableParam(map[string]interface{}{"table": "B"}); err != nil || got != 1 {
		t.Errorf("tableParam(B) = %d, %v, want 1, nil", got, err)
	}
	if got, err := tableParam(map[string]interface{}{"table": 2.0}); err != nil || got != 2 {
		t.Errorf("tableParam(2) = %d, %v, want 2, nil", got, err)
	}
	if _, err := tableParam(map[string]interface{}{}); !errors.Is(err, ErrMissingParameter) {
		t.Errorf("tableParam(missing) error = %v, want ErrMissingParameter", err)
	}
	if _, err := tableParam(map[string]interface{}{"table": "E"}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("tableParam(E) error = %v, want ErrInvalidParameter", err)
	}
}

func TestBitmask(t *testing.T) {
	tests := []struct {
		states [8]bool
		want   uint8
	}{
		{[8]bool{}, 0x00},
		{[8]bool{true}, 0x01},
		{[8]bool{false, false, false, false, false, false, false, true}, 0x80},
		{[8]bool{true, true, true, true, true, true, true, true}, 0xFF},
		{[8]bool{true, false, true}, 0x05},
	}
	for _, tt := range tests {
		if got := bitmask(tt.states); got != tt.want {
			t.Errorf("bitmask(%v) = %#02x, want %#02x", tt.states, got, tt.want)
		}
	}
}

// =============================================================================
// End to End over a Fake Gateway
// =============================================================================

// tcpGateway plays the PCHK side of a session over a real socket, the
// same script the protocol tests use over a pipe.
type tcpGateway struct {
	t        *testing.T
	ln       net.Listener
	mu       sync.Mutex
	conn     net.Conn
	lines    chan string
	accepted chan struct{}
}

func newTCPGateway(t *testing.T) *tcpGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	gw := &tcpGateway{
		t:        t,
		ln:       ln,
		lines:    make(chan string, 64),
		accepted: make(chan struct{}),
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		gw.mu.Lock()
		gw.conn = conn
		gw.mu.Unlock()
		close(gw.accepted)

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			gw.lines <- strings.TrimSuffix(scanner.Text(), "\r")
		}
		close(gw.lines)
	}()

	t.Cleanup(func() {
		_ = ln.Close() //nolint:errcheck
		gw.mu.Lock()
		if gw.conn != nil {
			_ = gw.conn.Close() //nolint:errcheck
		}
		gw.mu.Unlock()
	})
	return gw
}

func (gw *tcpGateway) port() int {
	return gw.ln.Addr().(*net.TCPAddr).Port
}

func (gw *tcpGateway) send(line string) {
	gw.t.Helper()
	gw.mu.Lock()
	conn := gw.conn
	gw.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		gw.t.Fatalf("gateway write: %v", err)
	}
}

func (gw *tcpGateway) expect(want string) {
	gw.t.Helper()
	select {
	case got, ok := <-gw.lines:
		if !ok {
			gw.t.Fatalf("connection closed while waiting for %q", want)
		}
		if got != want {
			gw.t.Fatalf("received %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		gw.t.Fatalf("timeout waiting for %q", want)
	}
}

func (gw *tcpGateway) handshake() {
	gw.t.Helper()
	select {
	case <-gw.accepted:
	case <-time.After(2 * time.Second):
		gw.t.Fatal("gateway never accepted a connection")
	}
	gw.send("Username:")
	gw.expect("user")
	gw.send("Password:")
	gw.expect("pass")
	gw.send("OK")
	gw.send("$io:#LCN:connected")
	gw.expect("!OM0P")
	gw.expect(">G003003.SK")
	gw.send("=M000005.SK020")
}

func TestBridgeEndToEnd(t *testing.T) {
	gw := newTCPGateway(t)

	bus := lcn.NewConnection(lcn.ConnectionConfig{
		Host:           "127.0.0.1",
		Port:           gw.port(),
		Username:       "user",
		Password:       "pass",
		RequestTimeout: 100 * time.Millisecond,
	})

	mock := newMockMQTT()
	b, err := New(Options{
		Config:  testBridgeConfig(gw.port()),
		MQTT:    mock,
		Bus:     bus,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	gw.handshake()

	deadline := time.Now().Add(2 * time.Second)
	for !bus.IsReady() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !bus.IsReady() {
		t.Fatal("bus session never became ready")
	}

	// Unsolicited status report flows out as retained state.
	gw.send(":M000007A1050")
	msg := mock.waitFor(t, "lcn/state/S000M007/output1", 2*time.Second)
	state := decodeState(t, msg)
	if got := state.Values["percent"]; got != 50.0 {
		t.Errorf("percent = %v, want 50", got)
	}

	// Command in over MQTT, out on the wire.
	mock.deliver(t, "lcn/command/S000M007",
		[]byte(`{"id":"e2e-1","command":"dim","parameters":{"output":1,"percent":50}}`))
	gw.expect(">M000007!A1DI050000")

	ack := decodeAck(t, mock.waitFor(t, "lcn/ack/S000M007", 2*time.Second))
	if ack.Status != AckAccepted {
		t.Fatalf("status = %q, want %q", ack.Status, AckAccepted)
	}

	// The module's positive acknowledge closes the loop.
	gw.send("-M000007!")
	confirmDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(confirmDeadline) {
		msgs := mock.messagesOn("lcn/ack/S000M007")
		if len(msgs) >= 2 {
			final := decodeAck(t, msgs[len(msgs)-1])
			if final.Status != AckConfirmed {
				t.Fatalf("final status = %q, want %q", final.Status, AckConfirmed)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no confirmation ack published")
}

func TestStartTwiceRejected(t *testing.T) {
	gw := newTCPGateway(t)

	bus := lcn.NewConnection(lcn.ConnectionConfig{
		Host:     "127.0.0.1",
		Port:     gw.port(),
		Username: "user",
		Password: "pass",
	})

	b, err := New(Options{
		Config:  testBridgeConfig(gw.port()),
		MQTT:    newMockMQTT(),
		Bus:     bus,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	if err := b.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartSubscribeFailure(t *testing.T) {
	bus := lcn.NewConnection(lcn.ConnectionConfig{Host: "127.0.0.1", Port: 1})
	t.Cleanup(func() { _ = bus.Close() }) //nolint:errcheck

	mock := newMockMQTT()
	mock.subErr = errors.New("broker down")

	b, err := New(Options{
		Config:  testBridgeConfig(1),
		MQTT:    mock,
		Bus:     bus,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(); err == nil {
		t.Fatal("Start() succeeded despite subscription failure")
	}

	// A failed start leaves the bridge restartable.
	mock.subErr = nil
	if err := b.Start(); err != nil {
		t.Fatalf("Start() after recovery error = %v", err)
	}
	b.Stop()
}

func TestGetMetrics(t *testing.T) {
	b, mock, _ := newOfflineBridge(t)

	mock.deliver(t, "lcn/command/S000M007", []byte(`{"command":"dim","parameters":{"output":1,"percent":50}}`))
	mock.deliver(t, "lcn/command/S000M007", []byte(`{"command":"levitate"}`))
	b.handleBusInput(lcn.OutputStatusPercent{
		ModInput: lcn.ModInput{Source: lcn.ModuleAddress(0, 7)},
		Output:   0,
		Percent:  50,
	})

	metrics := b.GetMetrics()
	if got := metrics["commands_handled"].(uint64); got != 1 {
		t.Errorf("commands_handled = %d, want 1", got)
	}
	if got := metrics["command_errors"].(uint64); got != 1 {
		t.Errorf("command_errors = %d, want 1", got)
	}
	if got := metrics["states_published"].(uint64); got != 1 {
		t.Errorf("states_published = %d, want 1", got)
	}
}
