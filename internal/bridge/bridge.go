package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/lcn-core/internal/audit"
	"github.com/nerrad567/lcn-core/internal/infrastructure/config"
	"github.com/nerrad567/lcn-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/lcn-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lcn-core/internal/inventory"
	"github.com/nerrad567/lcn-core/internal/lcn"
)

// Logger is the interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the broker surface the bridge needs. *mqtt.Client
// satisfies it; tests substitute a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Options configures a Bridge.
type Options struct {
	// Config supplies the gateway and reconnect settings. Required.
	Config *config.Config

	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Bus is the PCHK connection. The bridge owns its lifecycle from
	// Start on: it connects, reconnects and closes it. Required.
	Bus *lcn.Connection

	// Influx records status values when set. Optional.
	Influx *influxdb.Client

	// Inventory persists the modules seen on the bus. Optional.
	Inventory inventory.Repository

	// Audit records every handled command. Optional.
	Audit audit.Repository

	// Version is reported in health messages.
	Version string

	// Logger receives bridge log output. Optional.
	Logger Logger
}

// Bridge connects one LCN bus to MQTT: commands arrive on
// lcn/command/{address}, status reports go out on lcn/state/{address}/
// {item}, module acknowledgements on lcn/ack/{address} and unsolicited
// bus traffic on lcn/event/{address}.
//
// The protocol core never reconnects by itself; the bridge runs the
// reconnect policy from the configuration.
type Bridge struct {
	cfg    *config.Config
	mqtt   MQTTClient
	bus    *lcn.Connection
	influx *influxdb.Client
	repo   inventory.Repository
	audit  audit.Repository
	health *HealthReporter
	topics mqtt.Topics

	ctx       context.Context
	ctxCancel context.CancelFunc
	busDown   chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// stateCache suppresses retained re-publishes of unchanged values,
	// keyed by state topic.
	stateMu    sync.Mutex
	stateCache map[string]string

	commandsHandled atomic.Uint64
	commandErrors   atomic.Uint64
	statesPublished atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge from its dependencies. Call Start to begin
// operation.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bridge: config is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("bridge: MQTT client is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bridge: bus connection is required")
	}

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTT,
		bus:        opts.Bus,
		influx:     opts.Influx,
		repo:       opts.Inventory,
		audit:      opts.Audit,
		busDown:    make(chan struct{}, 1),
		stateCache: make(map[string]string),
		logger:     opts.Logger,
	}
	b.health = NewHealthReporter(opts.MQTT, opts.Bus, opts.Version, 0)
	b.health.SetLogger(opts.Logger)
	return b, nil
}

// Start subscribes to command topics and begins the bus session loop.
// It returns once the subscriptions are in place; the first gateway
// connection happens in the background.
func (b *Bridge) Start() error {
	if b.ctx != nil {
		return ErrAlreadyStarted
	}
	b.ctx, b.ctxCancel = context.WithCancel(context.Background())

	b.bus.RegisterInputHandler(b.handleBusInput)
	b.bus.SetOnDisconnect(func(err error) {
		select {
		case b.busDown <- struct{}{}:
		default:
		}
	})

	if err := b.mqtt.Subscribe(b.topics.AllCommands(), 1, b.handleCommandMessage); err != nil {
		b.ctxCancel()
		b.ctx = nil
		return fmt.Errorf("subscribing to command topics: %w", err)
	}

	b.health.Start()

	b.wg.Add(1)
	go b.busLoop()

	b.logInfo("bridge started",
		"gateway", fmt.Sprintf("%s:%d", b.cfg.LCN.Host, b.cfg.LCN.Port))
	return nil
}

// Stop shuts the bridge down: health reporting, the bus session and all
// background work. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.logInfo("bridge stopping")
		if b.ctxCancel != nil {
			b.ctxCancel()
		}
		b.health.Stop()
		if err := b.bus.Close(); err != nil {
			b.logWarn("closing bus connection", "error", err.Error())
		}
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// busLoop keeps one gateway session alive, backing off exponentially
// between attempts.
func (b *Bridge) busLoop() {
	defer b.wg.Done()

	rc := b.cfg.LCN.Reconnect
	initial := time.Duration(rc.InitialDelay) * time.Second
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := time.Duration(rc.MaxDelay) * time.Second
	if maxDelay < initial {
		maxDelay = initial
	}

	delay := initial
	attempts := 0
	for {
		if b.ctx.Err() != nil {
			return
		}

		err := b.bus.Connect(b.ctx)
		if err == nil {
			b.logInfo("bus session ready",
				"local_segment", b.bus.LocalSegment(),
				"couplers", len(b.bus.SegmentCouplers()))
			delay = initial
			attempts = 0
			b.publishDiscovery()
			b.health.PublishNow()

			select {
			case <-b.ctx.Done():
				return
			case <-b.busDown:
				b.logWarn("bus session lost, reconnecting")
				b.health.PublishNow()
			}
		} else {
			attempts++
			b.logError("connecting to gateway", err)
			if rc.MaxAttempts > 0 && attempts >= rc.MaxAttempts {
				b.logError("reconnect attempts exhausted, giving up", err)
				return
			}
		}

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// =============================================================================
// Command Handling (MQTT -> Bus)
// =============================================================================

// handleCommandMessage processes one message from lcn/command/+.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return nil
	}

	addr, err := ParseAddress(parts[2])
	if err != nil {
		b.logWarn("command on unparseable address topic", "topic", topic)
		b.publishAckError(parts[2], "", ErrCodeInvalidAddress, err.Error())
		return nil
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.commandErrors.Add(1)
		b.publishAckError(addr.String(), "", ErrCodeInvalidCommand, "malformed command payload")
		return nil
	}
	if msg.Command == "" {
		b.commandErrors.Add(1)
		b.publishAckError(addr.String(), msg.ID, ErrCodeInvalidCommand, "missing command")
		return nil
	}

	b.logDebug("command received",
		"address", addr.String(), "command", msg.Command, "source", msg.Source)

	if err := b.executeCommand(addr, msg); err != nil {
		b.commandErrors.Add(1)
		b.logWarn("command failed",
			"address", addr.String(), "command", msg.Command, "error", err.Error())
		b.publishAckError(addr.String(), msg.ID, codeForError(err), err.Error())
		b.recordCommand(addr, msg, string(AckFailed), err)
		return nil
	}

	b.commandsHandled.Add(1)
	b.publishAck(addr.String(), msg.ID, AckAccepted)
	b.recordCommand(addr, msg, string(AckAccepted), nil)
	return nil
}

// recordCommand writes the dispatch outcome to the command log.
func (b *Bridge) recordCommand(addr lcn.Address, msg CommandMessage, status string, cmdErr error) {
	if b.audit == nil {
		return
	}

	details := make(map[string]any, len(msg.Parameters)+1)
	for k, v := range msg.Parameters {
		details[k] = v
	}
	if cmdErr != nil {
		details["error"] = cmdErr.Error()
	}
	if len(details) == 0 {
		details = nil
	}

	entry := &audit.Entry{
		Address: addr.String(),
		Command: msg.Command,
		Source:  msg.Source,
		Status:  status,
		Details: details,
	}
	if err := b.audit.Create(b.ctx, entry); err != nil {
		b.logWarn("recording command", "error", err.Error())
	}
}

// =============================================================================
// Input Handling (Bus -> MQTT)
// =============================================================================

// handleBusInput fans parsed bus traffic out to MQTT, InfluxDB and the
// module inventory. Runs on the connection's read loop; all downstream
// writes are non-blocking or fast.
func (b *Bridge) handleBusInput(input lcn.Input) {
	switch v := input.(type) {
	case lcn.OutputStatusPercent:
		b.publishState(v.Source, fmt.Sprintf("output%d", v.Output+1),
			map[string]interface{}{"percent": v.Percent})
		if b.influx != nil {
			b.influx.WriteOutputStatus(v.Source.String(), v.Output, v.Percent)
		}
		b.markSeen(v.Source)

	case lcn.OutputStatusNative:
		b.publishState(v.Source, fmt.Sprintf("output%d", v.Output+1),
			map[string]interface{}{"native": v.Value})
		b.markSeen(v.Source)

	case lcn.RelaysStatus:
		b.publishState(v.Source, "relays",
			map[string]interface{}{"states": boolList(v.States)})
		if b.influx != nil {
			b.influx.WriteRelayStatus(v.Source.String(), bitmask(v.States))
		}
		b.markSeen(v.Source)

	case lcn.BinSensorsStatus:
		b.publishState(v.Source, "binsensors",
			map[string]interface{}{"states": boolList(v.States)})
		if b.influx != nil {
			b.influx.WriteBinSensors(v.Source.String(), bitmask(v.States))
		}
		b.markSeen(v.Source)

	case lcn.VarStatus:
		name := v.Var.String()
		if name == "unknown" {
			// Typeless response that could not be attributed; nothing
			// meaningful to publish.
			return
		}
		b.publishState(v.Source, name,
			map[string]interface{}{"value": v.Value})
		if b.influx != nil {
			b.influx.WriteVariable(v.Source.String(), name, int64(v.Value))
		}
		b.markSeen(v.Source)

	case lcn.LedsLogicStatus:
		b.publishState(v.Source, "leds", map[string]interface{}{
			"leds":      ledNames(v.Leds),
			"logic_ops": logicOpNames(v.LogicOps),
		})
		b.markSeen(v.Source)

	case lcn.KeyLocksStatus:
		tables := make([][]bool, len(v.Tables))
		for i, table := range v.Tables {
			tables[i] = boolList(table)
		}
		b.publishState(v.Source, "keylocks",
			map[string]interface{}{"tables": tables})
		b.markSeen(v.Source)

	case lcn.Ack:
		status := AckConfirmed
		if !v.Positive() {
			status = AckFailed
		}
		msg := NewAckMessage(v.Source.String(), "", status)
		if !v.Positive() {
			msg.Code = v.Code
		}
		b.publishJSON(b.topics.Ack(v.Source.String()), msg, false)
		b.markSeen(v.Source)

	case lcn.SerialInfo:
		b.markSeen(v.Source)
		if b.repo != nil {
			if err := b.repo.SetSerial(b.ctx, v.Source, v); err != nil {
				b.logWarn("storing module serial",
					"module", v.Source.String(), "error", err.Error())
			}
		}

	case lcn.HostCommand:
		b.publishEvent(v.Source, "host_command", map[string]interface{}{
			"index": v.Index,
			"value": v.Value,
		})
		b.markSeen(v.Source)

	case lcn.BusConnState:
		b.logInfo("bus coupling changed", "connected", v.Connected)

	case lcn.CommandError:
		b.logWarn("gateway rejected command", "message", v.Message)
	}
}

// markSeen records bus activity from a module in the inventory.
func (b *Bridge) markSeen(addr lcn.Address) {
	if b.repo == nil || addr.Group {
		return
	}
	if err := b.repo.MarkSeen(b.ctx, addr, time.Now()); err != nil {
		b.logWarn("marking module seen",
			"module", addr.String(), "error", err.Error())
	}
}

// =============================================================================
// Publishing
// =============================================================================

// publishState publishes one status item, retained, skipping values that
// match the last publish for the topic.
func (b *Bridge) publishState(addr lcn.Address, item string, values map[string]interface{}) {
	topic := b.topics.State(addr.String(), item)

	// Map keys marshal sorted, so the encoding is stable for caching.
	encoded, err := json.Marshal(values)
	if err != nil {
		b.logError("encoding state values", err)
		return
	}
	if b.stateUnchanged(topic, string(encoded)) {
		return
	}

	msg := NewStateMessage(addr.String(), item, values)
	if !b.publishJSON(topic, msg, true) {
		return
	}
	b.statesPublished.Add(1)

	b.stateMu.Lock()
	b.stateCache[topic] = string(encoded)
	b.stateMu.Unlock()
}

func (b *Bridge) stateUnchanged(topic, encoded string) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.stateCache[topic] == encoded
}

// ClearStateCache forces the next report of every item to be published
// even if unchanged.
func (b *Bridge) ClearStateCache() {
	b.stateMu.Lock()
	b.stateCache = make(map[string]string)
	b.stateMu.Unlock()
}

func (b *Bridge) publishEvent(addr lcn.Address, eventType string, values map[string]interface{}) {
	msg := NewEventMessage(addr.String(), eventType, values)
	b.publishJSON(b.topics.Event(addr.String()), msg, false)
}

func (b *Bridge) publishAck(address, id string, status AckStatus) {
	b.publishJSON(b.topics.Ack(address), NewAckMessage(address, id, status), false)
}

func (b *Bridge) publishAckError(address, id, code, message string) {
	b.publishJSON(b.topics.Ack(address), NewAckError(address, id, code, message), false)
}

// publishDiscovery announces the known module inventory, retained.
func (b *Bridge) publishDiscovery() {
	if b.repo == nil {
		return
	}

	records, err := b.repo.List(b.ctx)
	if err != nil {
		b.logWarn("listing module inventory", "error", err.Error())
		return
	}

	modules := make([]DiscoveredModule, 0, len(records))
	for _, rec := range records {
		mod := DiscoveredModule{
			Address:      rec.Address.String(),
			HardwareType: rec.HardwareType,
			Name:         rec.Name,
			Comment:      rec.Comment,
		}
		if rec.Serial != 0 {
			mod.Serial = fmt.Sprintf("%012X", rec.Serial)
		}
		if rec.FirmwareAge != 0 {
			mod.FirmwareAge = fmt.Sprintf("%06X", rec.FirmwareAge)
		}
		modules = append(modules, mod)
	}

	if b.publishJSON(b.topics.Discovery(), NewDiscoveryMessage(modules), true) {
		b.health.SetModuleCount(len(modules))
	}
}

// publishJSON marshals and publishes at QoS 1, reporting success.
func (b *Bridge) publishJSON(topic string, msg interface{}, retained bool) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("encoding message", err)
		return false
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logWarn("publishing", "topic", topic, "error", err.Error())
		return false
	}
	return true
}

// GetMetrics returns bridge counters for diagnostics.
func (b *Bridge) GetMetrics() map[string]interface{} {
	stats := b.bus.Stats()
	return map[string]interface{}{
		"commands_handled": b.commandsHandled.Load(),
		"command_errors":   b.commandErrors.Load(),
		"states_published": b.statesPublished.Load(),
		"bus_connected":    stats.Connected,
		"bus_ready":        stats.Ready,
		"lines_received":   stats.LinesReceived,
		"commands_sent":    stats.CommandsSent,
	}
}

// =============================================================================
// Conversions
// =============================================================================

func boolList(states [8]bool) []bool {
	out := make([]bool, len(states))
	copy(out, states[:])
	return out
}

func bitmask(states [8]bool) uint8 {
	var mask uint8
	for i, on := range states {
		if on {
			mask |= 1 << i
		}
	}
	return mask
}

func ledNames(leds [12]lcn.LedState) []string {
	out := make([]string, len(leds))
	for i, state := range leds {
		switch state {
		case lcn.LedOn:
			out[i] = "on"
		case lcn.LedBlink:
			out[i] = "blink"
		case lcn.LedFlicker:
			out[i] = "flicker"
		default:
			out[i] = "off"
		}
	}
	return out
}

func logicOpNames(ops [4]lcn.LogicOpState) []string {
	out := make([]string, len(ops))
	for i, state := range ops {
		switch state {
		case lcn.LogicOpOr:
			out[i] = "or"
		case lcn.LogicOpAnd:
			out[i] = "and"
		default:
			out[i] = "none"
		}
	}
	return out
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, "error", err.Error())
	}
}
