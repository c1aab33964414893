package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/lcn-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lcn-core/internal/lcn"
)

// defaultHealthInterval is the period between health reports.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the broker surface the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporter periodically publishes the bridge's health to
// lcn/bridge/health, retained so late subscribers see the last report.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	bus       *lcn.Connection
	topics    mqtt.Topics

	countMu     sync.Mutex
	moduleCount int

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. An interval of 0 selects the
// default period.
func NewHealthReporter(publisher HealthPublisher, bus *lcn.Connection, version string, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		version:   version,
		startTime: time.Now(),
		interval:  interval,
		publisher: publisher,
		bus:       bus,
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// SetModuleCount updates the module count included in reports.
func (h *HealthReporter) SetModuleCount(count int) {
	h.countMu.Lock()
	h.moduleCount = count
	h.countMu.Unlock()
}

// Start publishes a starting report and begins the periodic loop.
func (h *HealthReporter) Start() {
	h.publish(HealthStarting, "")
	h.wg.Add(1)
	go h.reportLoop()
}

// Stop ends the loop and publishes a stopping report.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.publish(HealthStopping, "")
	})
}

// PublishNow publishes a report outside the regular schedule, e.g. right
// after a bus state change.
func (h *HealthReporter) PublishNow() {
	status, reason := h.determineStatus()
	h.publish(status, reason)
}

func (h *HealthReporter) reportLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.PublishNow()
		}
	}
}

// determineStatus derives the health state from the broker and bus
// connections.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT broker disconnected"
	}
	stats := h.bus.Stats()
	if !stats.Connected {
		return HealthDegraded, "PCHK gateway disconnected"
	}
	if !stats.Ready {
		return HealthDegraded, "bus session not ready"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(status HealthStatus, reason string) {
	stats := h.bus.Stats()

	msg := NewHealthMessage(status, h.version, time.Since(h.startTime))
	msg.Reason = reason
	msg.Connection = map[string]interface{}{
		"mqtt_connected": h.publisher.IsConnected(),
		"bus_connected":  stats.Connected,
		"bus_ready":      stats.Ready,
		"local_segment":  stats.LocalSegment,
	}
	msg.Statistics = map[string]interface{}{
		"lines_received": stats.LinesReceived,
		"commands_sent":  stats.CommandsSent,
		"unknown_lines":  stats.UnknownLines,
	}

	h.countMu.Lock()
	msg.ModulesSeen = h.moduleCount
	h.countMu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logWarn("encoding health report", "error", err.Error())
		return
	}
	if err := h.publisher.Publish(h.topics.Health(), payload, 1, true); err != nil {
		h.logWarn("publishing health report", "error", err.Error())
	}
}

func (h *HealthReporter) logWarn(msg string, args ...any) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}
