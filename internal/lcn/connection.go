package lcn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is the interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ConnectionConfig holds the settings for a PCHK session.
type ConnectionConfig struct {
	// Host and Port locate the LCN-PCHK gateway.
	Host string
	Port int

	// Username and Password are the PCHK credentials, sent verbatim when
	// the gateway prompts for them.
	Username string
	Password string

	// DimMode is the output dimming granularity the bus is programmed
	// for. Default: DimSteps50.
	DimMode DimMode

	// StatusMode selects percent or native output status reports.
	// Default: StatusPercent.
	StatusMode StatusMode

	// NumTries is the attempt budget for acknowledged commands and
	// status requests. Default: DefaultNumTries.
	NumTries int

	// ScanTries is the attempt budget for the segment coupler scan.
	// Default: DefaultScanTries.
	ScanTries int

	// RequestTimeout is the per-attempt timeout. Default:
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// PingInterval is the keepalive interval. Default:
	// DefaultPingInterval.
	PingInterval time.Duration

	// MaxInFlightRequests bounds concurrently outstanding status
	// requests. Default: DefaultMaxInFlightRequests.
	MaxInFlightRequests int

	// ConnectTimeout is the TCP dial timeout. Default: 10s.
	ConnectTimeout time.Duration
}

// withDefaults fills unset fields.
func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.NumTries == 0 {
		c.NumTries = DefaultNumTries
	}
	if c.ScanTries == 0 {
		c.ScanTries = DefaultScanTries
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxInFlightRequests == 0 {
		c.MaxInFlightRequests = DefaultMaxInFlightRequests
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// ConnectionStats is a snapshot of connection counters.
type ConnectionStats struct {
	LinesReceived uint64 `json:"lines_received"`
	CommandsSent  uint64 `json:"commands_sent"`
	UnknownLines  uint64 `json:"unknown_lines"`
	Connected     bool   `json:"connected"`
	Ready         bool   `json:"ready"`
	LocalSegment  int    `json:"local_segment"`
}

// Connection manages one session with an LCN-PCHK gateway: the TCP
// socket, the authentication and bus-ready handshake, the segment coupler
// scan, keepalives and routing of parsed inputs to per-module
// connections, the status requester and registered observers.
//
// A session becomes "ready" once three latches are set: socket connected,
// bus connected and segment scan completed. Module-sourced inputs are
// only dispatched once ready. A disconnect clears all three latches and
// the entire module table; nothing from the old session resolves
// afterwards. Reconnecting is the caller's decision via Connect.
type Connection struct {
	cfg ConnectionConfig

	mu              sync.Mutex
	conn            net.Conn
	session         chan struct{} // closed when the current session dies
	socketConnected bool
	busConnected    bool
	scanDone        bool
	localSegment    int // -1 while unknown
	segmentCouplers []int
	modules         map[Address]*ModuleConnection
	readyCh         chan struct{} // closed once all three latches are set
	handshakeErr    chan error
	pingCounter     int
	pingStarted     bool

	writeMu sync.Mutex

	scanRetry *RetryHandler
	requester *Requester

	observersMu sync.RWMutex
	observers   []func(Input)

	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	linesReceived atomic.Uint64
	commandsSent  atomic.Uint64
	unknownLines  atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewConnection creates an unconnected client. Call Connect to establish
// the session.
func NewConnection(cfg ConnectionConfig) *Connection {
	c := &Connection{
		cfg:          cfg.withDefaults(),
		localSegment: -1,
		modules:      make(map[Address]*ModuleConnection),
		readyCh:      make(chan struct{}),
		closed:       make(chan struct{}),
	}
	c.scanRetry = NewRetryHandler(c.cfg.ScanTries, c.cfg.RequestTimeout)
	c.requester = newRequester(c)
	return c
}

// SetLogger sets the logger for this connection.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the session dies
// (socket error or close by the gateway). The connection does not
// reconnect by itself.
func (c *Connection) SetOnDisconnect(fn func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = fn
	c.callbackMu.Unlock()
}

// RegisterInputHandler registers an observer for every dispatched input.
// Module-sourced inputs arrive with their source resolved to logical
// addressing. Handlers must not block.
func (c *Connection) RegisterInputHandler(fn func(Input)) {
	c.observersMu.Lock()
	c.observers = append(c.observers, fn)
	c.observersMu.Unlock()
}

// Connect dials the gateway, performs the handshake and waits until the
// session is ready or ctx expires. It can be called again after a
// disconnect; per-session state always starts fresh.
//
// Returns:
//   - error: ErrAuthFailed, ErrLicense, a transport error, or ctx's error
//     if readiness was not reached in time
func (c *Connection) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	if c.socketConnected {
		c.mu.Unlock()
		return nil
	}
	c.resetSessionLocked()
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c.startSession(ctx, conn)
}

// startSession adopts the socket and waits for readiness. Split from
// Connect so tests can drive a session over an in-memory pipe.
func (c *Connection) startSession(ctx context.Context, conn net.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.socketConnected = true
	session := make(chan struct{})
	c.session = session
	handshakeErr := make(chan error, 1)
	c.handshakeErr = handshakeErr
	readyCh := c.readyCh
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn, session)

	select {
	case <-readyCh:
		return nil
	case err := <-handshakeErr:
		c.teardownSession(err)
		return err
	case <-ctx.Done():
		c.teardownSession(ctx.Err())
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-c.closed:
		return ErrClosed
	}
}

// Close shuts the connection down for good. Safe to call multiple times.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.teardownSession(ErrClosed)
		c.wg.Wait()
	})
	return nil
}

// IsReady reports whether all three session latches are set.
func (c *Connection) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketConnected && c.busConnected && c.scanDone
}

// WaitReady blocks until the session is ready, the connection dies or
// ctx expires.
func (c *Connection) WaitReady(ctx context.Context) error {
	c.mu.Lock()
	readyCh := c.readyCh
	c.mu.Unlock()

	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-c.closed:
		return ErrClosed
	}
}

// LocalSegment returns the resolved local segment id, or -1 while the
// coupler scan is outstanding.
func (c *Connection) LocalSegment() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localSegment
}

// SegmentCouplers returns the segment ids reported by couplers during
// scans, in discovery order.
func (c *Connection) SegmentCouplers() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.segmentCouplers...)
}

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	connected := c.socketConnected
	ready := connected && c.busConnected && c.scanDone
	local := c.localSegment
	c.mu.Unlock()

	return ConnectionStats{
		LinesReceived: c.linesReceived.Load(),
		CommandsSent:  c.commandsSent.Load(),
		UnknownLines:  c.unknownLines.Load(),
		Connected:     connected,
		Ready:         ready,
		LocalSegment:  local,
	}
}

// Module returns the connection for the given module address, creating it
// on first use. The address is resolved to logical form once the local
// segment is known. Module connections live until the session resets.
func (c *Connection) Module(addr Address) *ModuleConnection {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.localSegment != -1 {
		addr = addr.ToLogical(c.localSegment)
	}
	if m, ok := c.modules[addr]; ok {
		return m
	}
	m := newModuleConnection(c, addr)
	c.modules[addr] = m
	return m
}

// Group returns a send-only connection for the given group address.
func (c *Connection) Group(addr Address) *GroupConnection {
	return &GroupConnection{conn: c, addr: addr}
}

// ScanModules asks all modules to identify themselves by acknowledging an
// empty command, once per known segment. Discovered modules surface as
// Ack inputs to registered observers.
func (c *Connection) ScanModules() error {
	c.mu.Lock()
	segments := append([]int(nil), c.segmentCouplers...)
	c.mu.Unlock()

	if len(segments) == 0 {
		segments = []int{0}
	}
	for _, segment := range segments {
		if err := c.sendTo(GroupAddress(segment, 3), true, EmptyCommand()); err != nil {
			return err
		}
	}
	return nil
}

// SendCommand sends an addressed command. Commands to modules with
// wantsAck set are routed through the module's acknowledge-gated queue.
func (c *Connection) SendCommand(addr Address, wantsAck bool, body string) error {
	if !addr.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	if wantsAck && !addr.Group {
		return c.Module(addr).Send(true, body)
	}
	return c.sendTo(addr, wantsAck, body)
}

// sendTo writes one addressed command to the socket.
func (c *Connection) sendTo(addr Address, wantsAck bool, body string) error {
	c.mu.Lock()
	local := c.localSegment
	c.mu.Unlock()
	if local == -1 {
		local = 0
	}
	return c.sendRaw(AddressHeader(addr, local, wantsAck) + body)
}

// sendRaw writes one line to the socket, appending the terminator.
func (c *Connection) sendRaw(line string) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.socketConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write([]byte(line + Termination)); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.commandsSent.Add(1)
	return nil
}

// readLoop frames inbound bytes on the line terminator and routes each
// line. It owns the session teardown when the socket dies.
func (c *Connection) readLoop(conn net.Conn, session chan struct{}) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		c.linesReceived.Add(1)
		c.handleLine(line, session)

		select {
		case <-session:
			return
		default:
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrConnectionFailed
	}
	c.teardownSession(err)
}

// handleLine parses one received line and routes its inputs.
func (c *Connection) handleLine(line string, session chan struct{}) {
	for _, input := range Parse(line) {
		c.route(input, session)
	}
}

// route dispatches one parsed input.
func (c *Connection) route(input Input, session chan struct{}) {
	switch v := input.(type) {
	case AuthUsername:
		if err := c.sendRaw(c.cfg.Username); err != nil {
			c.logError("sending username", err)
		}
	case AuthPassword:
		if err := c.sendRaw(c.cfg.Password); err != nil {
			c.logError("sending password", err)
		}
	case AuthOK:
		c.logInfo("authenticated with PCHK")
	case AuthFailed:
		c.failHandshake(ErrAuthFailed)
	case LicenseError:
		c.failHandshake(ErrLicense)
	case BusConnState:
		if v.Connected {
			c.onBusConnected(session)
		} else {
			c.onBusDisconnected()
		}
	case CommandError:
		c.logWarn("PCHK rejected a command", "message", v.Message)
		c.notifyObservers(v)
	case SegmentInfo:
		c.onSegmentInfo(v)
	case Unknown:
		c.unknownLines.Add(1)
		c.logDebug("unrecognized line", "line", v.Line)
	default:
		c.dispatchModuleInput(input)
	}
}

// dispatchModuleInput resolves a module-sourced input to logical
// addressing and feeds it to the module connection, the status requester
// and the observers. Inputs arriving before the session is ready are
// dropped; address resolution would be wrong without the scan result.
func (c *Connection) dispatchModuleInput(input Input) {
	src, ok := inputSource(input)
	if !ok {
		c.notifyObservers(input)
		return
	}

	c.mu.Lock()
	ready := c.socketConnected && c.busConnected && c.scanDone
	local := c.localSegment
	c.mu.Unlock()
	if !ready {
		c.logDebug("dropping module input before readiness", "source", src.String())
		return
	}

	input = resolveSource(input, local)
	logical, _ := inputSource(input)

	c.mu.Lock()
	module := c.modules[logical]
	c.mu.Unlock()
	if module != nil {
		input = module.handleInput(input)
	}

	c.requester.handleInput(input)
	c.notifyObservers(input)
}

// notifyObservers fans an input out to all registered handlers.
func (c *Connection) notifyObservers(input Input) {
	c.observersMu.RLock()
	observers := c.observers
	c.observersMu.RUnlock()
	for _, fn := range observers {
		fn(input)
	}
}

// failHandshake reports a fatal handshake outcome to Connect.
func (c *Connection) failHandshake(err error) {
	c.mu.Lock()
	ch := c.handshakeErr
	c.mu.Unlock()
	if ch != nil {
		select {
		case ch <- err:
		default:
		}
	}
}

// onBusConnected runs when PCHK reports the physical bus as up: set the
// operation mode, start keepalives and kick off the segment coupler scan.
func (c *Connection) onBusConnected(session chan struct{}) {
	c.logInfo("LCN bus connected")

	if err := c.sendRaw(SetOperationMode(c.cfg.DimMode, c.cfg.StatusMode)); err != nil {
		c.logError("setting operation mode", err)
	}

	c.mu.Lock()
	c.busConnected = true
	startPing := !c.pingStarted
	c.pingStarted = true
	c.mu.Unlock()

	if startPing {
		c.wg.Add(1)
		go c.pingLoop(session)
	}

	c.scanRetry.Activate(func(failed bool) {
		if failed {
			// No coupler answered: the bus has a single segment and the
			// local segment keeps id 0.
			c.logInfo("no segment coupler found, assuming single segment")
			c.setLocalSegment(0)
			return
		}
		if err := c.sendTo(GroupAddress(3, 3), false, SegmentCouplerScan()); err != nil {
			c.logError("sending segment coupler scan", err)
		}
	})
}

// onBusDisconnected runs when PCHK loses the physical bus. All per-module
// state and the scan result are discarded; the socket stays up and the
// scan restarts when the bus returns.
func (c *Connection) onBusDisconnected() {
	c.logWarn("LCN bus disconnected")
	c.scanRetry.Cancel()

	c.mu.Lock()
	c.busConnected = false
	c.scanDone = false
	c.localSegment = -1
	modules := c.modules
	c.modules = make(map[Address]*ModuleConnection)
	if isClosed(c.readyCh) {
		c.readyCh = make(chan struct{})
	}
	c.mu.Unlock()

	for _, m := range modules {
		m.reset()
	}
	c.requester.failAll()
}

// onSegmentInfo handles a coupler's scan response. A response with
// physical source segment 0 names the local segment.
func (c *Connection) onSegmentInfo(info SegmentInfo) {
	c.mu.Lock()
	known := false
	for _, id := range c.segmentCouplers {
		if id == info.SegmentID {
			known = true
			break
		}
	}
	if !known {
		c.segmentCouplers = append(c.segmentCouplers, info.SegmentID)
	}
	c.mu.Unlock()

	if info.Source.Segment == 0 {
		c.setLocalSegment(info.SegmentID)
	}
}

// setLocalSegment resolves the local segment id, rekeys module
// connections created under the old placeholder id and completes the
// scan latch.
func (c *Connection) setLocalSegment(segment int) {
	c.scanRetry.Cancel()

	c.mu.Lock()
	old := c.localSegment
	c.localSegment = segment
	c.scanDone = true

	if old != segment {
		rekeyed := make(map[Address]*ModuleConnection, len(c.modules))
		for addr, m := range c.modules {
			if addr.Segment == old || addr.Segment == 0 {
				addr = Address{Segment: segment, ID: addr.ID, Group: addr.Group}
				m.rekey(addr)
			}
			rekeyed[addr] = m
		}
		c.modules = rekeyed
	}
	c.maybeReadyLocked()
	c.mu.Unlock()

	c.logInfo("segment scan completed", "local_segment", segment)
}

// maybeReadyLocked closes the ready latch once all three session latches
// are set. Callers hold c.mu.
func (c *Connection) maybeReadyLocked() {
	if !(c.socketConnected && c.busConnected && c.scanDone) {
		return
	}
	if isClosed(c.readyCh) {
		return
	}
	close(c.readyCh)
}

// pingLoop nudges PCHK at a fixed interval so it does not time the idle
// socket out. A missing reply is not treated as a failure.
func (c *Connection) pingLoop(session chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-session:
			return
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.pingCounter++
			counter := c.pingCounter
			c.mu.Unlock()
			if err := c.sendRaw(Ping(counter)); err != nil {
				return
			}
		}
	}
}

// teardownSession kills the current session: close the socket, reset all
// latches, clear the module table and fail outstanding requests.
func (c *Connection) teardownSession(err error) {
	c.scanRetry.Cancel()

	c.mu.Lock()
	if !c.socketConnected && c.conn == nil {
		c.mu.Unlock()
		return
	}
	if c.session != nil && !isClosed(c.session) {
		close(c.session)
	}
	conn := c.conn
	c.conn = nil
	c.socketConnected = false
	c.busConnected = false
	c.scanDone = false
	c.pingStarted = false
	c.localSegment = -1
	modules := c.modules
	c.modules = make(map[Address]*ModuleConnection)
	if isClosed(c.readyCh) {
		c.readyCh = make(chan struct{})
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close() //nolint:errcheck // Best effort on teardown
	}
	for _, m := range modules {
		m.reset()
	}
	c.requester.failAll()

	c.callbackMu.RLock()
	onDisconnect := c.onDisconnect
	c.callbackMu.RUnlock()
	if onDisconnect != nil && err != ErrClosed {
		onDisconnect(err)
	}
}

// resetSessionLocked prepares fresh per-session state. Callers hold c.mu.
func (c *Connection) resetSessionLocked() {
	c.localSegment = -1
	c.scanDone = false
	c.busConnected = false
	c.pingStarted = false
	c.modules = make(map[Address]*ModuleConnection)
	if isClosed(c.readyCh) {
		c.readyCh = make(chan struct{})
	}
}

// inputSource extracts the source address of a module-sourced input.
func inputSource(input Input) (Address, bool) {
	switch v := input.(type) {
	case Ack:
		return v.Source, true
	case SegmentInfo:
		return v.Source, true
	case SerialInfo:
		return v.Source, true
	case TextBlock:
		return v.Source, true
	case OutputStatusPercent:
		return v.Source, true
	case OutputStatusNative:
		return v.Source, true
	case RelaysStatus:
		return v.Source, true
	case BinSensorsStatus:
		return v.Source, true
	case VarStatus:
		return v.Source, true
	case LedsLogicStatus:
		return v.Source, true
	case KeyLocksStatus:
		return v.Source, true
	case HostCommand:
		return v.Source, true
	}
	return Address{}, false
}

// resolveSource rewrites a module input's source to logical addressing.
func resolveSource(input Input, localSegment int) Input {
	switch v := input.(type) {
	case Ack:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case SerialInfo:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case TextBlock:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case OutputStatusPercent:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case OutputStatusNative:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case RelaysStatus:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case BinSensorsStatus:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case VarStatus:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case LedsLogicStatus:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case KeyLocksStatus:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	case HostCommand:
		v.Source = v.Source.ToLogical(localSegment)
		return v
	}
	return input
}

// isClosed reports whether ch has been closed. Only valid for channels
// that are never sent to.
func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// EmptyCommand generates a command without any effect. Modules still
// acknowledge it, which makes it useful for discovery.
func EmptyCommand() string {
	return "LEER"
}

// logDebug logs at debug level if a logger is set.
func (c *Connection) logDebug(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

// logInfo logs at info level if a logger is set.
func (c *Connection) logInfo(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

// logWarn logs at warn level if a logger is set.
func (c *Connection) logWarn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

// logError logs an error if a logger is set.
func (c *Connection) logError(msg string, err error) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

func (c *Connection) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
