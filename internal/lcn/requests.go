package lcn

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Request age selectors for Requester.Request and the module-level
// status request helpers.
const (
	// AnyAge accepts a cached response of any age.
	AnyAge time.Duration = -1

	// ForceFresh ignores the cache and always queries the bus.
	ForceFresh time.Duration = 0
)

// ResponseKind classifies what a status request is waiting for. Together
// with the module address and a kind-specific parameter it forms the
// correlation key between outgoing requests and inbound status reports.
type ResponseKind int

// Response kinds. Serial answers are not correlated here; the module
// connection resolves them through its own channel.
const (
	RespTextBlock ResponseKind = iota
	RespOutput
	RespRelays
	RespBinSensors
	RespVar
	RespLedsLogic
	RespKeyLocks
)

// requestKey identifies one logical request. Concurrent requests with the
// same key share a single wire command and a single response.
type requestKey struct {
	addr   Address
	kind   ResponseKind
	params string
}

// requestEntry tracks one in-flight or recently resolved request.
type requestEntry struct {
	done       chan struct{}
	result     Input
	err        error
	resolvedAt time.Time
	retry      *RetryHandler

	// slotHeld records that launch acquired an in-flight slot for this
	// entry. Guarded by Requester.mu; whoever resolves the entry
	// returns the slot exactly once.
	slotHeld bool
}

func (e *requestEntry) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Requester correlates outgoing status requests with inbound status
// reports. It deduplicates concurrent requests for the same value,
// caches resolved responses for age-based reuse, retries unanswered
// requests and bounds the number of requests simultaneously on the wire.
//
// Entries are shared: a caller's context expiring abandons that caller's
// wait but never cancels the entry other callers may be joined on.
type Requester struct {
	conn *Connection

	mu      sync.Mutex
	entries map[requestKey]*requestEntry

	// slots bounds distinct in-flight requests.
	slots chan struct{}

	pruneOnce sync.Once
}

func newRequester(conn *Connection) *Requester {
	return &Requester{
		conn:    conn,
		entries: make(map[requestKey]*requestEntry),
		slots:   make(chan struct{}, conn.cfg.MaxInFlightRequests),
	}
}

// Request returns the status value identified by (addr, kind, params),
// sending the wire command produced by send when no usable response is
// cached or in flight.
//
// Parameters:
//   - maxAge: Accept a cached response no older than this. AnyAge accepts
//     any cached response, ForceFresh always queries the bus. An in-flight
//     request for the same key is always joined regardless of maxAge.
//   - send: Produces and transmits the wire command. Called once per
//     attempt.
//
// Returns:
//   - Input: The matching status report
//   - error: ErrTimeout on ctx expiry, ErrNoResult when all attempts went
//     unanswered, ErrNotConnected when the session died
func (r *Requester) Request(ctx context.Context, addr Address, kind ResponseKind, params string, maxAge time.Duration, send func() error) (Input, error) {
	r.pruneOnce.Do(r.startPruneLoop)

	key := requestKey{addr: addr, kind: kind, params: params}

	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok && entry.resolved() {
		age := time.Since(entry.resolvedAt)
		if entry.err == nil && (maxAge == AnyAge || (maxAge > 0 && age <= maxAge)) {
			result := entry.result
			r.mu.Unlock()
			return result, nil
		}
		// Stale, failed or freshness was forced: start over.
		delete(r.entries, key)
		ok = false
	}
	if !ok {
		entry = &requestEntry{
			done:  make(chan struct{}),
			retry: NewRetryHandler(r.conn.cfg.NumTries, r.conn.cfg.RequestTimeout),
		}
		r.entries[key] = entry
		r.mu.Unlock()
		if err := r.launch(ctx, key, entry, send); err != nil {
			return nil, err
		}
	} else {
		r.mu.Unlock()
	}

	select {
	case <-entry.done:
		return entry.result, entry.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-r.conn.closed:
		return nil, ErrClosed
	}
}

// launch acquires an in-flight slot and arms the retry loop for a fresh
// entry. An entry resolved while the slot was pending keeps its result;
// the token goes straight back and no retry loop starts.
func (r *Requester) launch(ctx context.Context, key requestKey, entry *requestEntry, send func() error) error {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		r.fail(key, entry, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-r.conn.closed:
		r.fail(key, entry, ErrClosed)
		return ErrClosed
	}

	r.mu.Lock()
	if entry.resolved() {
		r.mu.Unlock()
		<-r.slots
		return nil
	}
	entry.slotHeld = true
	r.mu.Unlock()

	entry.retry.Activate(func(failed bool) {
		if entry.resolved() {
			entry.retry.Cancel()
			return
		}
		if failed {
			r.fail(key, entry, ErrNoResult)
			return
		}
		if err := send(); err != nil {
			r.fail(key, entry, err)
		}
	})
	return nil
}

// handleInput resolves the pending entry matching an inbound status
// report, if any.
func (r *Requester) handleInput(input Input) {
	key, ok := keyForInput(input)
	if !ok {
		return
	}

	r.mu.Lock()
	entry, exists := r.entries[key]
	if !exists || entry.resolved() {
		r.mu.Unlock()
		return
	}
	entry.retry.Cancel()
	entry.result = input
	entry.resolvedAt = time.Now()
	close(entry.done)
	held := entry.slotHeld
	entry.slotHeld = false
	r.mu.Unlock()

	if held {
		<-r.slots
	}
}

// fail resolves an entry with an error and removes it so the next
// request starts fresh instead of observing a poisoned result.
func (r *Requester) fail(key requestKey, entry *requestEntry, err error) {
	entry.retry.Cancel()

	r.mu.Lock()
	if entry.resolved() {
		r.mu.Unlock()
		return
	}
	entry.err = err
	close(entry.done)
	if r.entries[key] == entry {
		delete(r.entries, key)
	}
	held := entry.slotHeld
	entry.slotHeld = false
	r.mu.Unlock()

	if held {
		<-r.slots
	}
}

// failAll fails every in-flight entry and drops the response cache. Runs
// on session teardown.
func (r *Requester) failAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[requestKey]*requestEntry)
	for _, entry := range entries {
		entry.retry.Cancel()
		if entry.resolved() {
			continue
		}
		entry.err = ErrNotConnected
		close(entry.done)
		if entry.slotHeld {
			// A held slot guarantees a token is present; this cannot
			// block.
			entry.slotHeld = false
			<-r.slots
		}
	}
	r.mu.Unlock()
}

// startPruneLoop evicts resolved cache entries past their useful age.
func (r *Requester) startPruneLoop() {
	r.conn.wg.Add(1)
	go func() {
		defer r.conn.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-r.conn.closed:
				return
			case <-ticker.C:
				r.prune(MaxAgeEventBased)
			}
		}
	}()
}

// prune removes resolved entries older than ttl.
func (r *Requester) prune(ttl time.Duration) {
	now := time.Now()
	r.mu.Lock()
	for key, entry := range r.entries {
		if entry.resolved() && now.Sub(entry.resolvedAt) > ttl {
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()
}

// keyForInput derives the correlation key a status report answers.
func keyForInput(input Input) (requestKey, bool) {
	switch v := input.(type) {
	case TextBlock:
		return requestKey{addr: v.Source, kind: RespTextBlock, params: fmt.Sprintf("%c%d", v.Kind, v.Block)}, true
	case OutputStatusPercent:
		return requestKey{addr: v.Source, kind: RespOutput, params: fmt.Sprintf("%d", v.Output)}, true
	case OutputStatusNative:
		return requestKey{addr: v.Source, kind: RespOutput, params: fmt.Sprintf("%d", v.Output)}, true
	case RelaysStatus:
		return requestKey{addr: v.Source, kind: RespRelays}, true
	case BinSensorsStatus:
		return requestKey{addr: v.Source, kind: RespBinSensors}, true
	case VarStatus:
		return requestKey{addr: v.Source, kind: RespVar, params: v.Var.String()}, true
	case LedsLogicStatus:
		return requestKey{addr: v.Source, kind: RespLedsLogic}, true
	case KeyLocksStatus:
		return requestKey{addr: v.Source, kind: RespKeyLocks}, true
	}
	return requestKey{}, false
}
