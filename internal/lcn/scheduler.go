package lcn

import (
	"sync"
	"time"
)

// RetryHandler drives a "try N times, call back each attempt" loop. It is
// the timing primitive behind acknowledged commands, the segment coupler
// scan and every status poller.
//
// Activate arms the handler: the callback fires once immediately (the
// first real attempt should not wait), then once per elapsed timeout. When
// the attempt budget is exhausted the callback fires a final time with
// failed=true and the handler disarms. A handler is reusable; Activate
// may be called again after completion or Cancel.
//
// Thread Safety:
//   - All methods are safe for concurrent use. The callback runs on the
//     handler's own goroutine.
type RetryHandler struct {
	numTries int // -1 retries forever
	timeout  time.Duration

	mu     sync.Mutex
	cancel chan struct{}
}

// NewRetryHandler creates an idle handler.
//
// Parameters:
//   - numTries: Attempt budget; -1 retries forever
//   - timeout: Delay between attempts
func NewRetryHandler(numTries int, timeout time.Duration) *RetryHandler {
	return &RetryHandler{numTries: numTries, timeout: timeout}
}

// Activate arms the handler with the given callback, replacing any run in
// progress. The callback receives failed=false on every attempt and
// failed=true exactly once if the budget runs out.
func (h *RetryHandler) Activate(callback func(failed bool)) {
	h.mu.Lock()
	if h.cancel != nil {
		close(h.cancel)
	}
	cancel := make(chan struct{})
	h.cancel = cancel
	h.mu.Unlock()

	go h.run(cancel, callback)
}

// Cancel disarms the handler. Safe to call when already idle.
func (h *RetryHandler) Cancel() {
	h.mu.Lock()
	if h.cancel != nil {
		close(h.cancel)
		h.cancel = nil
	}
	h.mu.Unlock()
}

// IsActive reports whether a run is armed.
func (h *RetryHandler) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

// run executes the attempt loop until cancelled or exhausted.
func (h *RetryHandler) run(cancel chan struct{}, callback func(failed bool)) {
	for attempt := 0; ; attempt++ {
		select {
		case <-cancel:
			return
		default:
		}

		if h.numTries >= 0 && attempt >= h.numTries {
			h.disarm(cancel)
			callback(true)
			return
		}

		callback(false)

		timer := time.NewTimer(h.timeout)
		select {
		case <-cancel:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// disarm clears the cancel channel if this run still owns it.
func (h *RetryHandler) disarm(cancel chan struct{}) {
	h.mu.Lock()
	if h.cancel == cancel {
		h.cancel = nil
	}
	h.mu.Unlock()
}
