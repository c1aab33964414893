package lcn

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRequester() (*Connection, *Requester) {
	c := NewConnection(ConnectionConfig{
		Host:           "test",
		Port:           4114,
		RequestTimeout: 50 * time.Millisecond,
	})
	return c, c.requester
}

// Two concurrent requests for the same value must share a single wire
// command and both receive the same response.
func TestRequesterDeduplicatesConcurrentRequests(t *testing.T) {
	c, r := newTestRequester()
	defer c.Close()

	addr := ModuleAddress(20, 7)
	var sends atomic.Int64
	send := func() error {
		sends.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]Input, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Request(ctx, addr, RespRelays, "", ForceFresh, send)
		}(i)
	}

	// Let both callers join the entry before answering.
	time.Sleep(20 * time.Millisecond)
	r.handleInput(RelaysStatus{ModInput: ModInput{Source: addr}, States: [8]bool{true}})
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		status, ok := results[i].(RelaysStatus)
		if !ok || !status.States[0] {
			t.Errorf("request %d result = %#v", i, results[i])
		}
	}
	if got := sends.Load(); got != 1 {
		t.Errorf("wire commands sent = %d, want 1", got)
	}
}

func TestRequesterServesFromCache(t *testing.T) {
	c, r := newTestRequester()
	defer c.Close()

	addr := ModuleAddress(20, 7)
	var sends atomic.Int64
	send := func() error {
		sends.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.handleInput(RelaysStatus{ModInput: ModInput{Source: addr}})
	}()
	if _, err := r.Request(ctx, addr, RespRelays, "", ForceFresh, send); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Any age accepts the cached response without touching the wire.
	if _, err := r.Request(ctx, addr, RespRelays, "", AnyAge, send); err != nil {
		t.Fatalf("cached request: %v", err)
	}
	if got := sends.Load(); got != 1 {
		t.Errorf("wire commands after cached read = %d, want 1", got)
	}

	// A tight max age rejects the cached response.
	time.Sleep(20 * time.Millisecond)
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.handleInput(RelaysStatus{ModInput: ModInput{Source: addr}})
	}()
	if _, err := r.Request(ctx, addr, RespRelays, "", time.Millisecond, send); err != nil {
		t.Fatalf("refresh request: %v", err)
	}
	if got := sends.Load(); got != 2 {
		t.Errorf("wire commands after refresh = %d, want 2", got)
	}
}

func TestRequesterDistinguishesKeys(t *testing.T) {
	c, r := newTestRequester()
	defer c.Close()

	addr := ModuleAddress(20, 7)
	var sends atomic.Int64
	send := func() error {
		sends.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, output := range []int{0, 1} {
		wg.Add(1)
		go func(output int) {
			defer wg.Done()
			_, _ = r.Request(ctx, addr, RespOutput, "0", ForceFresh, send) //nolint:errcheck
			_ = output
		}(output)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Request(ctx, addr, RespOutput, "1", ForceFresh, send) //nolint:errcheck
	}()

	time.Sleep(20 * time.Millisecond)
	r.handleInput(OutputStatusPercent{ModInput: ModInput{Source: addr}, Output: 0, Percent: 50})
	r.handleInput(OutputStatusPercent{ModInput: ModInput{Source: addr}, Output: 1, Percent: 75})
	wg.Wait()

	// Output 0 was requested twice (deduplicated), output 1 once.
	if got := sends.Load(); got != 2 {
		t.Errorf("wire commands sent = %d, want 2", got)
	}
}

func TestRequesterRetriesAndFails(t *testing.T) {
	c, r := newTestRequester()
	defer c.Close()

	addr := ModuleAddress(20, 7)
	var sends atomic.Int64
	send := func() error {
		sends.Add(1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := r.Request(ctx, addr, RespRelays, "", ForceFresh, send)
	if err == nil {
		t.Fatal("unanswered request did not fail")
	}
	if got := sends.Load(); got != int64(DefaultNumTries) {
		t.Errorf("attempts = %d, want %d", got, DefaultNumTries)
	}

	// A failed entry must not poison the next request.
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.handleInput(RelaysStatus{ModInput: ModInput{Source: addr}})
	}()
	if _, err := r.Request(ctx, addr, RespRelays, "", ForceFresh, send); err != nil {
		t.Errorf("request after failure: %v", err)
	}
}

func TestRequesterFailAll(t *testing.T) {
	c, r := newTestRequester()
	defer c.Close()

	addr := ModuleAddress(20, 7)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Request(ctx, addr, RespRelays, "", ForceFresh, func() error { return nil })
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.failAll()

	select {
	case err := <-errCh:
		if err != ErrNotConnected {
			t.Errorf("err = %v, want %v", err, ErrNotConnected)
		}
	case <-time.After(time.Second):
		t.Fatal("request survived failAll")
	}
}

// An entry answered while its launch is still waiting for an in-flight
// slot must keep the answer, send nothing once the slot frees up and
// leave the slot accounting intact.
func TestRequesterResolvedWhileAwaitingSlot(t *testing.T) {
	c := NewConnection(ConnectionConfig{
		Host:                "test",
		Port:                4114,
		RequestTimeout:      50 * time.Millisecond,
		MaxInFlightRequests: 1,
	})
	r := c.requester
	defer c.Close()

	addr := ModuleAddress(20, 7)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// The first request occupies the only slot.
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Request(ctx, addr, RespRelays, "", ForceFresh, func() error { return nil })
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// The second request blocks waiting for a slot; its answer arrives
	// while it waits.
	var secondSends atomic.Int64
	secondRes := make(chan Input, 1)
	go func() {
		res, err := r.Request(ctx, addr, RespBinSensors, "", ForceFresh, func() error {
			secondSends.Add(1)
			return nil
		})
		if err != nil {
			t.Errorf("second request: %v", err)
		}
		secondRes <- res
	}()
	time.Sleep(20 * time.Millisecond)
	r.handleInput(BinSensorsStatus{ModInput: ModInput{Source: addr}, States: [8]bool{true}})

	// Answering the first request frees the slot.
	r.handleInput(RelaysStatus{ModInput: ModInput{Source: addr}})
	if err := <-firstErr; err != nil {
		t.Fatalf("first request: %v", err)
	}

	select {
	case res := <-secondRes:
		status, ok := res.(BinSensorsStatus)
		if !ok || !status.States[0] {
			t.Errorf("second result = %#v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("second request never returned")
	}

	// No retry loop may have been armed for the resolved entry; waiting
	// past two retry periods catches a stray resend.
	time.Sleep(120 * time.Millisecond)
	if got := secondSends.Load(); got != 0 {
		t.Errorf("wire commands for resolved entry = %d, want 0", got)
	}

	// The slot is free again for the next request.
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.handleInput(LedsLogicStatus{ModInput: ModInput{Source: addr}})
	}()
	if _, err := r.Request(ctx, addr, RespLedsLogic, "", ForceFresh, func() error { return nil }); err != nil {
		t.Errorf("request after race: %v", err)
	}
}

func TestRequesterCallerTimeoutLeavesEntryIntact(t *testing.T) {
	c, r := newTestRequester()
	defer c.Close()

	addr := ModuleAddress(20, 7)
	var sends atomic.Int64
	send := func() error {
		sends.Add(1)
		return nil
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	if _, err := r.Request(short, addr, RespRelays, "", ForceFresh, send); err == nil {
		t.Fatal("request outlived its context")
	}

	// The shared entry is still in flight; a second caller joins it and
	// gets the late answer.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.handleInput(RelaysStatus{ModInput: ModInput{Source: addr}})
	}()
	if _, err := r.Request(ctx, addr, RespRelays, "", ForceFresh, send); err != nil {
		t.Errorf("joined request: %v", err)
	}
	if got := sends.Load(); got != 1 {
		t.Errorf("wire commands sent = %d, want 1", got)
	}
}
