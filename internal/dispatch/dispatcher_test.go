package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"exit-watchdog/internal/broker"
	"exit-watchdog/internal/events"
	"exit-watchdog/internal/position"
	"exit-watchdog/internal/signal"
	"exit-watchdog/internal/ticksize"
)

func testSetup(queueSize int) (*Dispatcher, *broker.MockClient, *position.Store) {
	mock := broker.NewMockClient()
	store := position.NewStore(zerolog.Nop())
	ticks := ticksize.NewResolver(mock, "NSE", nil, zerolog.Nop())
	d := NewDispatcher(mock, ticks, store, events.NewBus(), nil, Config{
		QueueSize:    queueSize,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		DrainGrace:   time.Second,
	}, zerolog.Nop())
	return d, mock, store
}

func trackedPosition(store *position.Store) *position.Position {
	p := &position.Position{
		Ticker:      "RELIANCE",
		Exchange:    "NSE",
		ProductType: "CNC",
		Quantity:    10,
		EntryPrice:  1000,
		State:       position.StateMonitoring,
	}
	store.Track(p)
	return p
}

func stopSignal() *signal.ExitSignal {
	return &signal.ExitSignal{
		Ticker:       "RELIANCE",
		ProductType:  "CNC",
		Exchange:     "NSE",
		Kind:         signal.KindATRStop,
		TriggerPrice: 1054.97,
		Reason:       "stop breached",
		Quantity:     10,
	}
}

// runUntil runs the dispatcher until the condition holds, then shuts it
// down. Fails the test if the condition is not reached within two seconds.
func runUntil(t *testing.T, d *Dispatcher, condition func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatal("dispatcher did not reach expected state in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func pendingCleared(store *position.Store, key string) func() bool {
	return func() bool {
		p, ok := store.Get(key)
		return ok && !p.HasPendingOrder
	}
}

func inState(store *position.Store, key string, state position.State) func() bool {
	return func() bool {
		p, ok := store.Get(key)
		return ok && !p.HasPendingOrder && p.State == state
	}
}

func atLadderLevel(store *position.Store, key string, level int) func() bool {
	return func() bool {
		p, ok := store.Get(key)
		return ok && !p.HasPendingOrder && p.ProfitTargetLevel == level
	}
}

// TestSubmitSetsPendingGuard verifies the duplicate-submission guard is in
// place before Submit returns.
func TestSubmitSetsPendingGuard(t *testing.T) {
	d, _, store := testSetup(4)
	trackedPosition(store)

	if err := d.Submit(stopSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, _ := store.Get(position.Key("RELIANCE", "CNC"))
	if !p.HasPendingOrder {
		t.Error("pending guard not set after Submit")
	}
	if d.Backlog() != 1 {
		t.Errorf("Expected backlog 1, got %d", d.Backlog())
	}
}

// TestSubmitQueueFullRollsBack verifies a full queue returns ErrQueueFull
// and releases the guard so the signal can fire again next cycle.
func TestSubmitQueueFullRollsBack(t *testing.T) {
	d, _, store := testSetup(1)
	trackedPosition(store)
	store.Track(&position.Position{
		Ticker: "TCS", Exchange: "NSE", ProductType: "CNC",
		Quantity: 5, EntryPrice: 3500, State: position.StateMonitoring,
	})

	if err := d.Submit(stopSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := &signal.ExitSignal{
		Ticker: "TCS", ProductType: "CNC", Exchange: "NSE",
		Kind: signal.KindATRStop, TriggerPrice: 3400, Quantity: 5,
	}
	if err := d.Submit(second); err != ErrQueueFull {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}

	p, _ := store.Get(position.Key("TCS", "CNC"))
	if p.HasPendingOrder {
		t.Error("guard must be rolled back when the queue rejects the signal")
	}
}

// TestOrderPlacedParksPosition verifies a successful full exit clears the
// guard, parks the position for reconciliation, and rounds the limit price
// down to the tick.
func TestOrderPlacedParksPosition(t *testing.T) {
	d, mock, store := testSetup(4)
	trackedPosition(store)

	if err := d.Submit(stopSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runUntil(t, d, inState(store, position.Key("RELIANCE", "CNC"), position.StatePendingExit))

	if mock.OrderCount() != 1 {
		t.Fatalf("Expected 1 order placed, got %d", mock.OrderCount())
	}
	req := mock.PlacedOrders[0]
	if req.TransactionType != broker.TransactionSell || req.OrderType != broker.OrderTypeLimit {
		t.Errorf("Expected SELL LIMIT, got %s %s", req.TransactionType, req.OrderType)
	}
	// 1054.97 floors to the 0.50 tick band.
	if req.Price != 1054.50 {
		t.Errorf("Expected limit price 1054.50, got %f", req.Price)
	}

	p, _ := store.Get(position.Key("RELIANCE", "CNC"))
	if p.HasPendingOrder {
		t.Error("guard not cleared after placement")
	}
	if p.State != position.StatePendingExit {
		t.Errorf("Expected PENDING_EXIT, got %s", p.State)
	}
}

// TestTerminalFailureReleasesPosition verifies a rejected order clears the
// guard and returns the position to monitoring.
func TestTerminalFailureReleasesPosition(t *testing.T) {
	d, mock, store := testSetup(4)
	trackedPosition(store)
	mock.OrderErr = &broker.APIError{StatusCode: 400, Code: "InputException", Message: "RMS rejected"}

	if err := d.Submit(stopSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runUntil(t, d, pendingCleared(store, position.Key("RELIANCE", "CNC")))

	if mock.OrderCount() != 0 {
		t.Errorf("Expected no accepted orders, got %d", mock.OrderCount())
	}
	p, _ := store.Get(position.Key("RELIANCE", "CNC"))
	if p.HasPendingOrder {
		t.Error("guard not cleared after terminal failure")
	}
	if p.State != position.StateMonitoring {
		t.Errorf("Expected MONITORING after failure, got %s", p.State)
	}
}

// TestTransientFailureRetries verifies 5xx responses are retried with
// backoff until the broker accepts.
func TestTransientFailureRetries(t *testing.T) {
	d, mock, store := testSetup(4)
	trackedPosition(store)
	mock.FailOrders = 2 // first two attempts fail with a simulated 500

	if err := d.Submit(stopSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runUntil(t, d, inState(store, position.Key("RELIANCE", "CNC"), position.StatePendingExit))

	if mock.OrderCount() != 1 {
		t.Fatalf("Expected order accepted on third attempt, got %d orders", mock.OrderCount())
	}
	p, _ := store.Get(position.Key("RELIANCE", "CNC"))
	if p.State != position.StatePendingExit {
		t.Errorf("Expected PENDING_EXIT after retry success, got %s", p.State)
	}
}

// TestProfitTargetFailureRevertsLadder verifies a failed partial exit rolls
// the ladder back so the same rung can retry, and a successful one keeps
// the position monitoring.
func TestProfitTargetFailureRevertsLadder(t *testing.T) {
	d, mock, store := testSetup(4)
	trackedPosition(store)
	mock.OrderErr = &broker.APIError{StatusCode: 400, Code: "InputException", Message: "rejected"}

	sig := stopSignal()
	sig.Kind = signal.KindProfitTarget
	sig.Quantity = 4

	if err := d.Submit(sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := store.Get(position.Key("RELIANCE", "CNC"))
	if p.ProfitTargetLevel != 1 {
		t.Fatalf("Expected ladder advanced at submit, got level %d", p.ProfitTargetLevel)
	}

	runUntil(t, d, atLadderLevel(store, position.Key("RELIANCE", "CNC"), 0))

	p, _ = store.Get(position.Key("RELIANCE", "CNC"))
	if p.ProfitTargetLevel != 0 {
		t.Errorf("Expected ladder rolled back after failure, got level %d", p.ProfitTargetLevel)
	}

	// Success path keeps the position monitoring rather than parking it.
	mock.OrderErr = nil
	if err := d.Submit(sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runUntil(t, d, pendingCleared(store, position.Key("RELIANCE", "CNC")))

	p, _ = store.Get(position.Key("RELIANCE", "CNC"))
	if p.State != position.StateMonitoring {
		t.Errorf("Partial exit must not park the position, got %s", p.State)
	}
	if p.ProfitTargetLevel != 1 {
		t.Errorf("Expected ladder held at 1 after success, got %d", p.ProfitTargetLevel)
	}
}

// TestRunDrainsBacklogOnCancel verifies that signals already queued when the
// context is cancelled are still submitted before Run returns, so a caller
// waiting on Run sees every order placed.
func TestRunDrainsBacklogOnCancel(t *testing.T) {
	d, mock, store := testSetup(4)
	trackedPosition(store)
	store.Track(&position.Position{
		Ticker: "TCS", Exchange: "NSE", ProductType: "CNC",
		Quantity: 5, EntryPrice: 3500, State: position.StateMonitoring,
	})

	if err := d.Submit(stopSignal()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second := &signal.ExitSignal{
		Ticker: "TCS", ProductType: "CNC", Exchange: "NSE",
		Kind: signal.KindATRStop, TriggerPrice: 3400, Quantity: 5,
	}
	if err := d.Submit(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if mock.OrderCount() != 2 {
		t.Fatalf("Expected both queued orders placed during drain, got %d", mock.OrderCount())
	}
	if d.Backlog() != 0 {
		t.Errorf("Expected empty backlog after drain, got %d", d.Backlog())
	}
}
