package waitfor

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakePage is an in-memory Page implementation for protocol tests.
type fakePage struct {
	mu        sync.Mutex
	ready     string
	inFlight  int
	selectors map[string]bool
}

func newFakePage() *fakePage {
	return &fakePage{
		ready:     "complete",
		selectors: make(map[string]bool),
	}
}

func (p *fakePage) ReadyState(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready, nil
}

func (p *fakePage) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

func (p *fakePage) HasSelector(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectors[selector], nil
}

func (p *fakePage) setReady(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = state
}

func (p *fakePage) setInFlight(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = n
}

func (p *fakePage) addSelector(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selectors[selector] = true
}

// fastConfig returns a config sized for tests.
func fastConfig() Config {
	return Config{
		MaxWait:      500 * time.Millisecond,
		ReadyState:   ReadyComplete,
		NetworkIdle:  0,
		PollInterval: 5 * time.Millisecond,
	}
}

// --- Config tests ---

func TestNormalized_ClampsNetworkIdleToMaxWait(t *testing.T) {
	cfg := Config{
		MaxWait:     100 * time.Millisecond,
		NetworkIdle: time.Minute,
	}

	got := cfg.Normalized()

	if got.NetworkIdle != got.MaxWait {
		t.Errorf("NetworkIdle should be clamped to MaxWait, got %v (max %v)", got.NetworkIdle, got.MaxWait)
	}
}

func TestNormalized_FillsDefaults(t *testing.T) {
	got := Config{}.Normalized()
	def := DefaultConfig()

	if got.MaxWait != def.MaxWait {
		t.Errorf("MaxWait = %v, want %v", got.MaxWait, def.MaxWait)
	}
	if got.ReadyState != ReadyComplete {
		t.Errorf("ReadyState = %q, want %q", got.ReadyState, ReadyComplete)
	}
	if got.PollInterval != def.PollInterval {
		t.Errorf("PollInterval = %v, want %v", got.PollInterval, def.PollInterval)
	}
}

func TestNormalized_NegativeNetworkIdleBecomesZero(t *testing.T) {
	got := Config{NetworkIdle: -time.Second}.Normalized()
	if got.NetworkIdle != 0 {
		t.Errorf("NetworkIdle = %v, want 0", got.NetworkIdle)
	}
}

// --- Protocol runs ---

func TestRun_SettlesImmediately_NoSubWaits(t *testing.T) {
	page := newFakePage()
	cfg := fastConfig()
	cfg.ReadyState = ReadyNone

	start := time.Now()
	outcome, err := Run(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !outcome.Settled() {
		t.Fatalf("expected settled, got %v", outcome)
	}

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected near-instant settle, took %v", elapsed)
	}
}

func TestRun_WaitsForReadyState(t *testing.T) {
	page := newFakePage()
	page.setReady("loading")

	go func() {
		time.Sleep(30 * time.Millisecond)
		page.setReady("complete")
	}()

	outcome, err := Run(context.Background(), page, fastConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !outcome.Settled() {
		t.Errorf("expected settled, got %v", outcome)
	}
}

func TestRun_InteractiveSatisfiedByComplete(t *testing.T) {
	page := newFakePage()
	page.setReady("complete")

	cfg := fastConfig()
	cfg.ReadyState = ReadyInteractive

	outcome, err := Run(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !outcome.Settled() {
		t.Errorf("complete should satisfy interactive, got %v", outcome)
	}
}

func TestRun_CompleteNotSatisfiedByInteractive(t *testing.T) {
	page := newFakePage()
	page.setReady("interactive")

	cfg := fastConfig()
	cfg.MaxWait = 80 * time.Millisecond

	outcome, err := Run(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.Settled() {
		t.Fatal("interactive must not satisfy a complete target")
	}

	if outcome.TimedOutIn != StateAwaitingReadyState {
		t.Errorf("expected timeout in ready_state, got %v", outcome.TimedOutIn)
	}
}

func TestRun_NetworkIdle_RequiresContinuousQuiet(t *testing.T) {
	page := newFakePage()
	page.setInFlight(2)

	cfg := fastConfig()
	cfg.NetworkIdle = 30 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		page.setInFlight(0)
	}()

	start := time.Now()
	outcome, err := Run(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !outcome.Settled() {
		t.Fatalf("expected settled, got %v", outcome)
	}

	// Must have waited at least the traffic window plus the idle duration.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("settled too early: %v", elapsed)
	}
}

func TestRun_PerpetualTraffic_TimesOutAtDeadline(t *testing.T) {
	page := newFakePage()
	page.setInFlight(1) // background polling that never stops

	cfg := fastConfig()
	cfg.MaxWait = 100 * time.Millisecond
	cfg.NetworkIdle = 50 * time.Millisecond

	start := time.Now()
	outcome, err := Run(context.Background(), page, cfg)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.Settled() {
		t.Fatal("page with perpetual traffic must not settle")
	}

	if outcome.TimedOutIn != StateAwaitingNetworkIdle {
		t.Errorf("expected timeout in network_idle, got %v", outcome.TimedOutIn)
	}

	if elapsed < 100*time.Millisecond {
		t.Errorf("timed out before the deadline: %v", elapsed)
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("exceeded the overall deadline by too much: %v", elapsed)
	}
}

func TestRun_SelectorFoundAfterDelay(t *testing.T) {
	page := newFakePage()

	cfg := fastConfig()
	cfg.Selector = "#content"

	go func() {
		time.Sleep(30 * time.Millisecond)
		page.addSelector("#content")
	}()

	outcome, err := Run(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !outcome.Settled() {
		t.Errorf("expected settled once selector appeared, got %v", outcome)
	}
}

func TestRun_SelectorNeverFound_TimesOutInSelectorPhase(t *testing.T) {
	page := newFakePage()

	cfg := fastConfig()
	cfg.MaxWait = 80 * time.Millisecond
	cfg.Selector = "#never"

	outcome, err := Run(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.Settled() {
		t.Fatal("missing selector must not settle")
	}

	if outcome.TimedOutIn != StateAwaitingSelector {
		t.Errorf("expected timeout in selector phase, got %v", outcome.TimedOutIn)
	}
}

func TestRun_SlowReadyState_ConsumesSelectorBudget(t *testing.T) {
	// The overall deadline is shared: a page stuck in loading leaves no
	// budget for the later phases.
	page := newFakePage()
	page.setReady("loading")

	cfg := fastConfig()
	cfg.MaxWait = 60 * time.Millisecond
	cfg.Selector = "#content"
	page.addSelector("#content")

	outcome, err := Run(context.Background(), page, cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.Settled() {
		t.Fatal("expected timeout")
	}

	if outcome.TimedOutIn != StateAwaitingReadyState {
		t.Errorf("expected timeout in ready_state, got %v", outcome.TimedOutIn)
	}
}

func TestRun_ExternalCancellation_ReturnsError(t *testing.T) {
	page := newFakePage()
	page.setReady("loading")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	cfg := fastConfig()
	cfg.MaxWait = 5 * time.Second

	_, err := Run(ctx, page, cfg)
	if err == nil {
		t.Fatal("expected error on external cancellation")
	}

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- Outcome formatting ---

func TestOutcome_String(t *testing.T) {
	settled := Outcome{State: StateSettled}
	if settled.String() != "settled" {
		t.Errorf("unexpected string %q", settled.String())
	}

	timedOut := Outcome{State: StateTimedOut, TimedOutIn: StateAwaitingNetworkIdle}
	if timedOut.String() != "timed_out_network_idle" {
		t.Errorf("unexpected string %q", timedOut.String())
	}
}

func TestReadySatisfied_Levels(t *testing.T) {
	cases := []struct {
		target  ReadyState
		current string
		want    bool
	}{
		{ReadyInteractive, "interactive", true},
		{ReadyInteractive, "complete", true},
		{ReadyInteractive, "loading", false},
		{ReadyComplete, "complete", true},
		{ReadyComplete, "interactive", false},
		{ReadyComplete, "Complete", true},
		{ReadyNone, "loading", true},
	}

	for _, tc := range cases {
		if got := readySatisfied(tc.target, tc.current); got != tc.want {
			t.Errorf("readySatisfied(%q, %q) = %v, want %v", tc.target, tc.current, got, tc.want)
		}
	}
}
