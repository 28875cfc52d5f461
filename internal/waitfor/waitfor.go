// Package waitfor implements the page-settle wait protocol.
//
// The protocol is an explicit state machine run against a live browser page:
//
//	Start → AwaitingReadyState → AwaitingNetworkIdle → AwaitingSelector → Settled | TimedOut
//
// Each phase gates the next and every wait is a context-driven poll loop, so
// the protocol is cancellable at any suspension point. The overall deadline
// is authoritative: it is checked before entering each phase, and a page
// that never settles terminates at the deadline with TimedOut rather than
// hanging. TimedOut is not a fetch failure; callers capture best-effort
// page state and record which phase ran out of budget.
package waitfor

import (
	"context"
	"strings"
	"time"
)

// ReadyState is the document-ready level the protocol waits for.
type ReadyState string

const (
	// ReadyNone skips the ready-state phase entirely.
	ReadyNone ReadyState = "none"

	// ReadyInteractive is satisfied by "interactive" or "complete".
	ReadyInteractive ReadyState = "interactive"

	// ReadyComplete requires the document to reach "complete".
	ReadyComplete ReadyState = "complete"
)

// Config controls the wait protocol.
type Config struct {
	// MaxWait is the overall deadline across all phases.
	MaxWait time.Duration

	// ReadyState is the document-ready target.
	ReadyState ReadyState

	// NetworkIdle is how long the in-flight request count must stay at
	// zero before the network is considered settled. Any new request
	// restarts the idle clock.
	NetworkIdle time.Duration

	// Selector, when non-empty, is a CSS selector whose presence in the
	// DOM gates the final phase.
	Selector string

	// PollInterval is the poll cadence for all phases.
	PollInterval time.Duration
}

// DefaultConfig returns the default wait protocol settings.
func DefaultConfig() Config {
	return Config{
		MaxWait:      12 * time.Second,
		ReadyState:   ReadyComplete,
		NetworkIdle:  time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Normalized fills zero values with defaults and enforces the invariant
// that NetworkIdle never exceeds MaxWait.
func (c Config) Normalized() Config {
	def := DefaultConfig()
	if c.MaxWait <= 0 {
		c.MaxWait = def.MaxWait
	}
	if c.ReadyState == "" {
		c.ReadyState = def.ReadyState
	}
	if c.NetworkIdle < 0 {
		c.NetworkIdle = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.NetworkIdle > c.MaxWait {
		c.NetworkIdle = c.MaxWait
	}
	return c
}

// State is a wait protocol state.
type State int

const (
	StateStart State = iota
	StateAwaitingReadyState
	StateAwaitingNetworkIdle
	StateAwaitingSelector
	StateSettled
	StateTimedOut
)

// String returns the snake_case state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingReadyState:
		return "ready_state"
	case StateAwaitingNetworkIdle:
		return "network_idle"
	case StateAwaitingSelector:
		return "selector"
	case StateSettled:
		return "settled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Page is the surface the protocol needs from a live browser page.
// Implementations poll/subscribe on the real page; tests use fakes.
type Page interface {
	// ReadyState returns the current document.readyState value.
	ReadyState(ctx context.Context) (string, error)

	// InFlight returns the number of network requests currently in flight.
	InFlight() int

	// HasSelector reports whether the selector matches an element in the
	// current DOM.
	HasSelector(ctx context.Context, selector string) (bool, error)
}

// Outcome is the terminal result of a protocol run.
type Outcome struct {
	// State is StateSettled or StateTimedOut.
	State State

	// TimedOutIn is the phase whose budget elapsed; valid when State is
	// StateTimedOut.
	TimedOutIn State

	// Elapsed is the total wall-clock time spent in the protocol.
	Elapsed time.Duration
}

// Settled reports whether all configured sub-waits were satisfied.
func (o Outcome) Settled() bool {
	return o.State == StateSettled
}

// String returns "settled" or "timed_out_<phase>".
func (o Outcome) String() string {
	if o.State == StateSettled {
		return "settled"
	}
	return "timed_out_" + o.TimedOutIn.String()
}

// Run executes the wait protocol against page.
//
// The returned error is non-nil only when ctx was cancelled externally;
// the protocol's own deadline produces a TimedOut outcome, not an error.
func Run(ctx context.Context, page Page, cfg Config) (Outcome, error) {
	cfg = cfg.Normalized()
	start := time.Now()
	deadline := start.Add(cfg.MaxWait)

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	phases := []struct {
		state State
		wait  func(context.Context) error
	}{
		{StateAwaitingReadyState, func(c context.Context) error {
			return waitReadyState(c, page, cfg)
		}},
		{StateAwaitingNetworkIdle, func(c context.Context) error {
			return waitNetworkIdle(c, page, cfg)
		}},
		{StateAwaitingSelector, func(c context.Context) error {
			return waitSelector(c, page, cfg)
		}},
	}

	for _, phase := range phases {
		// A slow earlier phase reduces the budget left for this one.
		if time.Now().After(deadline) {
			return timedOut(phase.state, start), externalErr(ctx)
		}

		if err := phase.wait(runCtx); err != nil {
			if ctx.Err() != nil {
				return timedOut(phase.state, start), ctx.Err()
			}
			return timedOut(phase.state, start), nil
		}
	}

	return Outcome{State: StateSettled, Elapsed: time.Since(start)}, nil
}

func timedOut(in State, start time.Time) Outcome {
	return Outcome{State: StateTimedOut, TimedOutIn: in, Elapsed: time.Since(start)}
}

// externalErr surfaces a cancellation that arrived from outside the
// protocol; the protocol's own deadline is not an error.
func externalErr(ctx context.Context) error {
	return ctx.Err()
}

// waitReadyState blocks until the document-ready signal reaches the
// configured level. Completes immediately for ReadyNone.
func waitReadyState(ctx context.Context, page Page, cfg Config) error {
	if cfg.ReadyState == ReadyNone {
		return nil
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		state, err := page.ReadyState(ctx)
		if err == nil && readySatisfied(cfg.ReadyState, state) {
			return nil
		}
		// Evaluation errors are transient during navigation; keep polling
		// until the deadline decides.

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// readySatisfied reports whether current meets or exceeds the target level.
func readySatisfied(target ReadyState, current string) bool {
	current = strings.ToLower(strings.TrimSpace(current))
	switch target {
	case ReadyInteractive:
		return current == "interactive" || current == "complete"
	case ReadyComplete:
		return current == "complete"
	default:
		return true
	}
}

// waitNetworkIdle blocks until the in-flight request count has been zero
// continuously for cfg.NetworkIdle. Any new request restarts the clock.
func waitNetworkIdle(ctx context.Context, page Page, cfg Config) error {
	var idleSince time.Time
	if page.InFlight() == 0 {
		idleSince = time.Now()
		if cfg.NetworkIdle == 0 {
			return nil
		}
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now()
		if page.InFlight() > 0 {
			idleSince = time.Time{}
			continue
		}
		if idleSince.IsZero() {
			idleSince = now
		}
		if now.Sub(idleSince) >= cfg.NetworkIdle {
			return nil
		}
	}
}

// waitSelector polls for the selector's presence. Skipped when no selector
// is configured.
func waitSelector(ctx context.Context, page Page, cfg Config) error {
	if cfg.Selector == "" {
		return nil
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		found, err := page.HasSelector(ctx, cfg.Selector)
		if err == nil && found {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
