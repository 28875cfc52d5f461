// Package browser drives a headless Chrome instance over CDP. It owns the
// process lifecycle (exec allocator), per-fetch sessions, session profile
// application, and artifact capture.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/mischamarty/ankabot/internal/logger"
	"github.com/mischamarty/ankabot/internal/profile"
)

// Config holds browser launch configuration.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent: defaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// Chrome user agent for better compatibility
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Launcher owns the browser allocator shared by sessions.
type Launcher struct {
	config    Config
	allocCtx  context.Context
	cancelCtx context.CancelFunc
}

// NewLauncher creates a launcher with a configured browser allocator. The
// browser process itself starts lazily on the first session.
func NewLauncher(cfg Config) *Launcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	logger.Debug("browser launcher created",
		"user_agent", cfg.UserAgent,
		"timeout", cfg.Timeout)

	return &Launcher{
		config:    cfg,
		allocCtx:  allocCtx,
		cancelCtx: cancelAlloc,
	}
}

// NewSession starts a browser tab with network tracking enabled and the
// profile's emulation settings and live cookies applied. The returned
// session must be closed by the caller.
func (l *Launcher) NewSession(ctx context.Context, prof *profile.Profile) (*Session, error) {
	browserCtx, cancelBrowser := chromedp.NewContext(l.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	s := &Session{
		ctx:      browserCtx,
		cancel:   cancelBrowser,
		inFlight: make(map[network.RequestID]struct{}),
	}

	// Listeners must be registered before any navigation: the in-flight
	// counter misses requests otherwise and the idle wait returns a false
	// idle.
	chromedp.ListenTarget(browserCtx, s.handleEvent)

	// Propagate external cancellation into the tab.
	stop := context.AfterFunc(ctx, cancelBrowser)
	defer stop()

	actions := []chromedp.Action{network.Enable()}
	actions = append(actions, profileActions(prof, time.Now())...)

	// The first Run starts the browser process; failure here is a launch
	// failure, not a page error.
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		cancelBrowser()
		return nil, fmt.Errorf("start browser session: %w", err)
	}

	logger.Debug("browser session started",
		"profile", prof.Name,
		"cookies", len(prof.Cookies))

	return s, nil
}

// Close shuts down the allocator and any remaining browser processes.
func (l *Launcher) Close() error {
	if l.cancelCtx != nil {
		l.cancelCtx()
	}
	return nil
}

// Session is a single browser tab bound to one fetch.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[network.RequestID]struct{}
	status   int
	mainDoc  bool
}

// handleEvent maintains the in-flight request set and captures the main
// document's status code from the CDP event stream.
func (s *Session) handleEvent(event interface{}) {
	switch ev := event.(type) {
	case *network.EventRequestWillBeSent:
		s.mu.Lock()
		s.inFlight[ev.RequestID] = struct{}{}
		s.mu.Unlock()

	case *network.EventResponseReceived:
		if ev.Type == network.ResourceTypeDocument {
			s.mu.Lock()
			if !s.mainDoc {
				s.mainDoc = true
				s.status = int(ev.Response.Status)
			}
			s.mu.Unlock()
		}

	case *network.EventLoadingFinished:
		s.mu.Lock()
		delete(s.inFlight, ev.RequestID)
		s.mu.Unlock()

	case *network.EventLoadingFailed:
		s.mu.Lock()
		delete(s.inFlight, ev.RequestID)
		s.mu.Unlock()
	}
}

// Navigate loads the target URL. Waiting for the page to settle is the
// caller's concern.
func (s *Session) Navigate(ctx context.Context, targetURL string) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	if err := chromedp.Run(s.ctx, chromedp.Navigate(targetURL)); err != nil {
		return fmt.Errorf("navigate to %s: %w", targetURL, err)
	}
	return nil
}

// InFlight returns the number of network requests currently in flight.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// ReadyState returns the current document.readyState value.
func (s *Session) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := s.run(ctx, chromedp.Evaluate("document.readyState", &state, chromedp.EvalAsValue))
	return state, err
}

// HasSelector reports whether the selector currently matches an element.
func (s *Session) HasSelector(ctx context.Context, selector string) (bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}

	var found bool
	expr := fmt.Sprintf("document.querySelector(%s) !== null", sel)
	if err := s.run(ctx, chromedp.Evaluate(expr, &found, chromedp.EvalAsValue)); err != nil {
		return false, err
	}
	return found, nil
}

// StatusCode returns the main document's HTTP status. When the CDP event
// stream missed it, the Performance API is consulted as a fallback.
func (s *Session) StatusCode(ctx context.Context) int {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	if status != 0 {
		return status
	}

	var fallback int
	err := s.run(ctx, chromedp.Evaluate(`(() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	})()`, &fallback, chromedp.EvalAsValue))
	if err != nil {
		return 0
	}
	return fallback
}

// Title returns the page title, best-effort.
func (s *Session) Title(ctx context.Context) string {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return ""
	}
	return title
}

// Location returns the page's current URL, best-effort.
func (s *Session) Location(ctx context.Context) string {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return ""
	}
	return loc
}

// HTML returns the rendered document markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("extract page HTML: %w", err)
	}
	return html, nil
}

// Close releases the tab.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// run executes actions on the session, honoring the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	return chromedp.Run(s.ctx, actions...)
}
