// Package fetch implements the two-stage retrieval pipeline: a plain HTTP
// attempt, a classifier verdict, and an optional headless-browser fallback
// with artifact capture.
package fetch

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mischamarty/ankabot/internal/profile"
	"github.com/mischamarty/ankabot/internal/waitfor"
)

// Sentinel errors for the fatal failure classes. Everything else is
// recorded in the result and exits cleanly.
var (
	ErrInvalidURL    = errors.New("invalid URL")
	ErrHTTPFetch     = errors.New("HTTP fetch failed")
	ErrBrowserLaunch = errors.New("browser launch failed")
	ErrNavigation    = errors.New("navigation failed")
	ErrArtifactWrite = errors.New("artifact write failed")
)

// OutputKind identifies an artifact a fetch can produce.
type OutputKind string

const (
	OutputPDF        OutputKind = "pdf"
	OutputScreenshot OutputKind = "screenshot"
	OutputHTML       OutputKind = "html"
)

// Request describes a single fetch.
type Request struct {
	URL string `validate:"required,url"`

	// Profile names the session profile to load and persist. Empty means
	// the default profile.
	Profile string

	// Per-run profile overrides. Set fields are applied to the loaded
	// profile before the browser session starts.
	Locale   string
	Timezone string
	Geo      *profile.Geo

	ImportCookies string
	ExportCookies string

	Wait waitfor.Config

	ForceHTTP    bool
	ForceBrowser bool

	// Outputs maps each requested artifact kind to its destination path.
	Outputs map[OutputKind]string

	// DefaultPDFPath adds a PDF capture on the rendering path when no PDF
	// output was requested explicitly. It has no effect on the plain HTTP
	// path.
	DefaultPDFPath string

	UserAgent    string
	Timeout      time.Duration
	MaxBodySize  int
	IgnoreRobots bool
}

var validate = validator.New()

// Validate checks the request for structural problems before any network
// activity happens.
func (r *Request) Validate() error {
	if r.ForceHTTP && r.ForceBrowser {
		return errors.New("force-http and force-browser are mutually exclusive")
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidURL, r.URL)
	}
	return nil
}

// ProfileName returns the effective profile name.
func (r *Request) ProfileName() string {
	if r.Profile == "" {
		return "default"
	}
	return r.Profile
}

// Artifact records the outcome of one capture. A failed capture carries an
// error message instead of a path; it never fails the fetch.
type Artifact struct {
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	Bytes int    `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Timings breaks down where the fetch spent its time.
type Timings struct {
	HTTPMs     int64 `json:"httpMs,omitempty" yaml:"httpMs,omitempty"`
	NavigateMs int64 `json:"navigateMs,omitempty" yaml:"navigateMs,omitempty"`
	WaitMs     int64 `json:"waitMs,omitempty" yaml:"waitMs,omitempty"`
	CaptureMs  int64 `json:"captureMs,omitempty" yaml:"captureMs,omitempty"`
	TotalMs    int64 `json:"totalMs" yaml:"totalMs"`
}

// Result is the machine-readable fetch summary.
type Result struct {
	FinalURL    string                  `json:"finalUrl" yaml:"finalUrl"`
	HTTPStatus  int                     `json:"httpStatus" yaml:"httpStatus"`
	Title       string                  `json:"title,omitempty" yaml:"title,omitempty"`
	Redirected  bool                    `json:"redirected" yaml:"redirected"`
	UsedBrowser bool                    `json:"usedBrowser" yaml:"usedBrowser"`

	// Anti-bot surface: set when the page content is a WAF interstitial
	// or CAPTCHA rather than the real document.
	WAFDetected     bool   `json:"wafDetected" yaml:"wafDetected"`
	AntiBotVendor   string `json:"antiBotVendor,omitempty" yaml:"antiBotVendor,omitempty"`
	JSChallengePage bool   `json:"jsChallengePage" yaml:"jsChallengePage"`

	Verdict     string                  `json:"verdict" yaml:"verdict"`
	WaitOutcome string                  `json:"waitOutcome,omitempty" yaml:"waitOutcome,omitempty"`
	Artifacts   map[OutputKind]Artifact `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Timings     Timings                 `json:"timings" yaml:"timings"`
}
