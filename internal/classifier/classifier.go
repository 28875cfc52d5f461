// Package classifier decides whether an HTTP-only response is usable as-is
// or whether the page needs a headless browser to render.
//
// Decisions are made entirely from the already-fetched response: the
// classifier never touches the network and the same input always yields the
// same verdict.
package classifier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Decision is the top-level classification outcome.
type Decision int

const (
	// UseHTTPResult means the HTTP response is renderable as-is.
	UseHTTPResult Decision = iota

	// RequiresBrowser means the page needs JavaScript execution.
	RequiresBrowser
)

// Reason explains why a browser is required.
type Reason string

const (
	// ReasonEmptyBody: the body is below the minimum content threshold.
	ReasonEmptyBody Reason = "empty_body"

	// ReasonScriptShell: the body is HTML-shaped but nearly all markup,
	// with script-framework markers and almost no visible text.
	ReasonScriptShell Reason = "non_html_shell_with_script_markers"

	// ReasonExplicitForce: browser rendering was forced by the caller.
	ReasonExplicitForce Reason = "explicit_force"
)

// Verdict is the classification result.
type Verdict struct {
	Decision Decision
	Reason   Reason // set only when Decision is RequiresBrowser
}

// String returns a short wire-friendly form of the verdict.
func (v Verdict) String() string {
	if v.Decision == UseHTTPResult {
		return "use_http_result"
	}
	return "requires_browser:" + string(v.Reason)
}

// Response is the subset of an HTTP response the classifier inspects.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Thresholds holds the classification policy constants.
//
// The exact values are policy, not protocol: tune them per deployment via
// configuration rather than editing the defaults.
type Thresholds struct {
	// MinContentBytes is the minimum trimmed body length below which the
	// response is treated as an empty shell.
	MinContentBytes int

	// MinTextRatio is the minimum visible-text-to-markup ratio. Bodies
	// below it that also contain script markers require a browser.
	MinTextRatio float64

	// Markers are lowercase substrings that indicate a script-framework
	// shell (root-mount divs, bundler signatures).
	Markers []string
}

// DefaultThresholds returns the default classification policy:
// 256 minimum content bytes and a 5% visible-text ratio.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinContentBytes: 256,
		MinTextRatio:    0.05,
		Markers:         defaultMarkers(),
	}
}

// defaultMarkers lists SPA framework mount points and bundler signatures.
func defaultMarkers() []string {
	return []string{
		`<div id="root"></div>`,   // React
		`<div id="app"></div>`,    // Vue
		`<app-root></app-root>`,   // Angular
		`<div id="__next"></div>`, // Next.js
		`<div id="__nuxt"></div>`, // Nuxt.js
		`<div data-reactroot`,     // React
		`ng-app`,                  // Angular
		`v-cloak`,                 // Vue
		`window.__nuxt__`,         // Nuxt payload
		`self.__next_f`,           // Next.js flight payload
		`webpackjsonp`,            // webpack bundle
	}
}

// Decide classifies an HTTP-only response.
//
// forceBrowser wins over forceHTTP; both win over content inspection.
func Decide(resp Response, forceHTTP, forceBrowser bool, th Thresholds) Verdict {
	if forceBrowser {
		return Verdict{Decision: RequiresBrowser, Reason: ReasonExplicitForce}
	}
	if forceHTTP {
		return Verdict{Decision: UseHTTPResult}
	}

	body := strings.TrimSpace(string(resp.Body))
	if len(body) < th.MinContentBytes {
		return Verdict{Decision: RequiresBrowser, Reason: ReasonEmptyBody}
	}

	if !looksLikeHTML(resp.ContentType, body) {
		// Non-HTML payloads (JSON, images, feeds) render fine without JS.
		return Verdict{Decision: UseHTTPResult}
	}

	lower := strings.ToLower(body)
	if textRatio(body) < th.MinTextRatio && hasMarker(lower, th.Markers) {
		return Verdict{Decision: RequiresBrowser, Reason: ReasonScriptShell}
	}

	return Verdict{Decision: UseHTTPResult}
}

// looksLikeHTML reports whether the response is HTML-shaped.
func looksLikeHTML(contentType, body string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}
	if ct != "" {
		return false
	}

	head := strings.ToLower(body)
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// textRatio computes visible text length over total markup length.
func textRatio(body string) float64 {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		// Unparseable HTML carries no visible text we can trust.
		return 0
	}

	// Strip elements whose text is never rendered.
	doc.Find("script, style, noscript, iframe, svg").Remove()

	text := strings.Join(strings.Fields(doc.Text()), " ")
	if len(body) == 0 {
		return 0
	}
	return float64(len(text)) / float64(len(body))
}

// hasMarker reports whether any marker pattern occurs in the lowercased body.
func hasMarker(lowerBody string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lowerBody, m) {
			return true
		}
	}
	return false
}
