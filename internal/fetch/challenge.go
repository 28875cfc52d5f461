package fetch

import (
	"strings"

	"github.com/mischamarty/ankabot/internal/logger"
)

// Challenge describes an anti-bot interstitial found in page content.
type Challenge struct {
	// Vendor identifies the challenge technology.
	Vendor string

	// JSChallenge is true for interstitials that resolve themselves via
	// script execution, as opposed to CAPTCHAs that need a human.
	JSChallenge bool
}

// noteChallenge records a detected challenge on the result.
func (r *Result) noteChallenge(ch *Challenge) {
	if ch == nil {
		return
	}
	r.WAFDetected = true
	r.AntiBotVendor = ch.Vendor
	r.JSChallengePage = ch.JSChallenge
	logger.Warn("challenge page detected", "vendor", ch.Vendor)
}

// detectChallenge checks whether the page content is a challenge/CAPTCHA
// page rather than the real document. Returns nil when nothing matches.
func detectChallenge(title, html string) *Challenge {
	titleLower := strings.ToLower(title)
	htmlLower := strings.ToLower(html)

	// Cloudflare challenges
	if strings.Contains(titleLower, "just a moment") ||
		strings.Contains(titleLower, "attention required") ||
		strings.Contains(htmlLower, "cf-challenge") ||
		strings.Contains(htmlLower, "cf_chl_opt") {
		return &Challenge{Vendor: "cloudflare", JSChallenge: true}
	}

	// Cloudflare Turnstile
	if strings.Contains(htmlLower, "challenges.cloudflare.com/turnstile") ||
		strings.Contains(htmlLower, "cf-turnstile") {
		return &Challenge{Vendor: "cloudflare-turnstile", JSChallenge: true}
	}

	// hCaptcha
	if strings.Contains(htmlLower, "hcaptcha.com") ||
		strings.Contains(htmlLower, "h-captcha") {
		return &Challenge{Vendor: "hcaptcha"}
	}

	// reCAPTCHA
	if strings.Contains(htmlLower, "google.com/recaptcha") ||
		strings.Contains(htmlLower, "g-recaptcha") {
		return &Challenge{Vendor: "recaptcha"}
	}

	// Generic bot detection pages
	if strings.Contains(titleLower, "access denied") ||
		strings.Contains(titleLower, "blocked") ||
		strings.Contains(titleLower, "bot detection") ||
		strings.Contains(htmlLower, "robot or human") {
		return &Challenge{Vendor: "anti-bot"}
	}

	return nil
}
