package fetch

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDetectChallenge(t *testing.T) {
	cases := []struct {
		name        string
		title       string
		html        string
		vendor      string
		jsChallenge bool
	}{
		{"cloudflare title", "Just a moment...", "<html></html>", "cloudflare", true},
		{"cloudflare block page", "Attention Required! | Cloudflare", "<html></html>", "cloudflare", true},
		{"cloudflare markup", "", `<script>window._cf_chl_opt={}</script>`, "cloudflare", true},
		{"turnstile", "", `<div class="cf-turnstile" data-sitekey="x"></div>`, "cloudflare-turnstile", true},
		{"hcaptcha", "", `<script src="https://js.hcaptcha.com/1/api.js"></script>`, "hcaptcha", false},
		{"recaptcha", "", `<div class="g-recaptcha"></div>`, "recaptcha", false},
		{"generic denial", "Access Denied", "<html></html>", "anti-bot", false},
		{"plain page", "Daily Fox Report", "<html><body>news</body></html>", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := detectChallenge(tc.title, tc.html)
			if tc.vendor == "" {
				if ch != nil {
					t.Fatalf("expected no challenge, got %+v", ch)
				}
				return
			}
			if ch == nil {
				t.Fatal("expected a challenge")
			}
			if ch.Vendor != tc.vendor {
				t.Errorf("expected vendor %q, got %q", tc.vendor, ch.Vendor)
			}
			if ch.JSChallenge != tc.jsChallenge {
				t.Errorf("expected jsChallenge=%v, got %v", tc.jsChallenge, ch.JSChallenge)
			}
		})
	}
}

// cloudflareBlockBody builds the content-heavy variant of a Cloudflare
// denial page, the kind a plain HTTP attempt receives with a 403.
func cloudflareBlockBody() []byte {
	filler := strings.Repeat("The owner of this website has banned your access based on your browser's signature. ", 10)
	return []byte(`<html><head><title>Attention Required! | Cloudflare</title></head>` +
		`<body><h1>Sorry, you have been blocked</h1><p>` + filler + `</p></body></html>`)
}

func TestRunFlagsChallengeOnHTTPPath(t *testing.T) {
	http := &fakeHTTP{resp: &HTTPResponse{
		StatusCode:  403,
		ContentType: "text/html",
		FinalURL:    "https://example.com/",
		Body:        cloudflareBlockBody(),
	}}
	o := newTestOrchestrator(t, http, &fakeBrowser{session: &fakeSession{}}, newMemWriter())

	result, err := o.Run(context.Background(), Request{URL: "https://example.com/", Wait: fastWait()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UsedBrowser {
		t.Fatal("expected the block page to stay on the HTTP path")
	}
	if !result.WAFDetected {
		t.Error("expected wafDetected")
	}
	if result.AntiBotVendor != "cloudflare" {
		t.Errorf("unexpected vendor %q", result.AntiBotVendor)
	}
	if !result.JSChallengePage {
		t.Error("expected jsChallengePage for a Cloudflare interstitial")
	}
}

func TestRunFlagsChallengeOnBrowserPath(t *testing.T) {
	session := &fakeSession{
		location: "https://example.com/",
		status:   403,
		title:    "One more step",
		html:     `<html><body><div class="cf-turnstile" data-sitekey="x"></div></body></html>`,
	}
	o := newTestOrchestrator(t, &fakeHTTP{err: errors.New("down")}, &fakeBrowser{session: session}, newMemWriter())

	result, err := o.Run(context.Background(), Request{URL: "https://example.com/", Wait: fastWait()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.WAFDetected {
		t.Error("expected wafDetected from the rendered document")
	}
	if result.AntiBotVendor != "cloudflare-turnstile" {
		t.Errorf("unexpected vendor %q", result.AntiBotVendor)
	}
	if !result.JSChallengePage {
		t.Error("expected jsChallengePage")
	}
}

func TestRunNoChallengeOnOrdinaryPage(t *testing.T) {
	http := &fakeHTTP{resp: &HTTPResponse{
		StatusCode:  200,
		ContentType: "text/html",
		FinalURL:    "https://example.com/",
		Body:        articleBody(),
	}}
	o := newTestOrchestrator(t, http, &fakeBrowser{session: &fakeSession{}}, newMemWriter())

	result, err := o.Run(context.Background(), Request{URL: "https://example.com/", Wait: fastWait()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.WAFDetected || result.AntiBotVendor != "" || result.JSChallengePage {
		t.Errorf("expected a clean anti-bot surface, got %+v", result)
	}
}
