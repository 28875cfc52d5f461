package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/mischamarty/ankabot/internal/classifier"
	"github.com/mischamarty/ankabot/internal/logger"
	"github.com/mischamarty/ankabot/internal/profile"
	"github.com/mischamarty/ankabot/internal/waitfor"
)

// HTTPClient performs the plain HTTP attempt.
type HTTPClient interface {
	Fetch(ctx context.Context, targetURL string) (*HTTPResponse, error)
}

// Browser starts rendering sessions. Launch failures are fatal for the
// whole fetch.
type Browser interface {
	NewSession(ctx context.Context, prof *profile.Profile) (Session, error)
}

// Session is one browser tab. It doubles as the wait protocol's page
// handle via ReadyState, InFlight and HasSelector.
type Session interface {
	waitfor.Page

	Navigate(ctx context.Context, targetURL string) error
	StatusCode(ctx context.Context) int
	Title(ctx context.Context) string
	Location(ctx context.Context) string
	HTML(ctx context.Context) (string, error)
	PDF(ctx context.Context) ([]byte, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]profile.Cookie, error)
	Close() error
}

// Orchestrator runs the full pipeline: HTTP attempt, verdict, optional
// browser fallback, capture, profile persistence.
type Orchestrator struct {
	http       HTTPClient
	browser    Browser
	profiles   *profile.Store
	thresholds classifier.Thresholds
	artifacts  ArtifactWriter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient overrides the plain HTTP fetcher.
func WithHTTPClient(c HTTPClient) Option {
	return func(o *Orchestrator) { o.http = c }
}

// WithBrowser sets the browser used for the rendering fallback.
func WithBrowser(b Browser) Option {
	return func(o *Orchestrator) { o.browser = b }
}

// WithProfileStore sets where session profiles are persisted.
func WithProfileStore(s *profile.Store) Option {
	return func(o *Orchestrator) { o.profiles = s }
}

// WithThresholds overrides the classifier thresholds.
func WithThresholds(th classifier.Thresholds) Option {
	return func(o *Orchestrator) { o.thresholds = th }
}

// WithArtifactWriter overrides how captured artifacts reach disk.
func WithArtifactWriter(w ArtifactWriter) Option {
	return func(o *Orchestrator) { o.artifacts = w }
}

// New creates an orchestrator. A Browser must be provided before any fetch
// that falls back to rendering.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		http:       NewHTTPFetcher(DefaultHTTPConfig()),
		profiles:   profile.NewStore(""),
		thresholds: classifier.DefaultThresholds(),
		artifacts:  FileWriter{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one fetch end to end.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &Result{Artifacts: map[OutputKind]Artifact{}}

	verdict, httpResp, err := o.attemptHTTP(ctx, req, result)
	if err != nil {
		return nil, err
	}
	result.Verdict = verdict.String()

	if verdict.Decision == classifier.UseHTTPResult {
		o.finishFromHTTP(req, httpResp, result)
	} else if err := o.renderWithBrowser(ctx, req, result); err != nil {
		return nil, err
	}

	result.Timings.TotalMs = time.Since(start).Milliseconds()
	return result, nil
}

// attemptHTTP runs the plain HTTP stage and classifies its outcome. A
// network failure is itself a fallback signal unless plain HTTP was forced.
func (o *Orchestrator) attemptHTTP(ctx context.Context, req Request, result *Result) (classifier.Verdict, *HTTPResponse, error) {
	if req.ForceBrowser {
		return classifier.Decide(classifier.Response{}, false, true, o.thresholds), nil, nil
	}

	httpStart := time.Now()
	resp, err := o.http.Fetch(ctx, req.URL)
	result.Timings.HTTPMs = time.Since(httpStart).Milliseconds()

	if err != nil {
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return classifier.Verdict{}, nil, fmt.Errorf("%w: %v", ErrHTTPFetch, err)
		}
		if req.ForceHTTP {
			return classifier.Verdict{}, nil, fmt.Errorf("%w: %v", ErrHTTPFetch, err)
		}
		logger.Debug("http attempt failed, falling back to browser", "url", req.URL, "error", err)
		return classifier.Verdict{
			Decision: classifier.RequiresBrowser,
			Reason:   classifier.ReasonEmptyBody,
		}, nil, nil
	}

	verdict := classifier.Decide(classifier.Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        resp.Body,
	}, req.ForceHTTP, false, o.thresholds)

	logger.Debug("classifier verdict",
		"url", req.URL,
		"verdict", verdict.String(),
		"status", resp.StatusCode,
		"body_size", len(resp.Body))

	return verdict, resp, nil
}

// finishFromHTTP fills the result from the plain HTTP response. Renderer
// artifacts cannot be produced on this path and are recorded as failed
// captures; the raw HTML artifact still works.
func (o *Orchestrator) finishFromHTTP(req Request, resp *HTTPResponse, result *Result) {
	result.FinalURL = resp.FinalURL
	result.HTTPStatus = resp.StatusCode
	result.Redirected = redirected(req.URL, resp.FinalURL)
	result.UsedBrowser = false
	result.Title = htmlTitle(resp.Body)
	result.noteChallenge(detectChallenge(result.Title, string(resp.Body)))

	for kind, path := range req.Outputs {
		switch kind {
		case OutputHTML:
			result.Artifacts[kind] = o.saveArtifact(path, resp.Body)
		default:
			result.Artifacts[kind] = Artifact{Error: "page was served without browser rendering"}
		}
	}
}

// renderWithBrowser runs the fallback path: session, navigation, wait
// protocol, independent captures, profile persistence.
func (o *Orchestrator) renderWithBrowser(ctx context.Context, req Request, result *Result) error {
	if o.browser == nil {
		return fmt.Errorf("%w: no browser configured", ErrBrowserLaunch)
	}

	if req.DefaultPDFPath != "" {
		if _, ok := req.Outputs[OutputPDF]; !ok {
			outputs := map[OutputKind]string{OutputPDF: req.DefaultPDFPath}
			for kind, path := range req.Outputs {
				outputs[kind] = path
			}
			req.Outputs = outputs
		}
	}

	prof, err := o.loadProfile(req)
	if err != nil {
		return err
	}

	sess, err := o.browser.NewSession(ctx, prof)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserLaunch, err)
	}
	defer sess.Close()

	navStart := time.Now()
	if err := sess.Navigate(ctx, req.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	result.Timings.NavigateMs = time.Since(navStart).Milliseconds()

	outcome, err := waitfor.Run(ctx, sess, req.Wait)
	if err != nil {
		return err
	}
	result.Timings.WaitMs = outcome.Elapsed.Milliseconds()
	result.WaitOutcome = outcome.String()
	if !outcome.Settled() {
		logger.Debug("wait deadline reached, capturing current state",
			"url", req.URL,
			"outcome", outcome.String())
	}

	result.UsedBrowser = true
	result.FinalURL = sess.Location(ctx)
	if result.FinalURL == "" {
		result.FinalURL = req.URL
	}
	result.HTTPStatus = sess.StatusCode(ctx)
	result.Redirected = redirected(req.URL, result.FinalURL)
	result.Title = sess.Title(ctx)

	// Check the rendered document for a WAF interstitial. A challenge page
	// is reported, not treated as a failure.
	if html, err := sess.HTML(ctx); err == nil {
		result.noteChallenge(detectChallenge(result.Title, html))
	}

	captureStart := time.Now()
	o.capture(ctx, sess, req, result)
	result.Timings.CaptureMs = time.Since(captureStart).Milliseconds()

	o.persistProfile(ctx, sess, prof, req)
	return nil
}

// capture produces each requested artifact independently. One failed
// capture never aborts the others or the fetch.
func (o *Orchestrator) capture(ctx context.Context, sess Session, req Request, result *Result) {
	for kind, path := range req.Outputs {
		var (
			data []byte
			err  error
		)
		switch kind {
		case OutputPDF:
			data, err = sess.PDF(ctx)
		case OutputScreenshot:
			data, err = sess.Screenshot(ctx)
		case OutputHTML:
			var html string
			html, err = sess.HTML(ctx)
			data = []byte(html)
		default:
			err = fmt.Errorf("unknown output kind %q", kind)
		}
		if err != nil {
			logger.Warn("artifact capture failed", "kind", string(kind), "error", err)
			result.Artifacts[kind] = Artifact{Error: err.Error()}
			continue
		}
		result.Artifacts[kind] = o.saveArtifact(path, data)
	}
}

// saveArtifact writes one artifact to disk, recording failure in the
// artifact itself rather than failing the fetch.
func (o *Orchestrator) saveArtifact(path string, data []byte) Artifact {
	if err := o.artifacts.Save(path, data); err != nil {
		logger.Warn("artifact write failed", "path", path, "error", err)
		return Artifact{Error: err.Error()}
	}
	return Artifact{Path: path, Bytes: len(data)}
}

// loadProfile loads the session profile and applies per-run overrides and
// any imported cookies.
func (o *Orchestrator) loadProfile(req Request) (*profile.Profile, error) {
	prof, err := o.profiles.Load(req.ProfileName())
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", req.ProfileName(), err)
	}

	if req.Locale != "" {
		prof.Locale = req.Locale
	}
	if req.Timezone != "" {
		prof.Timezone = req.Timezone
	}
	if req.Geo != nil {
		prof.Geo = req.Geo
	}

	if req.ImportCookies != "" {
		n, err := prof.ImportCookies(req.ImportCookies)
		if err != nil {
			return nil, fmt.Errorf("import cookies: %w", err)
		}
		logger.Debug("cookies imported", "file", req.ImportCookies, "count", n)
	}

	return prof, nil
}

// persistProfile merges the browser's cookie jar back into the profile and
// saves it, exporting the jar when requested. Persistence failures are
// logged, not fatal.
func (o *Orchestrator) persistProfile(ctx context.Context, sess Session, prof *profile.Profile, req Request) {
	cookies, err := sess.Cookies(ctx)
	if err != nil {
		logger.Warn("cookie readback failed", "error", err)
	} else {
		prof.MergeCookies(cookies)
	}

	if err := o.profiles.Save(prof); err != nil {
		logger.Warn("profile save failed", "profile", prof.Name, "error", err)
	}

	if req.ExportCookies != "" {
		if err := prof.ExportCookies(req.ExportCookies); err != nil {
			logger.Warn("cookie export failed", "file", req.ExportCookies, "error", err)
		}
	}
}

// redirected reports whether final points somewhere other than requested.
// Client-side normalization (trailing slash, default port, host casing) is
// not a redirect.
func redirected(requested, final string) bool {
	if final == "" || final == requested {
		return false
	}
	a, errA := url.Parse(requested)
	b, errB := url.Parse(final)
	if errA != nil || errB != nil {
		return true
	}
	return canonicalURL(a) != canonicalURL(b)
}

// canonicalURL renders a URL with its default port stripped, host
// lowercased and an empty path treated as "/".
func canonicalURL(u *url.URL) string {
	host := strings.ToLower(u.Host)
	switch u.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	out := u.Scheme + "://" + host + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// htmlTitle extracts the document title from raw markup, best-effort.
func htmlTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
