package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mischamarty/ankabot/internal/logger"
)

// HTTPConfig holds configuration for the plain HTTP fetcher.
type HTTPConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodySize  int
	IgnoreRobots bool
}

// DefaultHTTPConfig returns sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		UserAgent:   defaultUserAgent,
		Timeout:     30 * time.Second,
		MaxBodySize: 10 * 1024 * 1024,
	}
}

// Chrome user agent for better compatibility
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// HTTPResponse is the outcome of a successful plain HTTP attempt.
type HTTPResponse struct {
	StatusCode  int
	FinalURL    string
	ContentType string
	Body        []byte
}

// HTTPFetcher retrieves pages with Colly, without executing any scripts.
type HTTPFetcher struct {
	config HTTPConfig
}

// NewHTTPFetcher creates a plain HTTP fetcher.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultHTTPConfig().UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHTTPConfig().Timeout
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultHTTPConfig().MaxBodySize
	}
	return &HTTPFetcher{config: cfg}
}

// Fetch retrieves the URL over plain HTTP. Redirects are followed and the
// post-redirect URL is reported. robots.txt is honored unless the fetcher
// was configured to ignore it.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) (*HTTPResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("http fetch starting", "url", targetURL)

	result := &HTTPResponse{FinalURL: targetURL}

	// Create a new collector for each request
	c := colly.NewCollector(
		colly.UserAgent(f.config.UserAgent),
		colly.MaxBodySize(f.config.MaxBodySize),
	)
	c.IgnoreRobotsTxt = f.config.IgnoreRobots
	// A 404 page is still a usable result; only transport failures count
	// as errors.
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(f.config.Timeout)

	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.ContentType = r.Headers.Get("Content-Type")
		result.Body = r.Body
		// Request.URL reflects the post-redirect location.
		result.FinalURL = r.Request.URL.String()
		logger.Debug("http fetch response received",
			"status", r.StatusCode,
			"content_type", result.ContentType,
			"body_size", len(r.Body))
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch error: %w", err)
		logger.Debug("http fetch error", "status", result.StatusCode, "error", err)
	})

	// Colly has no context plumbing; run the visit in a goroutine so a
	// cancelled context interrupts the wait. The abandoned request still
	// runs out its own timeout in the background.
	visitDone := make(chan error, 1)
	go func() {
		visitDone <- c.Visit(targetURL)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-visitDone:
		if err != nil {
			if errors.Is(err, colly.ErrRobotsTxtBlocked) {
				return nil, fmt.Errorf("%s disallowed by robots.txt: %w", targetURL, err)
			}
			return nil, fmt.Errorf("failed to visit URL: %w", err)
		}
	}

	if fetchErr != nil {
		return nil, fetchErr
	}

	logger.Debug("http fetch complete", "url", result.FinalURL, "status", result.StatusCode)
	return result, nil
}
