package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/mischamarty/ankabot/internal/profile"
)

// screenshotQuality is the JPEG-style quality hint for full-page captures.
const screenshotQuality = 90

// PDF renders the current page to a PDF document.
func (s *Session) PDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("render PDF: %w", err)
	}
	return buf, nil
}

// Screenshot captures the full page as an image.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Cookies returns the browser's current cookie jar converted to profile
// cookies, so the orchestrator can merge them back into the session profile.
func (s *Session) Cookies(ctx context.Context) ([]profile.Cookie, error) {
	var out []profile.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = make([]profile.Cookie, 0, len(cookies))
		for _, c := range cookies {
			pc := profile.Cookie{
				Domain:   c.Domain,
				Path:     c.Path,
				Name:     c.Name,
				Value:    c.Value,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			// Expires <= 0 marks a session cookie; those carry no expiry.
			if c.Expires > 0 {
				sec := int64(c.Expires)
				nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
				pc.Expires = time.Unix(sec, nsec).UTC()
			}
			out = append(out, pc)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read browser cookies: %w", err)
	}
	return out, nil
}
