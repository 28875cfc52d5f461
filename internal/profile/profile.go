// Package profile manages named session profiles: locale/timezone/geolocation
// emulation settings and a cookie jar, persisted across invocations so
// session state accumulates per profile name.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Geo is a latitude/longitude pair for geolocation emulation.
type Geo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Cookie is a single cookie record in the jar.
type Cookie struct {
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// CookieKey is the composite identity of a cookie within the jar.
type CookieKey struct {
	Domain string
	Path   string
	Name   string
}

// Key returns the cookie's jar identity.
func (c Cookie) Key() CookieKey {
	return CookieKey{Domain: c.Domain, Path: c.Path, Name: c.Name}
}

// Expired reports whether the cookie's expiry has passed. Cookies without
// an expiry (session cookies) never expire here.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && c.Expires.Before(now)
}

// Profile holds the emulation settings and cookie jar for a named profile.
type Profile struct {
	Name     string   `json:"name"`
	Locale   string   `json:"locale,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
	Geo      *Geo     `json:"geo,omitempty"`
	Cookies  []Cookie `json:"cookies,omitempty"`
}

// New returns a fresh empty profile.
func New(name string) *Profile {
	return &Profile{Name: name}
}

// MergeCookies upserts cookies into the jar keyed by (domain, path, name).
// Existing entries keep their position; new entries append in input order.
// Returns the number of records merged. Merging the same records twice
// yields the same jar as merging them once.
func (p *Profile) MergeCookies(cookies []Cookie) int {
	index := make(map[CookieKey]int, len(p.Cookies))
	for i, c := range p.Cookies {
		index[c.Key()] = i
	}

	for _, c := range cookies {
		if i, ok := index[c.Key()]; ok {
			p.Cookies[i] = c
			continue
		}
		index[c.Key()] = len(p.Cookies)
		p.Cookies = append(p.Cookies, c)
	}

	return len(cookies)
}

// LiveCookies returns the cookies whose expiry has not passed.
func (p *Profile) LiveCookies(now time.Time) []Cookie {
	live := make([]Cookie, 0, len(p.Cookies))
	for _, c := range p.Cookies {
		if !c.Expired(now) {
			live = append(live, c)
		}
	}
	return live
}

// ImportCookies merges cookie records from a JSON file into the jar and
// returns the number of cookies merged.
func (p *Profile) ImportCookies(path string) (int, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- CLI tool reads a user-specified cookie file
	if err != nil {
		return 0, fmt.Errorf("read cookie file: %w", err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return 0, fmt.Errorf("parse cookie file: %w", err)
	}

	return p.MergeCookies(cookies), nil
}

// ExportCookies serializes the current cookie jar to the given destination.
func (p *Profile) ExportCookies(path string) error {
	data, err := json.MarshalIndent(p.Cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}

	return nil
}
