package browser

import (
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/mischamarty/ankabot/internal/profile"
)

// geoAccuracyMeters is reported to pages querying the Geolocation API.
const geoAccuracyMeters = 10

// profileActions builds the CDP actions that apply a session profile to a
// fresh tab: locale, timezone, geolocation overrides and the profile's live
// cookies. Expired cookies are never applied.
func profileActions(prof *profile.Profile, now time.Time) []chromedp.Action {
	var actions []chromedp.Action

	if prof.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(prof.Locale))
	}
	if prof.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(prof.Timezone))
	}
	if prof.Geo != nil {
		actions = append(actions, emulation.SetGeolocationOverride().
			WithLatitude(prof.Geo.Latitude).
			WithLongitude(prof.Geo.Longitude).
			WithAccuracy(geoAccuracyMeters))
	}

	if params := cookieParams(prof.LiveCookies(now)); len(params) > 0 {
		actions = append(actions, network.SetCookies(params))
	}

	return actions
}

// cookieParams converts unexpired profile cookies into CDP cookie parameters.
func cookieParams(live []profile.Cookie) []*network.CookieParam {
	if len(live) == 0 {
		return nil
	}

	params := make([]*network.CookieParam, 0, len(live))
	for _, c := range live {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Expires.IsZero() {
			expires := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}
