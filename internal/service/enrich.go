package service

import (
	"net/url"
	"strconv"
	"strings"

	ua "github.com/mileusna/useragent"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// worldwideLabel stands in for an unknown country in the stored geo labels.
const worldwideLabel = "Worldwide"

// regionalIndicatorBase converts an uppercase ASCII letter to its regional
// indicator symbol, so "US" becomes the US flag emoji.
const regionalIndicatorBase = 127397

// clientIP picks the caller address from the proxy headers, most trusted
// first. X-Forwarded-For may hold a chain; the first hop is the client.
func clientIP(cr ClickRequest) string {
	if cr.ConnectingIP != "" {
		return cr.ConnectingIP
	}
	if cr.RealIP != "" {
		return cr.RealIP
	}
	if cr.ForwardedFor != "" {
		first, _, _ := strings.Cut(cr.ForwardedFor, ",")
		return strings.TrimSpace(first)
	}
	return ""
}

// refererHost reduces a referer URL to its host. Only the origin site is
// stored, never the full path.
func refererHost(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	return u.Host
}

// primaryLanguage returns the most preferred tag from an Accept-Language
// header.
func primaryLanguage(acceptLanguage string) string {
	if acceptLanguage == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

// countryFlag returns the flag emoji for a two-letter country code, or ""
// when the code is not one.
func countryFlag(code string) string {
	if len(code) != 2 {
		return ""
	}
	code = strings.ToUpper(code)
	runes := make([]rune, 0, 2)
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return ""
		}
		runes = append(runes, c+regionalIndicatorBase)
	}
	return string(runes)
}

// countryName returns the English display name for a country code, or
// worldwideLabel when the code is missing or unknown.
func countryName(code string) string {
	if code == "" {
		return worldwideLabel
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return worldwideLabel
	}
	if name := display.English.Regions().Name(region); name != "" {
		return name
	}
	return worldwideLabel
}

// labelPlace renders a region or city label scoped to its country,
// e.g. "🇺🇸 California,United States". An unknown place falls back to the
// country label alone.
func labelPlace(flag, place, countryName string) string {
	parts := make([]string, 0, 2)
	if place != "" {
		parts = append(parts, place)
	}
	if countryName != "" {
		parts = append(parts, countryName)
	}
	return strings.TrimSpace(flag + " " + strings.Join(parts, ","))
}

// coloFromRay extracts the serving data center code from a ray ID of the
// form "<id>-<colo>".
func coloFromRay(ray string) string {
	if ray == "" {
		return ""
	}
	idx := strings.LastIndex(ray, "-")
	if idx < 0 || idx == len(ray)-1 {
		return ""
	}
	return ray[idx+1:]
}

// parseCoord parses a latitude or longitude header value, defaulting to 0.
func parseCoord(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parsedAgent is the subset of user agent attributes the access event
// stores.
type parsedAgent struct {
	os          string
	browser     string
	browserType string
	device      string
	deviceType  string
}

// parseUserAgent classifies a User-Agent header. Bots are labelled as
// crawlers; everything else keeps the browser type blank the way upstream
// parsers report regular browsers.
func parseUserAgent(raw string) parsedAgent {
	if raw == "" {
		return parsedAgent{}
	}

	agent := ua.Parse(raw)

	out := parsedAgent{
		os:      agent.OS,
		browser: agent.Name,
		device:  agent.Device,
	}

	switch {
	case agent.Bot:
		out.browserType = "crawler"
		out.deviceType = "bot"
	case agent.Mobile:
		out.deviceType = "mobile"
	case agent.Tablet:
		out.deviceType = "tablet"
	case agent.Desktop:
		out.deviceType = "desktop"
	}

	return out
}
