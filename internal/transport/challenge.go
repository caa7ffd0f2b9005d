package transport

import (
	"bytes"
	"net/http"
	"strings"
)

var challengeMarkers = []string{
	"cf-chl",
	"cf_chl_opt",
	"challenge-platform",
	"Just a moment...",
	"Attention Required! | Cloudflare",
	"ddos-guard",
	"DDoS-Guard",
}

// detectChallenge returns the marker that identifies an anti-bot
// interstitial, or "" when the response looks like real content.
func detectChallenge(status int, header http.Header, body []byte) string {
	if strings.EqualFold(header.Get("cf-mitigated"), "challenge") {
		return "cf-mitigated"
	}
	switch status {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
	default:
		return ""
	}
	for _, m := range challengeMarkers {
		if bytes.Contains(body, []byte(m)) {
			return m
		}
	}
	if strings.HasPrefix(strings.ToLower(header.Get("Server")), "ddos-guard") {
		return "ddos-guard"
	}
	return ""
}
