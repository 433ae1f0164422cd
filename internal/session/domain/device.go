package domain

import "strings"

// Device is the descriptor parsed from the client's raw user-agent string.
// The raw string is kept for forensics; platform and browser are coarse
// families, not an exact fingerprint.
type Device struct {
	Platform string
	Browser  string
	RawAgent string
}

// ParseDevice classifies a raw user-agent string. Unknown agents map to
// "other"/"other" rather than failing; device parsing must never block login.
func ParseDevice(rawAgent string) Device {
	d := Device{Platform: "other", Browser: "other", RawAgent: rawAgent}
	ua := strings.ToLower(rawAgent)
	if ua == "" {
		return d
	}

	switch {
	case strings.Contains(ua, "windows"):
		d.Platform = "windows"
	case strings.Contains(ua, "android"):
		d.Platform = "android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		d.Platform = "ios"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		d.Platform = "macos"
	case strings.Contains(ua, "linux"):
		d.Platform = "linux"
	}

	// Order matters: Edge and Opera embed "chrome", Chrome embeds "safari".
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge"):
		d.Browser = "edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		d.Browser = "opera"
	case strings.Contains(ua, "firefox"):
		d.Browser = "firefox"
	case strings.Contains(ua, "chrome"), strings.Contains(ua, "crios"):
		d.Browser = "chrome"
	case strings.Contains(ua, "safari"):
		d.Browser = "safari"
	case strings.Contains(ua, "curl"), strings.Contains(ua, "wget"), strings.Contains(ua, "httpclient"), strings.Contains(ua, "python"):
		d.Browser = "cli"
	}
	return d
}
