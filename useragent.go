package identity

import "strings"

type uaToken struct {
	needle string
	label  string
}

// ordered: more specific tokens first (Edge and Opera also carry "Chrome").
var browserTokens = []uaToken{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"firefox/", "Firefox"},
	{"fxios/", "Firefox"},
	{"crios/", "Chrome"},
	{"chrome/", "Chrome"},
	{"safari/", "Safari"},
	{"curl/", "curl"},
	{"okhttp", "Android app"},
}

var platformTokens = []uaToken{
	{"iphone", "iPhone"},
	{"ipad", "iPad"},
	{"android", "Android"},
	{"windows", "Windows"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

// DeviceName derives a short label such as "Chrome on macOS" from a user
// agent. Unknown agents yield "Unknown device".
func DeviceName(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return "Unknown device"
	}

	browser := match(ua, browserTokens)
	platform := match(ua, platformTokens)

	switch {
	case browser != "" && platform != "":
		return browser + " on " + platform
	case browser != "":
		return browser
	case platform != "":
		return platform
	default:
		return "Unknown device"
	}
}

func match(ua string, tokens []uaToken) string {
	for _, t := range tokens {
		if strings.Contains(ua, t.needle) {
			return t.label
		}
	}
	return ""
}
