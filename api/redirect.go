package api

import (
	"net/url"
	"strings"
)

// localRedirect accepts an empty value or an absolute path on this host.
// Scheme relative ("//evil.test") and backslash forms browsers treat as
// such are rejected.
func localRedirect(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "", ErrInvalidRedirect
	}
	if strings.ContainsAny(raw, "\\\r\n\t") {
		return "", ErrInvalidRedirect
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", ErrInvalidRedirect
	}
	return raw, nil
}
