package httpd

import (
	"net/http"
	"strings"
)

// ParseRequest returns the target of the request line at the start of raw.
// Only GET is served; any other method fails with MethodNotImplemented.
// The target is returned as sent, query string included.
func ParseRequest(raw string) (string, error) {
	line := raw
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		line = strings.TrimSuffix(raw[:i], "\r")
	}

	parts := strings.Split(line, " ")
	if parts[0] != http.MethodGet {
		return "", newError(MethodNotImplemented, parts[0], nil)
	}
	if len(parts) < 2 {
		return "", ErrMalformedRequest
	}
	return parts[1], nil
}
