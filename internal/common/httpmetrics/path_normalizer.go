package httpmetrics

import (
	"regexp"
	"strings"
)

const unmatchedPath = "/unmatched"

var (
	uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

	knownPrefixes = []string{"/api/auth/", "/health", "/metrics"}
)

// NormalizePath turns a request path into a bounded label value. Ids and
// numeric segments are replaced; paths outside the served prefixes collapse
// into a single bucket so scanners cannot inflate series count.
func NormalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if !served(path) {
		return unmatchedPath
	}

	normalized := uuidRegex.ReplaceAllString(strings.TrimSuffix(path, "/"), "{id}")

	parts := strings.Split(normalized, "/")
	for i, part := range parts {
		if part != "" && part != "{id}" && isNumeric(part) {
			parts[i] = "{param}"
		}
	}
	return strings.Join(parts, "/")
}

func served(path string) bool {
	for _, prefix := range knownPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
