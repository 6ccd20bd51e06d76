// Package protocol implements the small HTTP/1.x subset the visitor counter
// speaks: a single request line in, a fixed-header response out.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRequest is returned when the request line cannot be parsed.
var ErrMalformedRequest = errors.New("malformed request")

// Request is the decoded request line.
type Request struct {
	Method string
	Path   string
	Params map[string]string
}

// Param returns the named query parameter and whether it was present with a
// non-blank value.
func (r *Request) Param(name string) (string, bool) {
	v, ok := r.Params[name]
	return v, ok
}

// Parse decodes the request line at the start of raw. Only the first line
// is inspected; headers and bodies are ignored. Query parameters with blank
// values are dropped and the first non-blank occurrence of a name wins.
func Parse(raw []byte) (*Request, error) {
	line, _, _ := strings.Cut(string(raw), "\n")

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, truncate(line, 64))
	}
	method, target := fields[0], fields[1]

	target, _, _ = strings.Cut(target, "#")
	path, rawQuery, _ := strings.Cut(target, "?")

	return &Request{Method: method, Path: path, Params: parseQuery(rawQuery)}, nil
}

// parseQuery decodes rawQuery in order, keeping the first non-blank value
// of each key.
func parseQuery(rawQuery string) map[string]string {
	params := make(map[string]string)
	for rawQuery != "" {
		var pair string
		pair, rawQuery, _ = strings.Cut(rawQuery, "&")
		if pair == "" {
			continue
		}

		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, value := unescape(rawKey), unescape(rawValue)
		if value == "" {
			continue
		}
		if _, seen := params[key]; seen {
			continue
		}
		params[key] = value
	}
	return params
}

// unescape decodes '+' to space and every well-formed %XX sequence. A '%'
// not followed by two hex digits is kept literally.
func unescape(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
