package cache

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern selects cache keys for invalidation.
//
// A pattern without '*' matches a key equal to it or continuing with
// Separator, so "pieces" matches "pieces" and "pieces:limit=20" but not
// "piecesX". A pattern with '*' is compiled to a prefix-anchored expression
// where '*' matches any substring: "pieces:*" matches every key starting with
// "pieces:".
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// CompilePattern parses an invalidation pattern.
func CompilePattern(pattern string) (Pattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.ContainsAny(pattern, "\n\r") {
		return Pattern{}, ErrInvalidPattern
	}
	if !strings.Contains(pattern, "*") {
		return Pattern{raw: pattern}, nil
	}

	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*"))
	if err != nil {
		return Pattern{}, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return Pattern{raw: pattern, re: re}, nil
}

// Match reports whether key is selected by the pattern.
func (p Pattern) Match(key string) bool {
	if p.re != nil {
		return p.re.MatchString(key)
	}
	return key == p.raw || strings.HasPrefix(key, p.raw+Separator)
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.raw
}
