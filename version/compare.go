package version

import (
	"strings"
	"time"
)

// Compare returns -1, 0 or +1 depending on whether a is older than, equal to
// or newer than b. RFC 3339 timestamps compare as instants; anything else
// compares byte-wise.
func Compare(a, b string) int {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return strings.Compare(a, b)
}

// Newer reports whether a is strictly newer than b.
func Newer(a, b string) bool {
	return Compare(a, b) > 0
}

// Max returns the newest non-empty value, or "" if there is none.
func Max(values ...string) string {
	var newest string
	for _, v := range values {
		if v == "" {
			continue
		}
		if newest == "" || Newer(v, newest) {
			newest = v
		}
	}
	return newest
}
