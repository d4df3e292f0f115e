package secret

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands $VAR and ${VAR} in s. Every ${VAR} must be set;
// a bare $VAR that is unset expands to nothing. "$$" yields a literal "$".
func ExpandEnvStrict(s string) (string, error) {
	parts := strings.Split(s, "$$")

	var missing []string
	for _, part := range parts {
		for _, m := range bracedVar.FindAllStringSubmatch(part, -1) {
			if _, ok := os.LookupEnv(m[1]); !ok && !slices.Contains(missing, m[1]) {
				missing = append(missing, m[1])
			}
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	for i, part := range parts {
		parts[i] = os.ExpandEnv(part)
	}
	return strings.Join(parts, "$"), nil
}
