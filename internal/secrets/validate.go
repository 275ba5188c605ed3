package secrets

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError lists environment variables that failed the preflight
// check. Unset and blank are kept apart: an unset name is usually a
// missing deploy secret, a blank one a broken template substitution.
type ValidationError struct {
	Missing []string
	Blank   []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("unset environment variables: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Blank) > 0 {
		parts = append(parts, fmt.Sprintf("blank environment variables: %s", strings.Join(e.Blank, ", ")))
	}
	return strings.Join(parts, "; ")
}

// ValidateEnv checks that every named environment variable is set to a
// non-blank value. Names are reported in the order given.
func ValidateEnv(names ...string) error {
	verr := &ValidationError{}
	for _, name := range names {
		value, ok := os.LookupEnv(name)
		switch {
		case !ok:
			verr.Missing = append(verr.Missing, name)
		case strings.TrimSpace(value) == "":
			verr.Blank = append(verr.Blank, name)
		}
	}
	if len(verr.Missing) > 0 || len(verr.Blank) > 0 {
		return verr
	}
	return nil
}
