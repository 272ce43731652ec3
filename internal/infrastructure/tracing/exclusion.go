package tracing

import (
	"fmt"
	"net/http"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy reports whether a request is exempt from tracing.
type Policy func(r *http.Request) bool

// IncludeAll traces every request.
func IncludeAll(*http.Request) bool { return false }

// ExcludeAll traces nothing.
func ExcludeAll(*http.Request) bool { return true }

// ExcludePaths excludes requests whose URL path matches one of the glob
// patterns, e.g. "/metrics" or "/static/**".
func ExcludePaths(patterns ...string) (Policy, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: bad exclude pattern %q", ErrConfig, p)
		}
	}
	if len(patterns) == 0 {
		return IncludeAll, nil
	}

	patterns = append([]string(nil), patterns...)
	return func(r *http.Request) bool {
		for _, p := range patterns {
			// Patterns are validated above, so Match cannot fail.
			if ok, _ := doublestar.Match(p, r.URL.Path); ok {
				return true
			}
		}
		return false
	}, nil
}
