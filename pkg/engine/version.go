package engine

import (
	"strings"

	"github.com/hashicorp/go-version"
)

// SatisfiesConstraint reports whether installed satisfies a manifest version
// constraint. A bare version ("1.2.3") requires exact equality and ">=1.2.3"
// requires a component-wise numeric comparison. An empty constraint is always
// satisfied.
func SatisfiesConstraint(constraint, installed string) (bool, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true, nil
	}

	if rest, ok := strings.CutPrefix(constraint, ">="); ok {
		want, err := version.NewVersion(strings.TrimSpace(rest))
		if err != nil {
			return false, NewPermanentError("invalid version constraint", err).
				WithCode(ErrCodeValidation).WithResource(constraint)
		}
		got, err := version.NewVersion(numericPrefix(installed))
		if err != nil {
			// Unparseable installed versions never satisfy a minimum.
			return false, nil
		}
		return got.Core().GreaterThanOrEqual(want.Core()), nil
	}

	if _, err := version.NewVersion(constraint); err != nil {
		return false, NewPermanentError("invalid version constraint", err).
			WithCode(ErrCodeValidation).WithResource(constraint)
	}
	return installed == constraint, nil
}

// numericPrefix trims vendor suffixes such as "2.43.0.windows.1" down to the
// leading dotted numeric run ("2.43.0").
func numericPrefix(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	end := 0
	for i, r := range v {
		if r >= '0' && r <= '9' {
			end = i + 1
			continue
		}
		if r == '.' && i+1 < len(v) && v[i+1] >= '0' && v[i+1] <= '9' {
			continue
		}
		break
	}
	return v[:end]
}
