package core

import (
	"fmt"
	"strconv"
	"strings"
)

// NextLabel derives the label following previous: 1.0 or 0.1 for the first
// version, then +1.0 for major and +0.1 for minor versions.
func NextLabel(previous string, kind VersionKind) (string, error) {
	major, minor := 0, 0
	if previous != "" {
		var err error
		if major, minor, err = ParseLabel(previous); err != nil {
			return "", err
		}
	}
	if kind == VersionMajor {
		return fmt.Sprintf("%d.0", major+1), nil
	}
	return fmt.Sprintf("%d.%d", major, minor+1), nil
}

// ParseLabel splits a "major.minor" label.
func ParseLabel(label string) (major, minor int, err error) {
	majorStr, minorStr, ok := strings.Cut(label, ".")
	if !ok {
		return 0, 0, fmt.Errorf("invalid version label %q", label)
	}
	if major, err = strconv.Atoi(majorStr); err != nil {
		return 0, 0, fmt.Errorf("invalid version label %q: %w", label, err)
	}
	if minor, err = strconv.Atoi(minorStr); err != nil {
		return 0, 0, fmt.Errorf("invalid version label %q: %w", label, err)
	}
	return major, minor, nil
}

// CompareLabels orders labels numerically; unparsable labels sort first.
func CompareLabels(a, b string) int {
	am, an, aerr := ParseLabel(a)
	bm, bn, berr := ParseLabel(b)
	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(a, b)
	case aerr != nil:
		return -1
	case berr != nil:
		return 1
	case am != bm:
		return am - bm
	}
	return an - bn
}
