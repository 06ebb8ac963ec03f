package policy

import (
	"reflect"

	"github.com/aretw0/autoversion/pkg/core"
)

// DiffMode selects how excluded properties are handled on property updates.
type DiffMode int

const (
	// DiffLegacy only blocks auto-versioning when every excluded key that is
	// present is unchanged. Changed excluded keys do not block it.
	DiffLegacy DiffMode = iota
	// DiffStrict counts changed keys outside the exclusion set and skips
	// when that count is zero.
	DiffStrict
)

func (m DiffMode) String() string {
	if m == DiffStrict {
		return "strict"
	}
	return "legacy"
}

// DiffCount returns the number of keys, from the union of both snapshots
// minus the excluded keys, whose values differ.
func DiffCount(before, after core.Properties, excluded core.QNameSet) int {
	count := 0
	for name := range unionKeys(before, after) {
		if excluded.Contains(name) {
			continue
		}
		if !nullSafeEqual(before, after, name) {
			count++
		}
	}
	return count
}

// HasExcludedUnchanged reports whether at least one excluded key appears in
// either snapshot and every such key compares equal between them.
func HasExcludedUnchanged(before, after core.Properties, excluded core.QNameSet) bool {
	found := false
	for name := range unionKeys(before, after) {
		if !excluded.Contains(name) {
			continue
		}
		found = true
		if !nullSafeEqual(before, after, name) {
			return false
		}
	}
	return found
}

func unionKeys(before, after core.Properties) map[core.QName]struct{} {
	keys := make(map[core.QName]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	return keys
}

// nullSafeEqual compares the value of name in both snapshots. An absent key
// and a nil value are both "no value"; two of those are equal, and "no
// value" never equals a present value, zero values included.
func nullSafeEqual(before, after core.Properties, name core.QName) bool {
	a := before[name]
	b := after[name]
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	return reflect.DeepEqual(a, b)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
