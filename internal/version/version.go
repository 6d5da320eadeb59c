// Package version parses and orders runtime version identifiers.
//
// An identifier is a plain three-part numeric string (major.minor.patch).
// Ordering is numeric per component, so 3.10.0 sorts after 3.9.0.
package version

import (
	"fmt"
	"regexp"
	"sort"

	mm "github.com/Masterminds/semver/v3"

	"pyvm/internal/errkind"
)

var identifierPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)$`)

// Identifier is a validated major.minor.patch version.
type Identifier struct {
	raw string
	v   *mm.Version
}

// Parse validates raw as an identifier. Prefixes, prerelease tags and build
// metadata are rejected.
func Parse(raw string) (Identifier, error) {
	if !identifierPattern.MatchString(raw) {
		return Identifier{}, fmt.Errorf("%w: %q is not major.minor.patch", errkind.ErrInvalidVersion, raw)
	}
	v, err := mm.StrictNewVersion(raw)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: parse %q: %w", errkind.ErrInvalidVersion, raw, err)
	}
	return Identifier{raw: raw, v: v}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string) Identifier {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical identifier text.
func (id Identifier) String() string {
	return id.raw
}

// Major, Minor and Patch expose the numeric components.
func (id Identifier) Major() uint64 { return id.v.Major() }
func (id Identifier) Minor() uint64 { return id.v.Minor() }
func (id Identifier) Patch() uint64 { return id.v.Patch() }

// Compare returns -1, 0 or 1. Zero identifiers sort first.
func Compare(a, b Identifier) int {
	switch {
	case a.v == nil && b.v == nil:
		return 0
	case a.v == nil:
		return -1
	case b.v == nil:
		return 1
	}
	return a.v.Compare(b.v)
}

// CompareStrings orders two raw identifiers. Strings that fail to parse sort
// before valid ones and fall back to plain string order among themselves.
func CompareStrings(a, b string) int {
	ia, errA := Parse(a)
	ib, errB := Parse(b)
	switch {
	case errA != nil && errB != nil:
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return Compare(ia, ib)
}

// SortDescending orders raw identifiers newest first.
func SortDescending(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return CompareStrings(ids[i], ids[j]) > 0
	})
}
