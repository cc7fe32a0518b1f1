// Package semverx is a thin wrapper over Masterminds/semver/v3 giving
// package release/yank versions (§3, §4.2) the exact comparison and
// canonical-string semantics SemVer 2.0.0 requires, instead of a
// hand-rolled parser (teacher precedent: pkg/pack/matrix.go,
// pkg/trust/pack_loader.go already reach for Masterminds/semver for this).
package semverx

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is a parsed, comparable semantic version.
type Version struct {
	inner *semver.Version
}

// Parse parses a SemVer 2.0.0 version string.
func Parse(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("semverx: invalid version %q: %w", s, err)
	}
	return Version{inner: v}, nil
}

// String returns the canonical textual form, used both as the map key
// in validator state and as the wire representation of Release/Yank
// entries.
func (v Version) String() string {
	return v.inner.String()
}

// Compare returns -1, 0, or 1 per SemVer 2.0.0 precedence rules.
func (v Version) Compare(other Version) int {
	return v.inner.Compare(other.inner)
}
