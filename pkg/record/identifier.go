package record

import (
	"fmt"
	"regexp"

	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// labelPattern matches a single kebab-case path segment: lowercase
// alphanumerics, hyphen-separated, never leading/trailing with a hyphen.
var labelPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// PackageID is a namespace-qualified package identifier (§3, §6),
// e.g. "acme:json-parser".
type PackageID struct {
	Namespace string
	Name      string
}

// ParsePackageID validates and splits "namespace:name".
func ParsePackageID(s string) (PackageID, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			ns, name := s[:i], s[i+1:]
			if err := validateLabel(ns); err != nil {
				return PackageID{}, fmt.Errorf("record: invalid namespace %q: %w: %v", ns, wargerr.IncorrectStructure, err)
			}
			if err := validateLabel(name); err != nil {
				return PackageID{}, fmt.Errorf("record: invalid name %q: %w: %v", name, wargerr.IncorrectStructure, err)
			}
			return PackageID{Namespace: ns, Name: name}, nil
		}
	}
	return PackageID{}, fmt.Errorf("record: package id %q missing ':' separator: %w", s, wargerr.IncorrectStructure)
}

func validateLabel(s string) error {
	if !labelPattern.MatchString(s) {
		return fmt.Errorf("must match %s", labelPattern.String())
	}
	return nil
}

// String returns "namespace:name".
func (p PackageID) String() string {
	return p.Namespace + ":" + p.Name
}
