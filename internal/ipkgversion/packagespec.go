package ipkgversion

import (
	"strconv"
	"strings"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/platform"
)

// PackageSpec names a package optionally pinned to an exact version and
// revision: name[==version[:revision]], per spec.md §3. It is the shape
// a caller types on a CLI ("install foo==1.2:1") before it is resolved
// against a repository or turned into a Requirement for the solver.
type PackageSpec struct {
	Name     string
	Version  string // "" means unpinned
	Revision int    // only meaningful when Version != ""
}

// ParsePackageSpec parses "name", "name==version", or
// "name==version:revision".
func ParsePackageSpec(s string) (PackageSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PackageSpec{}, ipkgerr.New(ipkgerr.InvalidInput, "empty package spec")
	}

	name, rest, hasVersion := strings.Cut(s, "==")
	name = strings.TrimSpace(name)
	if name == "" {
		return PackageSpec{}, ipkgerr.New(ipkgerr.InvalidInput, "package spec %q has no name", s)
	}
	if !hasVersion {
		return PackageSpec{Name: name}, nil
	}

	version, revStr, hasRevision := strings.Cut(rest, ":")
	version = strings.TrimSpace(version)
	if version == "" {
		return PackageSpec{}, ipkgerr.New(ipkgerr.InvalidInput, "package spec %q has empty version", s)
	}

	revision := 0
	if hasRevision {
		n, err := strconv.Atoi(strings.TrimSpace(revStr))
		if err != nil {
			return PackageSpec{}, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "package spec %q has invalid revision", s)
		}
		revision = n
	}

	return PackageSpec{Name: name, Version: version, Revision: revision}, nil
}

// String renders the canonical "name==version:revision" form.
func (s PackageSpec) String() string {
	if s.Version == "" {
		return s.Name
	}
	if s.Revision == 0 {
		return s.Name + "==" + s.Version
	}
	return s.Name + "==" + s.Version + ":" + strconv.Itoa(s.Revision)
}

// Pinned reports whether the spec names an exact version.
func (s PackageSpec) Pinned() bool { return s.Version != "" }

// AsRequirement converts a spec into a Requirement scoped to the
// given platform string; "" substitutes the current platform, the
// same resolution ParseRequirement applies to an omitted prefix.
func (s PackageSpec) AsRequirement(plat string) (Requirement, error) {
	if plat == "" {
		plat = platform.Current().String()
	}
	if !s.Pinned() {
		return Requirement{Platform: plat, Name: s.Name}, nil
	}
	constraint, err := NewConstraint(Pair{Op: Eq, Version: Parse(s.Version)})
	if err != nil {
		return Requirement{}, err
	}
	return Requirement{Platform: plat, Name: s.Name, Constraint: constraint}, nil
}
