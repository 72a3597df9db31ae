// Package platform provides the platform tag used throughout ipkg to
// identify which operating system, OS release, and architecture a
// recipe, artifact, or environment targets.
//
// A Platform is a plain value — there is no global mutable singleton.
// Callers that need "the platform this process is running on" call
// Current() explicitly and plumb the result where needed (the solver,
// the build pipeline, requirement parsing).
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Any is the wildcard value for any platform component.
const Any = "any"

// Platform is the triple (os_name, os_release, architecture) that tags
// every binary artifact and every environment. Any component may be
// the wildcard Any.
type Platform struct {
	OSName  string
	Release string
	Arch    string
}

// Current returns the Platform for the process's runtime environment.
// Release is best-effort: ipkg has no portable way to query an OS
// release version, so callers that care about a specific release
// (e.g. the build pipeline tagging an artifact) should override it
// explicitly; Current leaves it as Any.
func Current() Platform {
	return Platform{
		OSName:  runtime.GOOS,
		Release: Any,
		Arch:    runtime.GOARCH,
	}
}

// Parse parses a canonical "os-release-arch" string (lowercased) into
// a Platform. The wildcard token "any" is accepted in any position,
// and a bare "any" is shorthand for the all-wildcard triple.
func Parse(s string) (Platform, error) {
	if strings.ToLower(strings.TrimSpace(s)) == Any {
		return Platform{OSName: Any, Release: Any, Arch: Any}, nil
	}
	parts := strings.Split(strings.ToLower(s), "-")
	if len(parts) != 3 {
		return Platform{}, fmt.Errorf("invalid platform string %q: expected os-release-arch", s)
	}
	for _, p := range parts {
		if p == "" {
			return Platform{}, fmt.Errorf("invalid platform string %q: empty component", s)
		}
	}
	return Platform{OSName: parts[0], Release: parts[1], Arch: parts[2]}, nil
}

// String renders the canonical lowercased "os-release-arch" form.
func (p Platform) String() string {
	return strings.ToLower(fmt.Sprintf("%s-%s-%s", zeroOr(p.OSName), zeroOr(p.Release), zeroOr(p.Arch)))
}

func zeroOr(s string) string {
	if s == "" {
		return Any
	}
	return s
}

// compatibleComponent reports whether two single components of a
// platform triple are compatible: equal, or either side is the
// wildcard.
func compatibleComponent(a, b string) bool {
	a, b = zeroOr(a), zeroOr(b)
	return a == Any || b == Any || strings.EqualFold(a, b)
}

// Compatible reports whether p and other are compatible: each
// component either matches exactly (case-insensitively) or at least
// one side is the wildcard Any.
func (p Platform) Compatible(other Platform) bool {
	return compatibleComponent(p.OSName, other.OSName) &&
		compatibleComponent(p.Release, other.Release) &&
		compatibleComponent(p.Arch, other.Arch)
}

// IsWildcard reports whether every component of p is the wildcard,
// i.e. p matches any concrete platform.
func (p Platform) IsWildcard() bool {
	return zeroOr(p.OSName) == Any && zeroOr(p.Release) == Any && zeroOr(p.Arch) == Any
}

// Less gives Platform a total ordering by canonical string, used to
// keep repository indices and solver output deterministic.
func (p Platform) Less(other Platform) bool {
	return p.String() < other.String()
}
