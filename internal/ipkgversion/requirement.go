package ipkgversion

import (
	"sort"
	"strings"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/platform"
)

// Requirement names a package, scoped to a platform, with an extras
// set and a version constraint. It is the unit the solver consumes
// and merges, per spec.md §3/§4.1:
//
//	req := [platform ':'] name [extras] [constraint_list]
//	extras := '[' extra (',' extra)* ']'
//
// Platform is never empty after construction: when the prefix is
// omitted from the parsed string, the current platform is substituted
// at construction time, while an explicit prefix (including "any") is
// kept as written. Two requirements compare equal iff their canonical
// strings — resolved platform included — are equal.
type Requirement struct {
	Platform   string
	Name       string
	Extras     []string
	Constraint Constraint
}

// String renders the canonical form: platform prefix (if any), name,
// bracketed sorted extras (if any), then the constraint list.
func (r Requirement) String() string {
	var b strings.Builder
	if r.Platform != "" {
		b.WriteString(r.Platform)
		b.WriteByte(':')
	}
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		extras := append([]string(nil), r.Extras...)
		sort.Strings(extras)
		b.WriteByte('[')
		b.WriteString(strings.Join(extras, ","))
		b.WriteByte(']')
	}
	if !r.Constraint.IsEmpty() {
		b.WriteString(r.Constraint.String())
	}
	return b.String()
}

// ParseRequirement parses a requirement string per the grammar above.
func ParseRequirement(s string) (Requirement, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Requirement{}, ipkgerr.New(ipkgerr.InvalidInput, "empty requirement")
	}

	var plat string
	if i := strings.IndexByte(s, ':'); i >= 0 {
		// The name grammar never contains ':', so anything before a
		// colon is a platform prefix and must parse as one.
		plat, s = strings.TrimSpace(s[:i]), s[i+1:]
		if _, err := platform.Parse(plat); err != nil {
			return Requirement{}, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "requirement %q", orig)
		}
	} else {
		plat = platform.Current().String()
	}

	name := s
	rest := ""
	for i, c := range s {
		if c == '[' || isConstraintStart(s[i:]) {
			name, rest = s[:i], s[i:]
			break
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Requirement{}, ipkgerr.New(ipkgerr.InvalidInput, "requirement %q has no package name", orig)
	}
	if strings.ContainsAny(name, " \t\n") {
		return Requirement{}, ipkgerr.New(ipkgerr.InvalidInput, "requirement %q: package name must not contain whitespace", orig)
	}

	var extras []string
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return Requirement{}, ipkgerr.New(ipkgerr.InvalidInput, "requirement %q has unterminated extras list", orig)
		}
		for _, e := range strings.Split(rest[1:end], ",") {
			e = strings.TrimSpace(e)
			if e != "" {
				extras = append(extras, e)
			}
		}
		rest = rest[end+1:]
	}

	constraint, err := ParseConstraintList(rest)
	if err != nil {
		return Requirement{}, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "requirement %q", orig)
	}

	return Requirement{
		Platform:   plat,
		Name:       name,
		Extras:     extras,
		Constraint: constraint,
	}, nil
}

func isConstraintStart(s string) bool {
	for _, op := range comparators {
		if strings.HasPrefix(s, string(op)) {
			return true
		}
	}
	return false
}

// Merge combines two requirements that share Name and Platform,
// producing the union of extras and the canonicalized union of
// constraints. Per spec.md §3, a mismatch on Name or Platform is a
// caller error (requirements that don't refer to the same package
// can't be merged); a canonicalization conflict surfaces as
// ConflictingConstraint naming both offending operands.
func (r Requirement) Merge(other Requirement) (Requirement, error) {
	if r.Name != other.Name {
		return Requirement{}, ipkgerr.New(ipkgerr.InvalidInput,
			"cannot merge requirements for different packages: %q, %q", r.Name, other.Name)
	}
	if r.Platform != other.Platform {
		return Requirement{}, ipkgerr.New(ipkgerr.InvalidInput,
			"cannot merge requirements scoped to different platforms: %q, %q", r.Platform, other.Platform)
	}

	merged, err := r.Constraint.Merge(other.Constraint)
	if err != nil {
		if ie, ok := err.(*ipkgerr.Error); ok {
			return Requirement{}, ie.WithOperands(r.String(), other.String())
		}
		return Requirement{}, err
	}

	return Requirement{
		Platform:   r.Platform,
		Name:       r.Name,
		Extras:     unionExtras(r.Extras, other.Extras),
		Constraint: merged,
	}, nil
}

func unionExtras(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, e := range list {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Satisfies reports whether v satisfies this requirement's
// constraint. Platform matching is the caller's responsibility, since
// it requires knowing the resolved platform being solved for (see
// platform.Compatible).
func (r Requirement) Satisfies(v Version) bool {
	return r.Constraint.Satisfies(v)
}
