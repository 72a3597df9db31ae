package ipkgversion

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

// Comparator is one of the six constraint operators.
type Comparator string

const (
	Eq  Comparator = "=="
	Ne  Comparator = "!="
	Lt  Comparator = "<"
	Le  Comparator = "<="
	Gt  Comparator = ">"
	Ge  Comparator = ">="
)

// Pair is a single (comparator, version) constraint.
type Pair struct {
	Op      Comparator
	Version Version
}

func (p Pair) String() string {
	return fmt.Sprintf("%s%s", p.Op, p.Version.String())
}

// Constraint is a canonicalized list of Pairs, ANDed together.
// Canonical ordering after Canonicalize: an optional Eq, then an
// upper bound (Lt/Le), then a lower bound (Gt/Ge), then the Ne set —
// per spec.md §3.
type Constraint struct {
	pairs []Pair
}

// NewConstraint canonicalizes the given pairs, applying the
// collapsing rules from spec.md §3:
//   - all Eq must agree, else ConflictingConstraint
//   - multiple Gt/Ge collapse to the strictest
//   - multiple Lt/Le collapse to the strictest
//   - Ge v + Le v collapses to Eq v
//   - incompatible bounds (e.g. Gt 2, Lt 1) fail
func NewConstraint(pairs ...Pair) (Constraint, error) {
	var eq *Version
	var upper *Pair // Lt or Le
	var lower *Pair // Gt or Ge
	var neList []Version

	for _, p := range pairs {
		switch p.Op {
		case Eq:
			if eq != nil && !eq.Equal(p.Version) {
				return Constraint{}, ipkgerr.New(ipkgerr.ConflictingConstraint,
					"conflicting == constraints").WithOperands(eq.String(), p.Version.String())
			}
			v := p.Version
			eq = &v
		case Ne:
			neList = append(neList, p.Version)
		case Lt, Le:
			if upper == nil || stricterUpper(p, *upper) {
				pp := p
				upper = &pp
			}
		case Gt, Ge:
			if lower == nil || stricterLower(p, *lower) {
				pp := p
				lower = &pp
			}
		default:
			return Constraint{}, ipkgerr.New(ipkgerr.InvalidInput, "unknown comparator %q", p.Op)
		}
	}

	if upper != nil && lower != nil {
		if upper.Op == Le && lower.Op == Ge && upper.Version.Equal(lower.Version) {
			v := upper.Version
			eq = &v
			upper, lower = nil, nil
		} else if boundsConflict(*lower, *upper) {
			return Constraint{}, ipkgerr.New(ipkgerr.ConflictingConstraint,
				"incompatible bounds %s, %s", lower.String(), upper.String())
		}
	}

	if eq != nil {
		// An explicit == value must be consistent with any surviving
		// bound or != entries; a well-formed merge should never reach
		// here with a contradiction since canonicalization above
		// already collapsed bounds around it, but guard anyway.
		if upper != nil && !satisfiesPair(*eq, *upper) {
			return Constraint{}, ipkgerr.New(ipkgerr.ConflictingConstraint,
				"== %s conflicts with %s", eq.String(), upper.String())
		}
		if lower != nil && !satisfiesPair(*eq, *lower) {
			return Constraint{}, ipkgerr.New(ipkgerr.ConflictingConstraint,
				"== %s conflicts with %s", eq.String(), lower.String())
		}
		for _, ne := range neList {
			if eq.Equal(ne) {
				return Constraint{}, ipkgerr.New(ipkgerr.ConflictingConstraint,
					"== %s conflicts with != %s", eq.String(), ne.String())
			}
		}
	}

	var out []Pair
	if eq != nil {
		out = append(out, Pair{Eq, *eq})
	}
	if upper != nil {
		out = append(out, *upper)
	}
	if lower != nil {
		out = append(out, *lower)
	}
	sort.Slice(neList, func(i, j int) bool { return neList[i].Less(neList[j]) })
	for _, v := range dedupVersions(neList) {
		out = append(out, Pair{Ne, v})
	}

	return Constraint{pairs: out}, nil
}

func dedupVersions(vs []Version) []Version {
	var out []Version
	for _, v := range vs {
		dup := false
		for _, o := range out {
			if o.Equal(v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

func stricterUpper(a, b Pair) bool {
	if a.Version.Equal(b.Version) {
		return a.Op == Lt && b.Op == Le // < v is stricter than <= v
	}
	return a.Version.Less(b.Version)
}

func stricterLower(a, b Pair) bool {
	if a.Version.Equal(b.Version) {
		return a.Op == Gt && b.Op == Ge
	}
	return b.Version.Less(a.Version)
}

func boundsConflict(lower, upper Pair) bool {
	if lower.Version.Less(upper.Version) {
		return false
	}
	if lower.Version.Equal(upper.Version) {
		return !(lower.Op == Ge && upper.Op == Le)
	}
	return true
}

func satisfiesPair(v Version, p Pair) bool {
	c := v.Compare(p.Version)
	switch p.Op {
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	case Lt:
		return c < 0
	case Le:
		return c <= 0
	case Gt:
		return c > 0
	case Ge:
		return c >= 0
	}
	return false
}

// Satisfies reports whether v passes every pair in the constraint.
func (c Constraint) Satisfies(v Version) bool {
	for _, p := range c.pairs {
		if !satisfiesPair(v, p) {
			return false
		}
	}
	return true
}

// Pairs returns the canonicalized pairs, in canonical order.
func (c Constraint) Pairs() []Pair { return append([]Pair(nil), c.pairs...) }

// IsEmpty reports whether the constraint has no pairs (matches any
// version).
func (c Constraint) IsEmpty() bool { return len(c.pairs) == 0 }

// String renders the canonical comma-joined form, e.g. ">=1,<2".
func (c Constraint) String() string {
	parts := make([]string, len(c.pairs))
	for i, p := range c.pairs {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// Merge combines two constraints, canonicalizing the union of their
// pairs. Per spec.md §8, merge is associative and commutative over
// the canonical-constraint space.
func (c Constraint) Merge(other Constraint) (Constraint, error) {
	all := append(append([]Pair(nil), c.pairs...), other.pairs...)
	return NewConstraint(all...)
}

// ParseConstraintList parses a comma-separated constraint_list per
// spec.md §4.1's grammar, e.g. ">1,<2".
func ParseConstraintList(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Constraint{}, nil
	}
	var pairs []Pair
	for _, part := range strings.Split(s, ",") {
		p, err := parsePair(strings.TrimSpace(part))
		if err != nil {
			return Constraint{}, err
		}
		pairs = append(pairs, p)
	}
	return NewConstraint(pairs...)
}

var comparators = []Comparator{Ge, Le, Eq, Ne, Gt, Lt} // longest-prefix-first match order

func parsePair(s string) (Pair, error) {
	for _, op := range comparators {
		if strings.HasPrefix(s, string(op)) {
			rest := strings.TrimSpace(strings.TrimPrefix(s, string(op)))
			if rest == "" {
				return Pair{}, ipkgerr.New(ipkgerr.InvalidInput, "constraint %q missing a version", s)
			}
			return Pair{Op: op, Version: Parse(rest)}, nil
		}
	}
	return Pair{}, ipkgerr.New(ipkgerr.InvalidInput, "constraint %q has no recognized comparator", s)
}
