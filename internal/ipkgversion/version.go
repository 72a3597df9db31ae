// Package ipkgversion implements the version and requirement algebra:
// opaque, totally ordered Version values; VersionConstraint sets with
// canonicalization; and Requirement parsing/merging/satisfaction.
package ipkgversion

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

// segment is one dot-separated piece of a Version, split further into
// a numeric prefix and an optional trailing alphabetic marker. A
// marker present on a segment makes that segment a pre-release of the
// segment's numeric value (e.g. "3rc1" is a pre-release of "3").
type segment struct {
	hasNum bool
	num    int64
	marker string // "" when the segment is purely numeric
}

// Version is an opaque, totally ordered value parsed from a
// dot-separated string of numeric and alphanumeric tokens.
type Version struct {
	raw      string
	segments []segment
}

// Parse parses a version string into a Version. Parsing never fails:
// any token that doesn't start with a digit becomes a marker-only
// segment, which is compared with the segment at the same position in
// the other version lexicographically, as strings.
func Parse(raw string) Version {
	raw = strings.TrimSpace(raw)
	tokens := strings.Split(raw, ".")
	segments := make([]segment, 0, len(tokens))
	for _, tok := range tokens {
		segments = append(segments, parseToken(tok))
	}
	return Version{raw: raw, segments: segments}
}

func parseToken(tok string) segment {
	i := 0
	for i < len(tok) && tok[i] >= '0' && tok[i] <= '9' {
		i++
	}
	if i == 0 {
		// No leading digits at all: the whole token is a marker.
		return segment{hasNum: false, marker: tok}
	}
	n, _ := strconv.ParseInt(tok[:i], 10, 64)
	return segment{hasNum: true, num: n, marker: tok[i:]}
}

// String returns the original string the Version was parsed from.
func (v Version) String() string { return v.raw }

// finalSegment is the virtual segment used to pad a shorter version
// out to the length of a longer one: it has no marker (so it beats
// any pre-release marker at the same position) but is considered to
// have numeric value 0 for the purpose of comparison against a larger
// present numeric segment.
var finalSegment = segment{hasNum: true, num: 0, marker: ""}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than other.
func (v Version) Compare(other Version) int {
	n := len(v.segments)
	if len(other.segments) > n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		a := segmentAt(v.segments, i)
		b := segmentAt(other.segments, i)
		if c := compareSegment(a, b); c != 0 {
			return c
		}
	}
	return 0
}

func segmentAt(segs []segment, i int) segment {
	if i < len(segs) {
		return segs[i]
	}
	return finalSegment
}

func compareSegment(a, b segment) int {
	if a.hasNum && b.hasNum {
		if a.num != b.num {
			if a.num < b.num {
				return -1
			}
			return 1
		}
		return compareMarker(a.marker, b.marker)
	}
	// At least one side has no leading digits: fall back to
	// lexicographic comparison of the full token representation.
	as, bs := tokenString(a), tokenString(b)
	return strings.Compare(as, bs)
}

func tokenString(s segment) string {
	if !s.hasNum {
		return s.marker
	}
	return strconv.FormatInt(s.num, 10) + s.marker
}

// compareMarker compares the pre-release marker of two segments that
// share the same numeric value. No marker ("final") sorts greater
// than any non-empty marker, since a release is newer than any of its
// own pre-releases.
func compareMarker(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}
	return strings.Compare(a, b)
}

// Equal reports structural equality (same original parse, compared
// value-wise rather than by source string).
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }
func (v Version) Less(other Version) bool  { return v.Compare(other) < 0 }

// semverTokenPattern extracts the first X.Y.Z[-pre][+build]-shaped
// run from an arbitrary string, used by NormalizeSemver.
var semverTokenPattern = regexp.MustCompile(`v?(\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?)`)

// Version format transforms, applied to a raw tag/version string
// before it's stored as a recipe's resolved version. Mirrors the
// teacher's recipe.VersionFormat* constants.
const (
	FormatRaw        = "raw"
	FormatSemver      = "semver"
	FormatSemverFull  = "semver_full"
	FormatStripV      = "strip_v"
)

// NormalizeSemver extracts and validates the semver-shaped core of an
// arbitrary tag string (e.g. "release-1.2.3-linux" -> "1.2.3"),
// delegating validation to Masterminds/semver so that malformed
// "semver" recipes fail loudly at version-resolution time rather than
// silently producing a bogus Version later in the solver.
func NormalizeSemver(raw string, full bool) (string, error) {
	m := semverTokenPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", ipkgerr.New(ipkgerr.InvalidInput, "no semver-shaped version found in %q", raw)
	}
	sv, err := semver.NewVersion(m[1])
	if err != nil {
		return "", ipkgerr.Wrap(ipkgerr.InvalidInput, err, "invalid semver in %q", raw)
	}
	if full {
		return sv.String(), nil
	}
	return strconv.FormatUint(sv.Major(), 10) + "." +
		strconv.FormatUint(sv.Minor(), 10) + "." +
		strconv.FormatUint(sv.Patch(), 10), nil
}

// ApplyFormat applies one of the Format* transforms to a raw tag.
func ApplyFormat(format, raw string) (string, error) {
	switch format {
	case "", FormatRaw:
		return raw, nil
	case FormatStripV:
		return strings.TrimPrefix(raw, "v"), nil
	case FormatSemver:
		return NormalizeSemver(raw, false)
	case FormatSemverFull:
		return NormalizeSemver(raw, true)
	default:
		return "", ipkgerr.New(ipkgerr.InvalidInput, "unknown version_format %q", format)
	}
}
