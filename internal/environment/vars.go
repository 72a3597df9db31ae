package environment

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

// Value is a single environment variable value: either a Scalar
// string or an ordered, deduplicated PathList.
type Value interface {
	String() string
	clone() Value
}

// Scalar is a plain string value.
type Scalar string

func (s Scalar) String() string { return string(s) }
func (s Scalar) clone() Value   { return s }

// PathList is an ordered list of paths joined with the OS list
// separator. Insertion order is remembered and duplicate inserts are
// ignored, so repeated overlay application stays idempotent.
type PathList struct {
	paths []string
}

// NewPathList builds a PathList from already-split elements.
func NewPathList(paths ...string) *PathList {
	l := &PathList{}
	for _, p := range paths {
		l.Append(p)
	}
	return l
}

// ParsePathList splits a joined value ("a:b:c") into a PathList.
func ParsePathList(joined string) *PathList {
	l := &PathList{}
	for _, p := range strings.Split(joined, string(os.PathListSeparator)) {
		if p != "" {
			l.Append(p)
		}
	}
	return l
}

func (l *PathList) String() string { return strings.Join(l.paths, string(os.PathListSeparator)) }

func (l *PathList) clone() Value {
	return &PathList{paths: append([]string(nil), l.paths...)}
}

// Paths returns a copy of the elements in order.
func (l *PathList) Paths() []string { return append([]string(nil), l.paths...) }

func (l *PathList) contains(p string) bool {
	for _, existing := range l.paths {
		if existing == p {
			return true
		}
	}
	return false
}

// Append adds p at the end unless already present.
func (l *PathList) Append(p string) {
	if !l.contains(p) {
		l.paths = append(l.paths, p)
	}
}

// Insert adds p at index i (clamped) unless already present.
func (l *PathList) Insert(i int, p string) {
	if l.contains(p) {
		return
	}
	if i < 0 {
		i = 0
	}
	if i > len(l.paths) {
		i = len(l.paths)
	}
	l.paths = append(l.paths[:i], append([]string{p}, l.paths[i:]...)...)
}

// Prepend adds p at the front unless already present.
func (l *PathList) Prepend(p string) { l.Insert(0, p) }

// Remove deletes p when present.
func (l *PathList) Remove(p string) {
	for i, existing := range l.paths {
		if existing == p {
			l.paths = append(l.paths[:i], l.paths[i+1:]...)
			return
		}
	}
}

// VarSet is the environment's variable map. It is mutated by overlay
// application (canonical environment variables, then per-installed-
// package envvars) and rendered to a process environment on demand.
type VarSet struct {
	vars map[string]Value
}

// NewVarSet returns an empty VarSet.
func NewVarSet() *VarSet {
	return &VarSet{vars: make(map[string]Value)}
}

// VarSetFromEnviron seeds a VarSet from "KEY=value" entries, as
// returned by os.Environ.
func VarSetFromEnviron(environ []string) *VarSet {
	vs := NewVarSet()
	for _, entry := range environ {
		if k, v, ok := strings.Cut(entry, "="); ok {
			vs.vars[k] = Scalar(v)
		}
	}
	return vs
}

// Get returns the value for name, or nil when unset.
func (vs *VarSet) Get(name string) Value { return vs.vars[name] }

// GetString returns the rendered value for name, or "" when unset.
func (vs *VarSet) GetString(name string) string {
	if v := vs.vars[name]; v != nil {
		return v.String()
	}
	return ""
}

// Set replaces the value for name.
func (vs *VarSet) Set(name string, v Value) { vs.vars[name] = v }

// Unset removes name.
func (vs *VarSet) Unset(name string) { delete(vs.vars, name) }

// pathList returns the PathList stored under name, converting an
// existing Scalar (e.g. the inherited PATH) in place.
func (vs *VarSet) pathList(name string) *PathList {
	switch v := vs.vars[name].(type) {
	case *PathList:
		return v
	case Scalar:
		l := ParsePathList(string(v))
		vs.vars[name] = l
		return l
	default:
		l := &PathList{}
		vs.vars[name] = l
		return l
	}
}

// PrependPath puts p at the front of the path list stored under name.
func (vs *VarSet) PrependPath(name, p string) { vs.pathList(name).Prepend(p) }

// AppendPath puts p at the end of the path list stored under name.
func (vs *VarSet) AppendPath(name, p string) { vs.pathList(name).Append(p) }

// Map renders every variable to a plain string map.
func (vs *VarSet) Map() map[string]string {
	out := make(map[string]string, len(vs.vars))
	for k, v := range vs.vars {
		out[k] = v.String()
	}
	return out
}

// Environ renders the set as sorted "KEY=value" entries for process
// spawning.
func (vs *VarSet) Environ() []string {
	entries := make([]string, 0, len(vs.vars))
	for k, v := range vs.vars {
		entries = append(entries, k+"="+v.String())
	}
	sort.Strings(entries)
	return entries
}

// Clone deep-copies the set.
func (vs *VarSet) Clone() *VarSet {
	out := NewVarSet()
	for k, v := range vs.vars {
		out.vars[k] = v.clone()
	}
	return out
}

// ExpandDirs substitutes %(name)s references against a directory map,
// for callers outside this package (recipe configure_args templating).
func ExpandDirs(s string, dirs map[string]string) string { return expandDirs(s, dirs) }

var dirRefPattern = regexp.MustCompile(`%\((\w+)\)s`)

// expandDirs substitutes %(name)s references against the directory
// map, e.g. "%(prefix)s/etc" -> "/path/to/env/etc". Unknown names are
// left verbatim.
func expandDirs(s string, dirs map[string]string) string {
	return dirRefPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := dirRefPattern.FindStringSubmatch(m)[1]
		if dir, ok := dirs[name]; ok {
			return dir
		}
		return m
	})
}
