// Package recipe implements the declarative recipe format (spec §3,
// §4.9, §9 redesign note 1): a TOML document naming a package's
// sources, dependencies, and build parameters, plus an optional list
// of named custom install steps. Recipes never execute code of their
// own — they are data consumed by internal/ipkgbuild.
package recipe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Recipe is the declarative description of how to produce a package,
// per spec §3's Recipe type.
type Recipe struct {
	Name         string            `toml:"name"`
	Version      string            `toml:"version"`
	Revision     int               `toml:"revision"`
	Homepage     string            `toml:"homepage,omitempty"`
	Platform     string            `toml:"platform,omitempty"` // "" means any-any-any
	Dependencies []string          `toml:"dependencies,omitempty"`
	Sources      []Source          `toml:"sources,omitempty"`
	Patches      []Patch           `toml:"patches,omitempty"`
	ConfigureArgs []string         `toml:"configure_args,omitempty"`
	Envvars      map[string]string `toml:"envvars,omitempty"`
	BuildEnvvars map[string]string `toml:"build_envvars,omitempty"`

	// Install names a custom pipeline. When Steps is empty the build
	// pipeline runs the default configure/make/make-install sequence
	// (spec §4.9 step 7); otherwise it runs exactly these steps in
	// order instead.
	Install InstallSection `toml:"install"`

	// VersionSource is a supplemental, optional upstream-check
	// declaration — not part of spec.md's literal Recipe fields, but
	// grounded on the teacher's own version.Resolver/github_repo
	// pattern and wired to ipkgversion.GitHubTagLister so recipes can
	// detect when a newer upstream release exists.
	VersionSource *VersionSource `toml:"version_source,omitempty"`
}

// Source is one entry of recipe.sources: a fetchable location plus
// its expected hash, consumed by internal/fetch.
type Source struct {
	URL      string `toml:"url"`
	Checksum string `toml:"checksum,omitempty"` // "algo:hex", e.g. "sha256:..."
	Dest     string `toml:"dest,omitempty"`     // subdirectory relative to build_dir/sources, default "."
}

// Patch is one ordered source modification applied with `patch -p0`
// (spec §4.9 step 5) before the install step runs.
type Patch struct {
	URL      string `toml:"url,omitempty"`
	Data     string `toml:"data,omitempty"` // inline patch content, mutually exclusive with URL
	Checksum string `toml:"checksum,omitempty"`
}

// VersionSource points the GitHub tag lister at an upstream repo used
// to flag stale recipe.version declarations.
type VersionSource struct {
	GitHubRepo string `toml:"github_repo"`
	TagPrefix  string `toml:"tag_prefix,omitempty"`
	Format     string `toml:"format,omitempty"` // one of the ipkgversion.Format* constants, default "raw"
}

// InstallSection holds the custom step list (spec §9 redesign note 1:
// "a declarative manifest ... plus an optional named custom step
// selected from a registry").
type InstallSection struct {
	Steps []Step `toml:"steps,omitempty"`
}

// Custom returns true when the recipe supplies its own install steps
// instead of the default configure/make/make-install pipeline.
func (r *Recipe) Custom() bool { return len(r.Install.Steps) > 0 }

// Step is a single named operation in a custom install pipeline. The
// set of valid Action values and their Params shape is owned by
// internal/ipkgbuild's step registry, not by this package — recipe
// only carries the data through.
type Step struct {
	Action string                 `toml:"action"`
	When   *WhenClause            `toml:"when,omitempty"`
	Params map[string]interface{} `toml:"-"`
}

// UnmarshalTOML implements custom decoding so arbitrary per-action
// parameters can sit alongside "action"/"when" in the same table,
// mirroring the teacher's flattened step encoding.
func (s *Step) UnmarshalTOML(data interface{}) error {
	stepMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("step must be a table")
	}

	if action, ok := stepMap["action"].(string); ok {
		s.Action = action
	}
	if s.Action == "" {
		return fmt.Errorf("step is missing required field 'action'")
	}

	if whenData, ok := stepMap["when"].(map[string]interface{}); ok {
		when := &WhenClause{}
		if platforms, ok := whenData["platform"].([]interface{}); ok {
			for _, p := range platforms {
				if str, ok := p.(string); ok {
					when.Platform = append(when.Platform, str)
				}
			}
		}
		s.When = when
	}

	s.Params = make(map[string]interface{}, len(stepMap))
	for k, v := range stepMap {
		if k == "action" || k == "when" {
			continue
		}
		s.Params[k] = v
	}
	return nil
}

// ToMap reconstructs the flat table representation ToTOML writes.
func (s Step) ToMap() map[string]interface{} {
	result := map[string]interface{}{"action": s.Action}
	if s.When != nil && !s.When.IsEmpty() {
		whenMap := map[string]interface{}{}
		if len(s.When.Platform) > 0 {
			whenMap["platform"] = s.When.Platform
		}
		result["when"] = whenMap
	}
	for k, v := range s.Params {
		result[k] = v
	}
	return result
}

// WhenClause restricts a custom step to a set of platform tuples
// ("os-vendor-version" or "any"). Matches compares each entry with the
// current platform string by exact string equality; only the literal
// entry "any" acts as a wildcard.
type WhenClause struct {
	Platform []string `toml:"platform,omitempty"`
}

// IsEmpty reports whether the clause has no conditions.
func (w *WhenClause) IsEmpty() bool {
	return w == nil || len(w.Platform) == 0
}

// Matches reports whether the clause permits the given platform
// string (already normalized by the caller, e.g. via platform.String).
func (w *WhenClause) Matches(current string) bool {
	if w.IsEmpty() {
		return true
	}
	for _, p := range w.Platform {
		if p == current || p == "any" {
			return true
		}
	}
	return false
}

// ToTOML serializes the recipe back to TOML, used by recipe writers
// (e.g. a future `mkrecipe` tool) and by tests asserting round-trip
// stability.
func (r *Recipe) ToTOML() ([]byte, error) {
	var buf strings.Builder

	fmt.Fprintf(&buf, "name = %q\n", r.Name)
	fmt.Fprintf(&buf, "version = %q\n", r.Version)
	fmt.Fprintf(&buf, "revision = %d\n", r.Revision)
	if r.Homepage != "" {
		fmt.Fprintf(&buf, "homepage = %q\n", r.Homepage)
	}
	if r.Platform != "" {
		fmt.Fprintf(&buf, "platform = %q\n", r.Platform)
	}
	if len(r.Dependencies) > 0 {
		writeStringSlice(&buf, "dependencies", r.Dependencies)
	}
	if len(r.ConfigureArgs) > 0 {
		writeStringSlice(&buf, "configure_args", r.ConfigureArgs)
	}
	buf.WriteString("\n")

	for _, src := range r.Sources {
		buf.WriteString("[[sources]]\n")
		fmt.Fprintf(&buf, "url = %q\n", src.URL)
		if src.Checksum != "" {
			fmt.Fprintf(&buf, "checksum = %q\n", src.Checksum)
		}
		if src.Dest != "" {
			fmt.Fprintf(&buf, "dest = %q\n", src.Dest)
		}
		buf.WriteString("\n")
	}

	for _, p := range r.Patches {
		buf.WriteString("[[patches]]\n")
		if p.URL != "" {
			fmt.Fprintf(&buf, "url = %q\n", p.URL)
		}
		if p.Data != "" {
			fmt.Fprintf(&buf, "data = %q\n", p.Data)
		}
		if p.Checksum != "" {
			fmt.Fprintf(&buf, "checksum = %q\n", p.Checksum)
		}
		buf.WriteString("\n")
	}

	if len(r.Envvars) > 0 {
		buf.WriteString("[envvars]\n")
		writeSortedMap(&buf, r.Envvars)
		buf.WriteString("\n")
	}
	if len(r.BuildEnvvars) > 0 {
		buf.WriteString("[build_envvars]\n")
		writeSortedMap(&buf, r.BuildEnvvars)
		buf.WriteString("\n")
	}

	if r.VersionSource != nil {
		buf.WriteString("[version_source]\n")
		fmt.Fprintf(&buf, "github_repo = %q\n", r.VersionSource.GitHubRepo)
		if r.VersionSource.TagPrefix != "" {
			fmt.Fprintf(&buf, "tag_prefix = %q\n", r.VersionSource.TagPrefix)
		}
		if r.VersionSource.Format != "" {
			fmt.Fprintf(&buf, "format = %q\n", r.VersionSource.Format)
		}
		buf.WriteString("\n")
	}

	for _, step := range r.Install.Steps {
		buf.WriteString("[[install.steps]]\n")
		enc := toml.NewEncoder(&buf)
		if err := enc.Encode(step.ToMap()); err != nil {
			return nil, fmt.Errorf("encode step: %w", err)
		}
		buf.WriteString("\n")
	}

	return []byte(buf.String()), nil
}

func writeStringSlice(buf *strings.Builder, key string, values []string) {
	fmt.Fprintf(buf, "%s = [", key)
	for i, v := range values {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(buf, "%q", v)
	}
	buf.WriteString("]\n")
}

func writeSortedMap(buf *strings.Builder, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s = %q\n", k, m[k])
	}
}
