package recipe

import (
	"strings"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkgversion"
)

// Validate enforces the structural invariants of a parsed recipe:
// required fields are present, referenced version/requirement strings
// parse, and patch entries are well-formed. It does not touch the
// network or a repository — that belongs to the build pipeline.
func Validate(r *Recipe) error {
	if r.Name == "" {
		return ipkgerr.New(ipkgerr.InvalidInput, "recipe: name is required")
	}
	if strings.ContainsAny(r.Name, " \t\n") {
		return ipkgerr.New(ipkgerr.InvalidInput, "recipe %q: name must not contain whitespace", r.Name)
	}
	if r.Version == "" {
		return ipkgerr.New(ipkgerr.InvalidInput, "recipe %q: version is required", r.Name)
	}
	if r.Revision < 0 {
		return ipkgerr.New(ipkgerr.InvalidInput, "recipe %q: revision must not be negative", r.Name)
	}

	for _, dep := range r.Dependencies {
		if _, err := ipkgversion.ParseRequirement(dep); err != nil {
			return ipkgerr.Wrap(ipkgerr.InvalidInput, err, "recipe %q: invalid dependency %q", r.Name, dep)
		}
	}

	for i, src := range r.Sources {
		if src.URL == "" {
			return ipkgerr.New(ipkgerr.InvalidInput, "recipe %q: sources[%d] has no url", r.Name, i)
		}
	}

	for i, p := range r.Patches {
		if p.URL == "" && p.Data == "" {
			return ipkgerr.New(ipkgerr.InvalidInput, "recipe %q: patches[%d] must set url or data", r.Name, i)
		}
		if p.URL != "" && p.Data != "" {
			return ipkgerr.New(ipkgerr.InvalidInput, "recipe %q: patches[%d] cannot set both url and data", r.Name, i)
		}
	}

	for i, step := range r.Install.Steps {
		if step.Action == "" {
			return ipkgerr.New(ipkgerr.InvalidInput, "recipe %q: install.steps[%d] has no action", r.Name, i)
		}
	}

	if r.VersionSource != nil && r.VersionSource.GitHubRepo == "" {
		return ipkgerr.New(ipkgerr.InvalidInput, "recipe %q: version_source requires github_repo", r.Name)
	}

	return nil
}
