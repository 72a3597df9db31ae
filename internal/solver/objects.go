package solver

import (
	"fmt"
	"sort"

	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/pkgartifact"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/recipe"
)

// Object is anything the solver can place in its graph: a recipe to
// build, a binary package available in a repository, or a package
// already installed in an environment.
type Object interface {
	// ID is the object's identity; adding two objects with the same
	// ID to one solver is an error.
	ID() string
	Name() string
	Version() ipkgversion.Version
	Revision() int
	Platform() platform.Platform

	// Requirements returns the object's parsed dependency list.
	Requirements() ([]ipkgversion.Requirement, error)
}

// PackageObject wraps a binary package's meta. FromEnv marks packages
// discovered in an environment: their dependencies are considered
// already resolved, and solve omits them from the result when
// ignoreInstalled is set.
type PackageObject struct {
	Meta    pkgartifact.Meta
	FromEnv bool
}

func (p PackageObject) ID() string {
	return "pkg:" + p.Meta.Filename()
}

func (p PackageObject) Name() string                { return p.Meta.Name }
func (p PackageObject) Version() ipkgversion.Version { return ipkgversion.Parse(p.Meta.Version) }
func (p PackageObject) Revision() int               { return p.Meta.Revision }

func (p PackageObject) Platform() platform.Platform {
	plat, err := platform.Parse(p.Meta.Platform)
	if err != nil {
		return platform.Platform{} // all-wildcard
	}
	return plat
}

func (p PackageObject) Requirements() ([]ipkgversion.Requirement, error) {
	return parseRequirements(p.Meta.Dependencies)
}

// RecipeObject wraps a recipe that would have to be built to satisfy
// a requirement.
type RecipeObject struct {
	Recipe *recipe.Recipe
}

func (r RecipeObject) ID() string {
	return fmt.Sprintf("recipe:%s-%s-%d", r.Recipe.Name, r.Recipe.Version, r.Recipe.Revision)
}

func (r RecipeObject) Name() string                { return r.Recipe.Name }
func (r RecipeObject) Version() ipkgversion.Version { return ipkgversion.Parse(r.Recipe.Version) }
func (r RecipeObject) Revision() int               { return r.Recipe.Revision }

func (r RecipeObject) Platform() platform.Platform {
	if r.Recipe.Platform == "" {
		return platform.Platform{}
	}
	plat, err := platform.Parse(r.Recipe.Platform)
	if err != nil {
		return platform.Platform{}
	}
	return plat
}

func (r RecipeObject) Requirements() ([]ipkgversion.Requirement, error) {
	return parseRequirements(r.Recipe.Dependencies)
}

func parseRequirements(deps []string) ([]ipkgversion.Requirement, error) {
	reqs := make([]ipkgversion.Requirement, 0, len(deps))
	for _, dep := range deps {
		req, err := ipkgversion.ParseRequirement(dep)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Source is a repository the solver can ask for satisfiers: the
// package repository answers with PackageObjects, the recipe
// repository with RecipeObjects.
type Source interface {
	FindObjects(req ipkgversion.Requirement) ([]Object, error)
}

// Selector picks one satisfier among several candidates for the same
// requirement.
type Selector func(candidates []Object) Object

// HighestVersion is the default Selector: the greatest (version,
// revision) pair wins.
func HighestVersion(candidates []Object) Object {
	if len(candidates) == 0 {
		return nil
	}
	sorted := append([]Object(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Version().Compare(sorted[j].Version()); c != 0 {
			return c > 0
		}
		return sorted[i].Revision() > sorted[j].Revision()
	})
	return sorted[0]
}
