package repository

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/recipe"
	"github.com/pmuller/ipkg/internal/solver"
)

// RecipeRepository is a directory tree of declarative recipes:
// base/<name>/<name>-<version>-<revision>.toml.
type RecipeRepository struct {
	base    string
	recipes map[string][]*recipe.Recipe
	log     ipkglog.Logger
}

// OpenRecipes scans base once and parses every recipe file. Files
// that fail to parse are skipped with a warning; the scan proceeds.
func OpenRecipes(base string, log ipkglog.Logger) (*RecipeRepository, error) {
	if log == nil {
		log = ipkglog.Default()
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.NotFound, err, "recipe repository %s", base)
	}
	if !info.IsDir() {
		return nil, ipkgerr.New(ipkgerr.InvalidInput, "recipe repository %s is not a directory", base)
	}

	repo := &RecipeRepository{
		base:    base,
		recipes: make(map[string][]*recipe.Recipe),
		log:     log,
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "read %s", base)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkgDir := filepath.Join(base, entry.Name())
		files, err := os.ReadDir(pkgDir)
		if err != nil {
			log.Warn("skipping unreadable recipe directory", "dir", pkgDir, "error", err)
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".toml") {
				continue
			}
			path := filepath.Join(pkgDir, file.Name())
			r, err := recipe.ParseFile(path)
			if err != nil {
				log.Warn("skipping invalid recipe", "path", path, "error", err)
				continue
			}
			repo.recipes[r.Name] = append(repo.recipes[r.Name], r)
		}
	}

	for name := range repo.recipes {
		sortRecipesDescending(repo.recipes[name])
	}
	return repo, nil
}

func sortRecipesDescending(recipes []*recipe.Recipe) {
	sort.SliceStable(recipes, func(i, j int) bool {
		vi, vj := ipkgversion.Parse(recipes[i].Version), ipkgversion.Parse(recipes[j].Version)
		if c := vi.Compare(vj); c != 0 {
			return c > 0
		}
		return recipes[i].Revision > recipes[j].Revision
	})
}

// Base returns the repository's base directory.
func (r *RecipeRepository) Base() string { return r.base }

// All returns every recipe, grouped by name in sorted-name order and
// descending version within a name.
func (r *RecipeRepository) All() []*recipe.Recipe {
	names := make([]string, 0, len(r.recipes))
	for name := range r.recipes {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*recipe.Recipe
	for _, name := range names {
		out = append(out, r.recipes[name]...)
	}
	return out
}

// Find returns every recipe satisfying req, sorted descending by
// (version, revision).
func (r *RecipeRepository) Find(req ipkgversion.Requirement) []*recipe.Recipe {
	var out []*recipe.Recipe
	for _, rec := range r.recipes[req.Name] {
		if !recipeMatches(req, rec) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func recipeMatches(req ipkgversion.Requirement, rec *recipe.Recipe) bool {
	reqPlat, err := platform.Parse(req.Platform)
	if err != nil {
		return false
	}
	// A recipe with no platform declaration builds anywhere.
	recPlat := platform.Platform{}
	if rec.Platform != "" {
		recPlat, err = platform.Parse(rec.Platform)
		if err != nil {
			return false
		}
	}
	if !reqPlat.Compatible(recPlat) {
		return false
	}
	return req.Satisfies(ipkgversion.Parse(rec.Version))
}

// Best returns the preferred recipe for req.
func (r *RecipeRepository) Best(req ipkgversion.Requirement) (*recipe.Recipe, error) {
	recipes := r.Find(req)
	if len(recipes) == 0 {
		return nil, ipkgerr.New(ipkgerr.NotFound, "requirement %s not found in recipe repository %s", req.String(), r.base)
	}
	return recipes[0], nil
}

// FindObjects implements solver.Source.
func (r *RecipeRepository) FindObjects(req ipkgversion.Requirement) ([]solver.Object, error) {
	recipes := r.Find(req)
	objs := make([]solver.Object, len(recipes))
	for i, rec := range recipes {
		objs[i] = solver.RecipeObject{Recipe: rec}
	}
	return objs, nil
}
