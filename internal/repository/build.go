package repository

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pmuller/ipkg/internal/environment"
	"github.com/pmuller/ipkg/internal/ipkgbuild"
	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/recipe"
)

// BuildFormula builds one recipe into this repository: the artifact
// is produced directly under base/<name>/ and added to the index.
// Local repositories only.
func (r *PackageRepository) BuildFormula(ctx context.Context, rec *recipe.Recipe, builder *ipkgbuild.Builder, env *environment.Environment) (string, error) {
	if r.remote {
		return "", ipkgerr.New(ipkgerr.InvalidInput, "cannot build into remote repository %s", r.base)
	}

	pkgDir := filepath.Join(r.base, rec.Name)
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", pkgDir)
	}

	artifactPath, err := builder.Build(ctx, rec, pkgDir, ipkgbuild.Options{Env: env, Repo: r})
	if err != nil {
		return "", err
	}
	if err := r.Add(artifactPath); err != nil {
		return "", err
	}
	return artifactPath, nil
}

// hasPackage reports whether the index already holds the exact
// (name, version, revision) a recipe would produce.
func (r *PackageRepository) hasPackage(rec *recipe.Recipe) bool {
	for _, m := range r.index[rec.Name] {
		if m.Version == rec.Version && m.Revision == rec.Revision {
			return true
		}
	}
	return false
}

// BuildFormulas builds every recipe of recipeRepo not yet present as
// a package, dependencies first: a recipe whose dependency is still
// queued behind it is re-queued at the end, so dependency builds land
// before their dependents (assuming no cycle between unbuilt
// recipes). Recipes with a dependency satisfiable by neither the
// environment, the repository, nor the queue are skipped with a
// warning. Returns the paths of the newly built artifacts.
func (r *PackageRepository) BuildFormulas(ctx context.Context, recipeRepo *RecipeRepository, builder *ipkgbuild.Builder, env *environment.Environment) ([]string, error) {
	var queue []*recipe.Recipe
	for _, rec := range recipeRepo.All() {
		if !r.hasPackage(rec) {
			queue = append(queue, rec)
		}
	}

	var built []string
	deferrals := 0
	for len(queue) > 0 {
		rec := queue[0]
		queue = queue[1:]

		switch r.classifyDependencies(rec, queue, env) {
		case depsQueued:
			// A cycle between unbuilt recipes would defer forever;
			// give up once the whole queue has been cycled through
			// without progress.
			deferrals++
			if deferrals > len(queue)+1 {
				r.log.Warn("skipping recipe: dependency cycle among unbuilt recipes", "name", rec.Name)
				deferrals = 0
				continue
			}
			queue = append(queue, rec)
			continue
		case depsUnsatisfied:
			r.log.Warn("skipping recipe: unsatisfiable dependency", "name", rec.Name, "version", rec.Version)
			deferrals = 0
			continue
		}

		deferrals = 0
		artifactPath, err := r.BuildFormula(ctx, rec, builder, env)
		if err != nil {
			r.log.Warn("recipe build failed", "name", rec.Name, "version", rec.Version, "error", err)
			continue
		}
		built = append(built, artifactPath)
	}
	return built, nil
}

type depState int

const (
	depsReady depState = iota
	depsQueued
	depsUnsatisfied
)

// classifyDependencies inspects a recipe's dependencies against the
// remaining queue, the environment, and the repository index.
func (r *PackageRepository) classifyDependencies(rec *recipe.Recipe, queue []*recipe.Recipe, env *environment.Environment) depState {
	for _, depStr := range rec.Dependencies {
		req, err := ipkgversion.ParseRequirement(depStr)
		if err != nil {
			return depsUnsatisfied
		}

		queued := false
		for _, q := range queue {
			if q.Name == req.Name && req.Satisfies(ipkgversion.Parse(q.Version)) {
				queued = true
				break
			}
		}
		if queued {
			return depsQueued
		}

		if len(r.Find(req)) > 0 {
			continue
		}
		if env != nil {
			if m, ok := env.Installed(req.Name); ok && req.Satisfies(ipkgversion.Parse(m.Version)) {
				continue
			}
		}
		return depsUnsatisfied
	}
	return depsReady
}
