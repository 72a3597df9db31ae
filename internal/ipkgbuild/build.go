// Package ipkgbuild drives a recipe through the build pipeline (spec
// §4.9): fetch and verify sources, extract, patch, run the install
// step inside an environment, capture the file diff the step produced
// under the prefix, and bundle it as a platform-tagged artifact.
package ipkgbuild

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pmuller/ipkg/internal/archive"
	"github.com/pmuller/ipkg/internal/environment"
	"github.com/pmuller/ipkg/internal/fetch"
	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/pkgartifact"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/recipe"
)

// Builder owns the collaborators every build needs.
type Builder struct {
	Fetcher  *fetch.Fetcher
	Platform platform.Platform
	Log      ipkglog.Logger
}

// New returns a Builder with the given fetcher, tagged with plat.
func New(fetcher *fetch.Fetcher, plat platform.Platform, log ipkglog.Logger) *Builder {
	if log == nil {
		log = ipkglog.Default()
	}
	return &Builder{Fetcher: fetcher, Platform: plat, Log: log}
}

// Options tunes a single build.
type Options struct {
	// Env is the environment to build inside. Nil creates an
	// ephemeral one under the build directory, discarded afterwards.
	Env *environment.Environment

	// Repo resolves build-time dependencies not yet installed in the
	// environment.
	Repo environment.Repository

	// KeepBuildDir leaves the temporary build directory in place for
	// inspection.
	KeepBuildDir bool
}

// Build runs the full pipeline for r and writes the resulting
// artifact into packageDir, returning the artifact path. Whatever the
// install step dropped under the prefix is removed again before
// returning, success or not, so the environment ends where it
// started.
func (b *Builder) Build(ctx context.Context, r *recipe.Recipe, packageDir string, opts Options) (string, error) {
	buildDir, err := os.MkdirTemp("", "ipkg-build-"+r.Name+"-")
	if err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create build directory")
	}
	if !opts.KeepBuildDir {
		defer os.RemoveAll(buildDir)
	} else {
		b.Log.Info("keeping build directory", "path", buildDir)
	}

	env := opts.Env
	if env == nil {
		env, err = environment.New(filepath.Join(buildDir, "env"), environment.Options{
			InheritEnv: true,
			Platform:   b.Platform,
			Log:        b.Log,
		})
		if err != nil {
			return "", err
		}
	}

	for name, value := range r.BuildEnvvars {
		env.Vars().Set(name, environment.Scalar(environment.ExpandDirs(value, env.Directories())))
	}

	installedDeps, err := b.installDependencies(ctx, r, env, opts.Repo)
	if err != nil {
		return "", err
	}
	defer b.uninstallDependencies(env, installedDeps)

	sourceDir, err := b.fetchSources(ctx, r, buildDir)
	if err != nil {
		return "", err
	}

	if err := b.applyPatches(ctx, r, env, sourceDir, buildDir); err != nil {
		return "", err
	}

	before, err := pkgartifact.SnapshotFiles(env.Prefix)
	if err != nil {
		return "", err
	}

	// From here on the prefix may hold files from a partial install
	// step; clean them up even on failure.
	artifactPath, err := b.installAndCapture(ctx, r, env, sourceDir, packageDir, before)
	if err != nil {
		b.cleanupCaptured(env, before)
		return "", err
	}
	return artifactPath, nil
}

func (b *Builder) installAndCapture(ctx context.Context, r *recipe.Recipe, env *environment.Environment, sourceDir, packageDir string, before map[string]bool) (string, error) {
	if err := b.runInstallStep(ctx, r, env, sourceDir); err != nil {
		return "", err
	}

	after, err := pkgartifact.SnapshotFiles(env.Prefix)
	if err != nil {
		return "", err
	}
	captured := filterStateFiles(pkgartifact.Diff(before, after))
	if len(captured) == 0 {
		return "", ipkgerr.New(ipkgerr.ExecutionFailed,
			"recipe %s installed no files under %s", r.Name, env.Prefix)
	}

	meta, err := b.composeMeta(r, env, captured)
	if err != nil {
		return "", err
	}
	artifactPath, err := pkgartifact.Write(meta, env.Prefix, packageDir)
	if err != nil {
		return "", err
	}

	b.cleanupCaptured(env, before)
	b.Log.Info("built package", "artifact", artifactPath)
	return artifactPath, nil
}

// installDependencies installs every declared dependency the
// environment does not already satisfy, returning the installed names
// in order for the later uninstall.
func (b *Builder) installDependencies(ctx context.Context, r *recipe.Recipe, env *environment.Environment, repo environment.Repository) ([]string, error) {
	var installed []string
	for _, depStr := range r.Dependencies {
		req, err := ipkgversion.ParseRequirement(depStr)
		if err != nil {
			return installed, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "recipe %s dependency %q", r.Name, depStr)
		}
		if m, ok := env.Installed(req.Name); ok && req.Satisfies(ipkgversion.Parse(m.Version)) {
			continue
		}
		if repo == nil {
			return installed, ipkgerr.New(ipkgerr.NotFound,
				"recipe %s dependency %q is not installed and no repository is configured", r.Name, depStr)
		}
		art, err := repo.BestArtifact(req)
		if err != nil {
			return installed, err
		}
		if err := env.InstallArtifact(ctx, art, repo); err != nil {
			return installed, err
		}
		installed = append(installed, req.Name)
	}
	return installed, nil
}

// uninstallDependencies removes build-time dependencies in reverse
// install order, best-effort.
func (b *Builder) uninstallDependencies(env *environment.Environment, names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		if err := env.Uninstall(names[i]); err != nil {
			b.Log.Warn("failed to uninstall build dependency", "name", names[i], "error", err)
		}
	}
}

// fetchSources downloads, verifies, and extracts every source of the
// recipe under buildDir/sources, returning the working directory for
// subsequent commands: the single top-level directory of the first
// source.
func (b *Builder) fetchSources(ctx context.Context, r *recipe.Recipe, buildDir string) (string, error) {
	if len(r.Sources) == 0 {
		// Recipes without sources (metapackages) build from an empty
		// working directory.
		dir := filepath.Join(buildDir, "sources")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", dir)
		}
		return dir, nil
	}

	downloadDir := filepath.Join(buildDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", downloadDir)
	}

	var workDir string
	for i, src := range r.Sources {
		local, err := b.fetchFile(ctx, src.URL, src.Checksum, downloadDir)
		if err != nil {
			return "", err
		}

		dest := filepath.Join(buildDir, "sources")
		if src.Dest != "" {
			dest = filepath.Join(dest, src.Dest)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", dest)
		}

		root, err := archive.Extract(local, dest)
		if err != nil {
			return "", err
		}
		if i == 0 {
			workDir = root
		}
	}
	return workDir, nil
}

// fetchFile opens location through the fetcher, verifies its declared
// checksum, and materializes it in destDir under its base name.
func (b *Builder) fetchFile(ctx context.Context, location, checksum, destDir string) (string, error) {
	expected, algo := splitChecksum(checksum)
	src, err := b.Fetcher.Open(ctx, location, expected, algo)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := src.Verify(); err != nil {
		return "", err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "rewind %s", location)
	}

	local := filepath.Join(destDir, filepath.Base(strings.TrimSuffix(location, "/")))
	out, err := os.Create(local)
	if err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", local)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "write %s", local)
	}
	return local, nil
}

// splitChecksum parses "algo:hex" declarations; a bare hex digest
// means sha256.
func splitChecksum(checksum string) (expected string, algo fetch.HashAlgorithm) {
	if checksum == "" {
		return "", fetch.SHA256
	}
	if algoStr, hex, ok := strings.Cut(checksum, ":"); ok {
		return hex, fetch.HashAlgorithm(algoStr)
	}
	return checksum, fetch.SHA256
}

// applyPatches applies each patch in declaration order by piping its
// content to `patch -p0` inside the source directory.
func (b *Builder) applyPatches(ctx context.Context, r *recipe.Recipe, env *environment.Environment, sourceDir, buildDir string) error {
	for i, p := range r.Patches {
		data := []byte(p.Data)
		if p.URL != "" {
			local, err := b.fetchFile(ctx, p.URL, p.Checksum, filepath.Join(buildDir, "downloads"))
			if err != nil {
				return err
			}
			data, err = os.ReadFile(local)
			if err != nil {
				return ipkgerr.Wrap(ipkgerr.IoError, err, "read patch %s", local)
			}
		}
		if _, err := env.Execute(ctx, []string{"patch", "-p0"}, environment.ExecOptions{
			Dir:  sourceDir,
			Data: data,
		}); err != nil {
			return ipkgerr.Wrap(ipkgerr.ExecutionFailed, err, "recipe %s patch %d", r.Name, i)
		}
	}
	return nil
}

// composeMeta assembles the artifact manifest for a finished build.
func (b *Builder) composeMeta(r *recipe.Recipe, env *environment.Environment, files []string) (pkgartifact.Meta, error) {
	deps := make([]string, 0, len(r.Dependencies))
	for _, depStr := range r.Dependencies {
		req, err := ipkgversion.ParseRequirement(depStr)
		if err != nil {
			return pkgartifact.Meta{}, err
		}
		deps = append(deps, req.String())
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return pkgartifact.Meta{
		Name:         r.Name,
		Version:      r.Version,
		Revision:     r.Revision,
		Platform:     b.Platform.String(),
		Dependencies: deps,
		Homepage:     r.Homepage,
		Hostname:     hostname,
		Timestamp:    time.Now().UTC(),
		Files:        files,
		BuildPrefix:  env.Prefix,
		Envvars:      r.Envvars,
	}, nil
}

// cleanupCaptured removes every file under the prefix that was not
// part of the pre-install snapshot, then prunes emptied directories.
// Failures are logged, not fatal: cleanup is best-effort by contract.
func (b *Builder) cleanupCaptured(env *environment.Environment, before map[string]bool) {
	after, err := pkgartifact.SnapshotFiles(env.Prefix)
	if err != nil {
		b.Log.Warn("failed to re-scan prefix for cleanup", "error", err)
		return
	}
	captured := filterStateFiles(pkgartifact.Diff(before, after))

	var dirs []string
	for _, rel := range captured {
		full := filepath.Join(env.Prefix, rel)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			b.Log.Warn("failed to remove captured file", "path", full, "error", err)
		}
		dirs = append(dirs, filepath.Dir(full))
	}

	// Deepest directories first, so nested empties collapse.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	layout := make(map[string]bool)
	for _, d := range env.Directories() {
		layout[d] = true
	}
	for _, dir := range dirs {
		for strings.HasPrefix(dir, env.Prefix) && dir != env.Prefix && !layout[dir] {
			entries, err := os.ReadDir(dir)
			if err != nil || len(entries) > 0 {
				break
			}
			if err := os.Remove(dir); err != nil {
				break
			}
			dir = filepath.Dir(dir)
		}
	}
}

// filterStateFiles drops the environment's own state files from a
// snapshot diff: they change as a side effect of dependency installs,
// not as build output.
func filterStateFiles(files []string) []string {
	var out []string
	for _, f := range files {
		if f == environment.MetaFile || f == ".ipkg.lock" {
			continue
		}
		out = append(out, f)
	}
	return out
}
