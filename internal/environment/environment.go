// Package environment implements the relocatable installation prefix
// (spec §4.7): a fixed directory layout, a variable set computed from
// canonical and per-package overlays, persistent meta about installed
// packages, and transactional install/uninstall of binary artifacts
// with post-extraction prefix rewriting.
package environment

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/pkgartifact"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/rewrite"
	"github.com/pmuller/ipkg/internal/runcmd"
)

// Repository resolves a requirement to an artifact whose Path is a
// local file ready for extraction. The package repository implements
// it; Install takes it as an interface so the environment never
// depends on repository internals.
type Repository interface {
	BestArtifact(req ipkgversion.Requirement) (*pkgartifact.Artifact, error)
}

// Options tunes environment construction.
type Options struct {
	// Idempotent makes New tolerate an existing directory layout
	// instead of failing fast on conflict.
	Idempotent bool

	// InheritEnv seeds the variable set from the invoking process's
	// environment. When false the seed is empty.
	InheritEnv bool

	// Platform overrides the platform tag used for requirement
	// matching. Zero value means platform.Current().
	Platform platform.Platform

	Log ipkglog.Logger
}

// Environment is a relocatable prefix plus its in-memory state.
type Environment struct {
	Prefix string

	dirs     map[string]string
	vars     *VarSet
	meta     *Meta
	platform platform.Platform
	log      ipkglog.Logger
}

// directoryLayout returns the fixed directory map for a prefix
// (spec §3): man and pkgconfig are nested under share and lib.
func directoryLayout(prefix string) map[string]string {
	return map[string]string{
		"prefix":    prefix,
		"bin":       filepath.Join(prefix, "bin"),
		"sbin":      filepath.Join(prefix, "sbin"),
		"include":   filepath.Join(prefix, "include"),
		"lib":       filepath.Join(prefix, "lib"),
		"share":     filepath.Join(prefix, "share"),
		"man":       filepath.Join(prefix, "share", "man"),
		"pkgconfig": filepath.Join(prefix, "lib", "pkgconfig"),
		"tmp":       filepath.Join(prefix, "tmp"),
	}
}

// New creates the directory layout under prefix and returns the
// environment. Without Options.Idempotent an already-existing prefix
// directory is a conflict.
func New(prefix string, opts Options) (*Environment, error) {
	abs, err := filepath.Abs(prefix)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "resolve prefix %s", prefix)
	}

	if !opts.Idempotent {
		if _, err := os.Stat(abs); err == nil {
			return nil, ipkgerr.New(ipkgerr.IoError, "environment prefix %s already exists", abs)
		}
	}

	dirs := directoryLayout(abs)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", dir)
		}
	}
	return Open(abs, opts)
}

// Open loads an existing environment rooted at prefix.
func Open(prefix string, opts Options) (*Environment, error) {
	abs, err := filepath.Abs(prefix)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "resolve prefix %s", prefix)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.NotFound, err, "environment %s", abs)
	}
	if !info.IsDir() {
		return nil, ipkgerr.New(ipkgerr.InvalidInput, "environment prefix %s is not a directory", abs)
	}

	meta, err := loadMeta(abs)
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = ipkglog.Default()
	}
	plat := opts.Platform
	if plat == (platform.Platform{}) {
		plat = platform.Current()
	}

	env := &Environment{
		Prefix:   abs,
		dirs:     directoryLayout(abs),
		meta:     meta,
		platform: plat,
		log:      log,
	}

	if opts.InheritEnv {
		env.vars = VarSetFromEnviron(os.Environ())
	} else {
		env.vars = NewVarSet()
	}
	env.applyCanonicalVars()
	env.applyPackageVars()
	return env, nil
}

// Directories returns a copy of the directory map.
func (e *Environment) Directories() map[string]string {
	out := make(map[string]string, len(e.dirs))
	for k, v := range e.dirs {
		out[k] = v
	}
	return out
}

// Vars exposes the live variable set.
func (e *Environment) Vars() *VarSet { return e.vars }

// Platform returns the platform tag this environment matches
// requirements against.
func (e *Environment) Platform() platform.Platform { return e.platform }

// dynamicLibraryPathVar is DYLD_LIBRARY_PATH on Darwin and
// LD_LIBRARY_PATH everywhere else.
func dynamicLibraryPathVar(osName string) string {
	if osName == "darwin" || osName == "osx" {
		return "DYLD_LIBRARY_PATH"
	}
	return "LD_LIBRARY_PATH"
}

// applyCanonicalVars overlays the environment's own variables on the
// seed (spec §4.7 overlay 1).
func (e *Environment) applyCanonicalVars() {
	e.vars.Set("IPKG_ENVIRONMENT", Scalar(e.Prefix))
	e.vars.Set("TMPDIR", Scalar(e.dirs["tmp"]))
	if e.vars.GetString("HOME") == "" {
		e.vars.Set("HOME", Scalar("/"))
	}
	e.vars.Set("PS1", Scalar("("+filepath.Base(e.Prefix)+") \\w> "))

	e.vars.PrependPath("PATH", e.dirs["sbin"])
	e.vars.PrependPath("PATH", e.dirs["bin"])
	e.vars.PrependPath("C_INCLUDE_PATH", e.dirs["include"])
	e.vars.PrependPath("MANPATH", e.dirs["man"])
	e.vars.PrependPath("PKG_CONFIG_PATH", e.dirs["pkgconfig"])
	e.vars.PrependPath(dynamicLibraryPathVar(e.platform.OSName), e.dirs["lib"])
}

// applyPackageVars overlays every installed package's envvars in
// package-name order (spec §4.7 overlay 2), with %(dir)s references
// expanded against the directory map.
func (e *Environment) applyPackageVars() {
	names := make([]string, 0, len(e.meta.Packages))
	for name := range e.meta.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e.mergeEnvvars(e.meta.Packages[name].Envvars)
	}
}

func (e *Environment) mergeEnvvars(envvars map[string]string) {
	keys := make([]string, 0, len(envvars))
	for k := range envvars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.vars.Set(k, Scalar(expandDirs(envvars[k], e.dirs)))
	}
}

// ExecOptions controls Execute.
type ExecOptions struct {
	Dir    string
	Stdin  io.Reader
	Data   []byte // written to a stdin pipe before waiting
	Stdout io.Writer
	Stderr io.Writer

	// Env overrides the environment's computed variable set.
	Env []string
}

// Execute spawns argv inside the environment: the child sees the
// computed variable set (unless overridden) and runs with cwd set to
// opts.Dir when given. Returns the exit code.
func (e *Environment) Execute(ctx context.Context, argv []string, opts ExecOptions) (int, error) {
	environ := opts.Env
	if environ == nil {
		environ = e.vars.Environ()
	}
	return runcmd.Run(ctx, argv, runcmd.Options{
		Dir:       opts.Dir,
		Env:       environ,
		Stdin:     opts.Stdin,
		StdinData: opts.Data,
		Stdout:    opts.Stdout,
		Stderr:    opts.Stderr,
	})
}

// InstalledPackages returns the installed metas sorted by name.
func (e *Environment) InstalledPackages() []pkgartifact.Meta {
	metas := make([]pkgartifact.Meta, 0, len(e.meta.Packages))
	for _, m := range e.meta.Packages {
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas
}

// Installed returns the meta for name when installed.
func (e *Environment) Installed(name string) (pkgartifact.Meta, bool) {
	m, ok := e.meta.Packages[name]
	return m, ok
}

// satisfiesInstalled reports whether an installed package satisfies
// req: name present, the package's platform compatible with both the
// environment's and the requirement's, version in range.
func (e *Environment) satisfiesInstalled(req ipkgversion.Requirement) bool {
	m, ok := e.meta.Packages[req.Name]
	if !ok {
		return false
	}
	pkgPlat, err := platform.Parse(m.Platform)
	if err != nil {
		return false
	}
	if !e.platform.Compatible(pkgPlat) {
		return false
	}
	reqPlat, err := platform.Parse(req.Platform)
	if err != nil || !reqPlat.Compatible(pkgPlat) {
		return false
	}
	return req.Satisfies(ipkgversion.Parse(m.Version))
}

// Install resolves pathOrSpec — a local artifact file path first, a
// package spec against repo second — and installs it with its
// dependency closure (spec §4.7 install).
func (e *Environment) Install(ctx context.Context, pathOrSpec string, repo Repository) error {
	lock, err := acquireLock(e.Prefix)
	if err != nil {
		return err
	}
	defer lock.release()

	art, err := e.resolve(pathOrSpec, repo)
	if err != nil {
		return err
	}
	return e.installArtifact(ctx, art, repo)
}

// InstallArtifact installs an already-opened artifact (used by the
// build pipeline, which holds artifacts it just produced).
func (e *Environment) InstallArtifact(ctx context.Context, art *pkgartifact.Artifact, repo Repository) error {
	lock, err := acquireLock(e.Prefix)
	if err != nil {
		return err
	}
	defer lock.release()

	return e.installArtifact(ctx, art, repo)
}

func (e *Environment) resolve(pathOrSpec string, repo Repository) (*pkgartifact.Artifact, error) {
	if info, err := os.Stat(pathOrSpec); err == nil && info.Mode().IsRegular() {
		return pkgartifact.Open(pathOrSpec)
	}

	spec, err := ipkgversion.ParsePackageSpec(pathOrSpec)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, ipkgerr.New(ipkgerr.NotFound, "package %q: no local file and no repository configured", pathOrSpec)
	}
	req, err := spec.AsRequirement("")
	if err != nil {
		return nil, err
	}
	return repo.BestArtifact(req)
}

func (e *Environment) installArtifact(ctx context.Context, art *pkgartifact.Artifact, repo Repository) error {
	meta := art.Meta

	if existing, ok := e.meta.Packages[meta.Name]; ok {
		if existing.Version == meta.Version && existing.Revision == meta.Revision {
			e.log.Warn("package already installed",
				"name", meta.Name, "version", meta.Version, "revision", meta.Revision)
			return nil
		}
		if err := e.uninstall(meta.Name); err != nil {
			return err
		}
	}

	for _, depStr := range meta.Dependencies {
		req, err := ipkgversion.ParseRequirement(depStr)
		if err != nil {
			return ipkgerr.Wrap(ipkgerr.InvalidInput, err, "package %s dependency %q", meta.Name, depStr)
		}
		if e.satisfiesInstalled(req) {
			continue
		}
		if repo == nil {
			return ipkgerr.New(ipkgerr.NotFound,
				"package %s dependency %q is not installed and no repository is configured", meta.Name, depStr)
		}
		depArt, err := repo.BestArtifact(req)
		if err != nil {
			return err
		}
		if err := e.installArtifact(ctx, depArt, repo); err != nil {
			return err
		}
	}

	if err := art.ExtractFiles(e.Prefix); err != nil {
		return err
	}

	rw := rewrite.New(meta.BuildPrefix, e.Prefix, e.log)
	if err := rw.RewriteAll(ctx, e.Prefix, meta.Files); err != nil {
		return err
	}

	e.meta.Packages[meta.Name] = meta
	if err := saveMeta(e.Prefix, e.meta); err != nil {
		return err
	}

	e.mergeEnvvars(meta.Envvars)
	e.log.Info("installed package", "name", meta.Name, "version", meta.Version, "revision", meta.Revision)
	return nil
}

// Uninstall removes an installed package: every file it owns, any
// directories the removal emptied, and its meta entry.
func (e *Environment) Uninstall(name string) error {
	lock, err := acquireLock(e.Prefix)
	if err != nil {
		return err
	}
	defer lock.release()

	return e.uninstall(name)
}

func (e *Environment) uninstall(name string) error {
	meta, ok := e.meta.Packages[name]
	if !ok {
		return ipkgerr.New(ipkgerr.NotFound, "package %q is not installed", name)
	}

	for _, rel := range meta.Files {
		full := filepath.Join(e.Prefix, rel)
		// Remove operates on the entry itself, so a symlink's target
		// is never touched.
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return ipkgerr.Wrap(ipkgerr.IoError, err, "remove %s", full)
		}
		e.removeEmptyParents(filepath.Dir(full))
	}

	delete(e.meta.Packages, name)
	if err := saveMeta(e.Prefix, e.meta); err != nil {
		return err
	}
	e.log.Info("uninstalled package", "name", name)
	return nil
}

// removeEmptyParents deletes now-empty directories from dir up toward
// the prefix, stopping at the first non-empty one. The layout
// directories themselves are left in place.
func (e *Environment) removeEmptyParents(dir string) {
	layout := make(map[string]bool, len(e.dirs))
	for _, d := range e.dirs {
		layout[d] = true
	}

	for strings.HasPrefix(dir, e.Prefix) && dir != e.Prefix && !layout[dir] {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Config exposes the opaque config map of the persistent meta.
func (e *Environment) Config() map[string]any { return e.meta.Config }

// SaveMeta persists the current meta document, for callers that
// mutate Config directly.
func (e *Environment) SaveMeta() error { return saveMeta(e.Prefix, e.meta) }
