// Package repository implements the two repository flavors (spec
// §4.6): an indexed package repository of binary artifacts with
// per-artifact content hashes, and a directory tree of declarative
// recipes. Both answer find(requirement); both plug into the solver
// as satisfier sources.
package repository

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmuller/ipkg/internal/fetch"
	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/pkgartifact"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/solver"
)

// IndexFile is the repository index document at the base location.
const IndexFile = "repository.json"

// PackageRepository is an indexed set of binary artifacts rooted at a
// base location: a local directory or an http(s) URL.
type PackageRepository struct {
	base    string
	remote  bool
	index   map[string][]pkgartifact.Meta
	plat    platform.Platform
	fetcher *fetch.Fetcher
	log     ipkglog.Logger
}

// Create initializes an empty local package repository at base.
func Create(base string) (*PackageRepository, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "create repository %s", base)
	}
	repo := &PackageRepository{
		base:  base,
		index: make(map[string][]pkgartifact.Meta),
		plat:  platform.Current(),
		log:   ipkglog.Default(),
	}
	if err := repo.saveIndex(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Open loads a package repository's index. Remote bases (http/https)
// fetch repository.json through the fetcher; local bases read it from
// disk, tolerating absence (an empty repository).
func Open(ctx context.Context, base string, plat platform.Platform, fetcher *fetch.Fetcher, log ipkglog.Logger) (*PackageRepository, error) {
	if log == nil {
		log = ipkglog.Default()
	}
	repo := &PackageRepository{
		base:    strings.TrimRight(base, "/"),
		remote:  strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://"),
		index:   make(map[string][]pkgartifact.Meta),
		plat:    plat,
		fetcher: fetcher,
		log:     log,
	}

	if repo.remote {
		if fetcher == nil {
			return nil, ipkgerr.New(ipkgerr.InvalidInput, "remote repository %s requires a fetcher", base)
		}
		src, err := fetcher.Open(ctx, repo.base+"/"+IndexFile, "", fetch.SHA256)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "read remote index of %s", base)
		}
		if err := json.Unmarshal(data, &repo.index); err != nil {
			return nil, ipkgerr.Wrap(ipkgerr.MetaCorrupt, err, "parse index of %s", base)
		}
		return repo, nil
	}

	data, err := os.ReadFile(filepath.Join(repo.base, IndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return repo, nil
		}
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "read index of %s", base)
	}
	if err := json.Unmarshal(data, &repo.index); err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.MetaCorrupt, err, "parse index of %s", base)
	}
	return repo, nil
}

// Base returns the repository's base location.
func (r *PackageRepository) Base() string { return r.base }

// Names returns the indexed package names, sorted.
func (r *PackageRepository) Names() []string {
	names := make([]string, 0, len(r.index))
	for name := range r.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find returns every indexed meta satisfying req, sorted descending
// by (version, revision).
func (r *PackageRepository) Find(req ipkgversion.Requirement) []pkgartifact.Meta {
	var out []pkgartifact.Meta
	for _, m := range r.index[req.Name] {
		if !r.metaMatches(req, m) {
			continue
		}
		out = append(out, m)
	}
	sortMetasDescending(out)
	return out
}

func (r *PackageRepository) metaMatches(req ipkgversion.Requirement, m pkgartifact.Meta) bool {
	pkgPlat, err := platform.Parse(m.Platform)
	if err != nil {
		return false
	}
	if !r.plat.Compatible(pkgPlat) {
		return false
	}
	reqPlat, err := platform.Parse(req.Platform)
	if err != nil || !reqPlat.Compatible(pkgPlat) {
		return false
	}
	return req.Satisfies(ipkgversion.Parse(m.Version))
}

func sortMetasDescending(metas []pkgartifact.Meta) {
	sort.SliceStable(metas, func(i, j int) bool {
		vi, vj := ipkgversion.Parse(metas[i].Version), ipkgversion.Parse(metas[j].Version)
		if c := vi.Compare(vj); c != 0 {
			return c > 0
		}
		return metas[i].Revision > metas[j].Revision
	})
}

// Best returns the preferred satisfier for req: the head of the
// sorted Find result.
func (r *PackageRepository) Best(req ipkgversion.Requirement) (pkgartifact.Meta, error) {
	metas := r.Find(req)
	if len(metas) == 0 {
		return pkgartifact.Meta{}, ipkgerr.New(ipkgerr.NotFound, "requirement %s not found in repository %s", req.String(), r.base)
	}
	return metas[0], nil
}

// artifactLocation is where a meta's artifact lives relative to base.
func artifactLocation(m pkgartifact.Meta) string {
	return m.Name + "/" + m.Filename()
}

// BestArtifact resolves req to an opened artifact whose Path is a
// local file: directly for local repositories, downloaded (and
// checksum-verified against the index) for remote ones. Implements
// environment.Repository.
func (r *PackageRepository) BestArtifact(req ipkgversion.Requirement) (*pkgartifact.Artifact, error) {
	m, err := r.Best(req)
	if err != nil {
		return nil, err
	}
	return r.Localize(context.Background(), m)
}

// Localize materializes a meta's artifact as a local file.
func (r *PackageRepository) Localize(ctx context.Context, m pkgartifact.Meta) (*pkgartifact.Artifact, error) {
	if !r.remote {
		return pkgartifact.Open(filepath.Join(r.base, m.Name, m.Filename()))
	}

	src, err := r.fetcher.Open(ctx, r.base+"/"+artifactLocation(m), m.Checksum, fetch.SHA256)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	if err := src.Verify(); err != nil {
		return nil, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "rewind download of %s", m.Filename())
	}

	local := filepath.Join(os.TempDir(), m.Filename())
	out, err := os.Create(local)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", local)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "write %s", local)
	}
	return pkgartifact.Open(local)
}

// FindObjects implements solver.Source.
func (r *PackageRepository) FindObjects(req ipkgversion.Requirement) ([]solver.Object, error) {
	metas := r.Find(req)
	objs := make([]solver.Object, len(metas))
	for i, m := range metas {
		objs[i] = solver.PackageObject{Meta: m}
	}
	return objs, nil
}

// UpdateMetadata rebuilds the index from scratch by walking
// base/<name>/*.ipkg, reading each artifact's meta and attaching its
// SHA-256 checksum, then persists repository.json. Unreadable
// artifacts are skipped with a warning; unknown top-level entries are
// ignored. Local repositories only.
func (r *PackageRepository) UpdateMetadata() error {
	if r.remote {
		return ipkgerr.New(ipkgerr.InvalidInput, "cannot update metadata of remote repository %s", r.base)
	}

	entries, err := os.ReadDir(r.base)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "read repository %s", r.base)
	}

	index := make(map[string][]pkgartifact.Meta)
	for _, entry := range entries {
		if !entry.IsDir() {
			if entry.Name() != IndexFile {
				r.log.Debug("ignoring top-level entry", "name", entry.Name())
			}
			continue
		}
		pkgDir := filepath.Join(r.base, entry.Name())
		files, err := os.ReadDir(pkgDir)
		if err != nil {
			r.log.Warn("skipping unreadable package directory", "dir", pkgDir, "error", err)
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".ipkg") {
				continue
			}
			path := filepath.Join(pkgDir, file.Name())
			meta, err := readArtifactMeta(path)
			if err != nil {
				r.log.Warn("skipping unreadable artifact", "path", path, "error", err)
				continue
			}
			index[meta.Name] = append(index[meta.Name], meta)
		}
	}

	for name := range index {
		sortMetasDescending(index[name])
	}
	r.index = index
	return r.saveIndex()
}

func readArtifactMeta(path string) (pkgartifact.Meta, error) {
	art, err := pkgartifact.Open(path)
	if err != nil {
		return pkgartifact.Meta{}, err
	}
	checksum, err := pkgartifact.Checksum(path)
	if err != nil {
		return pkgartifact.Meta{}, err
	}
	meta := art.Meta
	meta.Checksum = checksum
	return meta, nil
}

// Add appends an artifact's meta (with computed checksum) to the
// index and persists it. The artifact file must already sit at its
// repository location.
func (r *PackageRepository) Add(artifactPath string) error {
	if r.remote {
		return ipkgerr.New(ipkgerr.InvalidInput, "cannot add to remote repository %s", r.base)
	}
	meta, err := readArtifactMeta(artifactPath)
	if err != nil {
		return err
	}

	// Replace a previous entry for the same (version, revision,
	// platform) instead of duplicating it.
	metas := r.index[meta.Name][:0]
	for _, m := range r.index[meta.Name] {
		if m.Version == meta.Version && m.Revision == meta.Revision && m.Platform == meta.Platform {
			continue
		}
		metas = append(metas, m)
	}
	metas = append(metas, meta)
	sortMetasDescending(metas)
	r.index[meta.Name] = metas
	return r.saveIndex()
}

func (r *PackageRepository) saveIndex() error {
	data, err := json.MarshalIndent(r.index, "", "  ")
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "marshal repository index")
	}
	path := filepath.Join(r.base, IndexFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "write %s", path)
	}
	return nil
}
