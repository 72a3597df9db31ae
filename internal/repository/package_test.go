package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/ipkgversion"
	"github.com/pmuller/ipkg/internal/pkgartifact"
	"github.com/pmuller/ipkg/internal/platform"
)

func mustReq(t *testing.T, s string) ipkgversion.Requirement {
	t.Helper()
	req, err := ipkgversion.ParseRequirement(s)
	require.NoError(t, err)
	return req
}

// writeArtifactInto composes a real artifact at base/<name>/ with one
// payload file.
func writeArtifactInto(t *testing.T, base, name, version string, revision int) string {
	t.Helper()
	root := t.TempDir()
	rel := filepath.Join("share", name, "data")
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(version+"\n"), 0o644))

	meta := pkgartifact.Meta{
		Name:        name,
		Version:     version,
		Revision:    revision,
		Platform:    platform.Current().String(),
		Files:       []string{filepath.ToSlash(rel)},
		BuildPrefix: root,
		Timestamp:   time.Now().UTC(),
	}
	path, err := pkgartifact.Write(meta, root, filepath.Join(base, name))
	require.NoError(t, err)
	return path
}

func openLocal(t *testing.T, base string) *PackageRepository {
	t.Helper()
	repo, err := Open(context.Background(), base, platform.Current(), nil, ipkglog.NewNoop())
	require.NoError(t, err)
	return repo
}

func TestCreateAndOpenEmpty(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repo")
	_, err := Create(base)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(base, IndexFile))
	require.NoError(t, err)

	repo := openLocal(t, base)
	assert.Empty(t, repo.Names())
}

func TestAddAndFind(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repo")
	_, err := Create(base)
	require.NoError(t, err)
	repo := openLocal(t, base)

	for _, v := range []string{"1.0", "2.0", "1.5"} {
		path := writeArtifactInto(t, base, "foo", v, 1)
		require.NoError(t, repo.Add(path))
	}

	metas := repo.Find(mustReq(t, "foo"))
	require.Len(t, metas, 3)
	assert.Equal(t, "2.0", metas[0].Version)
	assert.Equal(t, "1.5", metas[1].Version)
	assert.Equal(t, "1.0", metas[2].Version)
	for _, m := range metas {
		assert.NotEmpty(t, m.Checksum, "add must attach a checksum")
	}

	constrained := repo.Find(mustReq(t, "foo<2.0"))
	require.Len(t, constrained, 2)
	assert.Equal(t, "1.5", constrained[0].Version)

	// The index survives a reopen.
	reopened := openLocal(t, base)
	assert.Equal(t, []string{"foo"}, reopened.Names())
}

func TestAddReplacesSameVersion(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repo")
	_, err := Create(base)
	require.NoError(t, err)
	repo := openLocal(t, base)

	path := writeArtifactInto(t, base, "foo", "1.0", 1)
	require.NoError(t, repo.Add(path))
	require.NoError(t, repo.Add(path))

	assert.Len(t, repo.Find(mustReq(t, "foo")), 1)
}

func TestBestNotFound(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repo")
	_, err := Create(base)
	require.NoError(t, err)
	repo := openLocal(t, base)

	_, err = repo.Best(mustReq(t, "ghost"))
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.NotFound))
}

func TestBestArtifactLocal(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repo")
	_, err := Create(base)
	require.NoError(t, err)
	repo := openLocal(t, base)

	path := writeArtifactInto(t, base, "foo", "1.0", 1)
	require.NoError(t, repo.Add(path))

	art, err := repo.BestArtifact(mustReq(t, "foo"))
	require.NoError(t, err)
	assert.Equal(t, "foo", art.Meta.Name)
	assert.Equal(t, path, art.Path)
}

func TestUpdateMetadataRebuildsFromScratch(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repo")
	_, err := Create(base)
	require.NoError(t, err)

	writeArtifactInto(t, base, "foo", "1.0", 1)
	writeArtifactInto(t, base, "foo", "1.1", 1)
	writeArtifactInto(t, base, "bar", "0.5", 2)

	// Noise the updater must tolerate: a stray top-level file and a
	// garbage .ipkg.
	require.NoError(t, os.WriteFile(filepath.Join(base, "README"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "foo", "broken-9.9-1-x.ipkg"), []byte("not a tar"), 0o644))

	repo := openLocal(t, base)
	require.NoError(t, repo.UpdateMetadata())

	assert.Equal(t, []string{"bar", "foo"}, repo.Names())
	metas := repo.Find(mustReq(t, "foo"))
	require.Len(t, metas, 2)
	assert.Equal(t, "1.1", metas[0].Version)
	assert.NotEmpty(t, metas[0].Checksum)

	// The checksum matches the artifact bytes.
	sum, err := pkgartifact.Checksum(filepath.Join(base, "foo", metas[0].Filename()))
	require.NoError(t, err)
	assert.Equal(t, sum, metas[0].Checksum)
}

func TestFindFiltersIncompatiblePlatform(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repo")
	_, err := Create(base)
	require.NoError(t, err)
	repo := openLocal(t, base)

	// Index a meta for a foreign platform by hand.
	repo.index["foo"] = []pkgartifact.Meta{{
		Name:     "foo",
		Version:  "1.0",
		Revision: 1,
		Platform: "plan9-1.0-mips",
	}}
	assert.Empty(t, repo.Find(mustReq(t, "foo")))

	// A wildcard-platform package matches anywhere.
	repo.index["foo"] = []pkgartifact.Meta{{
		Name:     "foo",
		Version:  "1.0",
		Revision: 1,
		Platform: "any-any-any",
	}}
	assert.Len(t, repo.Find(mustReq(t, "foo")), 1)
}

func TestOpenCorruptIndex(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, IndexFile), []byte("{nope"), 0o644))

	_, err := Open(context.Background(), base, platform.Current(), nil, ipkglog.NewNoop())
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.MetaCorrupt))
}
