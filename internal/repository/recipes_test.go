package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
)

func writeRecipeFile(t *testing.T, base, name, version string, revision int, body string) {
	t.Helper()
	dir := filepath.Join(base, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := fmt.Sprintf("name = %q\nversion = %q\nrevision = %d\n%s", name, version, revision, body)
	path := filepath.Join(dir, fmt.Sprintf("%s-%s-%d.toml", name, version, revision))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOpenRecipesScansTree(t *testing.T) {
	base := t.TempDir()
	writeRecipeFile(t, base, "foo", "1.0", 1, "")
	writeRecipeFile(t, base, "foo", "2.0", 1, "")
	writeRecipeFile(t, base, "bar", "0.1", 1, `dependencies = ["foo>=1"]`)

	// An invalid recipe is skipped, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(base, "foo", "foo-bad-1.toml"), []byte("not toml ["), 0o644))
	// Non-recipe noise is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(base, "stray.txt"), []byte("x"), 0o644))

	repo, err := OpenRecipes(base, ipkglog.NewNoop())
	require.NoError(t, err)

	all := repo.All()
	require.Len(t, all, 3)

	foos := repo.Find(mustReq(t, "foo"))
	require.Len(t, foos, 2)
	assert.Equal(t, "2.0", foos[0].Version)

	best, err := repo.Best(mustReq(t, "foo<2"))
	require.NoError(t, err)
	assert.Equal(t, "1.0", best.Version)
}

func TestOpenRecipesMissingBase(t *testing.T) {
	_, err := OpenRecipes(filepath.Join(t.TempDir(), "nope"), ipkglog.NewNoop())
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.NotFound))
}

func TestRecipeBestNotFound(t *testing.T) {
	repo, err := OpenRecipes(t.TempDir(), ipkglog.NewNoop())
	require.NoError(t, err)

	_, err = repo.Best(mustReq(t, "ghost"))
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.NotFound))
}

func TestRecipeFindObjects(t *testing.T) {
	base := t.TempDir()
	writeRecipeFile(t, base, "foo", "1.0", 1, "")

	repo, err := OpenRecipes(base, ipkglog.NewNoop())
	require.NoError(t, err)

	objs, err := repo.FindObjects(mustReq(t, "foo"))
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "foo", objs[0].Name())
	assert.Equal(t, "1.0", objs[0].Version().String())
}
