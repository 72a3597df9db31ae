package ipkgbuild

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmuller/ipkg/internal/environment"
	"github.com/pmuller/ipkg/internal/fetch"
	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/pkgartifact"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/recipe"
)

// writeTarGz creates a tar.gz archive with one top-level directory
// containing the given files.
func writeTarGz(t *testing.T, path, topDir string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     topDir + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}))
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: topDir + "/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	return New(fetch.New(t.TempDir(), ipkglog.NewNoop()), platform.Current(), ipkglog.NewNoop())
}

func newBuildEnv(t *testing.T) *environment.Environment {
	t.Helper()
	env, err := environment.New(filepath.Join(t.TempDir(), "env"), environment.Options{
		InheritEnv: true,
		Log:        ipkglog.NewNoop(),
	})
	require.NoError(t, err)
	return env
}

func TestBuildCustomSteps(t *testing.T) {
	srcArchive := filepath.Join(t.TempDir(), "hello-1.0.tar.gz")
	writeTarGz(t, srcArchive, "hello-1.0", map[string]string{"hello.txt": "Hello world\n"})

	r := &recipe.Recipe{
		Name:     "hello",
		Version:  "1.0",
		Revision: 1,
		Homepage: "https://example.org/hello",
		Sources:  []recipe.Source{{URL: srcArchive}},
		Install: recipe.InstallSection{Steps: []recipe.Step{
			{Action: "run", Params: map[string]interface{}{
				"argv": []interface{}{"cp", "hello.txt", "%(bin)s/hello"},
			}},
		}},
	}

	env := newBuildEnv(t)
	before, err := pkgartifact.SnapshotFiles(env.Prefix)
	require.NoError(t, err)

	b := newBuilder(t)
	packageDir := t.TempDir()
	artifactPath, err := b.Build(context.Background(), r, packageDir, Options{Env: env})
	require.NoError(t, err)

	art, err := pkgartifact.Open(artifactPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", art.Meta.Name)
	assert.Equal(t, "1.0", art.Meta.Version)
	assert.Equal(t, []string{"bin/hello"}, art.Meta.Files)
	assert.Equal(t, env.Prefix, art.Meta.BuildPrefix)
	assert.Equal(t, b.Platform.String(), art.Meta.Platform)
	assert.NotEmpty(t, art.Meta.Hostname)

	// The prefix is restored to its pre-build state.
	after, err := pkgartifact.SnapshotFiles(env.Prefix)
	require.NoError(t, err)
	assert.Empty(t, filterStateFiles(pkgartifact.Diff(before, after)))
}

func TestBuildVerifiesSourceChecksum(t *testing.T) {
	srcArchive := filepath.Join(t.TempDir(), "hello-1.0.tar.gz")
	writeTarGz(t, srcArchive, "hello-1.0", map[string]string{"hello.txt": "x\n"})

	r := &recipe.Recipe{
		Name:     "hello",
		Version:  "1.0",
		Revision: 1,
		Sources:  []recipe.Source{{URL: srcArchive, Checksum: "sha256:" + "deadbeef"}},
		Install: recipe.InstallSection{Steps: []recipe.Step{
			{Action: "run", Params: map[string]interface{}{"argv": []interface{}{"true"}}},
		}},
	}

	b := newBuilder(t)
	_, err := b.Build(context.Background(), r, t.TempDir(), Options{Env: newBuildEnv(t)})
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.ChecksumMismatch))
}

func TestBuildNoFilesProducedFails(t *testing.T) {
	srcArchive := filepath.Join(t.TempDir(), "empty-1.0.tar.gz")
	writeTarGz(t, srcArchive, "empty-1.0", map[string]string{"README": "nothing\n"})

	r := &recipe.Recipe{
		Name:     "empty",
		Version:  "1.0",
		Revision: 1,
		Sources:  []recipe.Source{{URL: srcArchive}},
		Install: recipe.InstallSection{Steps: []recipe.Step{
			{Action: "run", Params: map[string]interface{}{"argv": []interface{}{"true"}}},
		}},
	}

	b := newBuilder(t)
	_, err := b.Build(context.Background(), r, t.TempDir(), Options{Env: newBuildEnv(t)})
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.ExecutionFailed))
}

func TestBuildFailedStepCleansPrefix(t *testing.T) {
	srcArchive := filepath.Join(t.TempDir(), "bad-1.0.tar.gz")
	writeTarGz(t, srcArchive, "bad-1.0", map[string]string{"junk.txt": "j\n"})

	// The first step drops a file under the prefix, the second fails;
	// the dropped file must be cleaned up on the way out.
	r := &recipe.Recipe{
		Name:     "bad",
		Version:  "1.0",
		Revision: 1,
		Sources:  []recipe.Source{{URL: srcArchive}},
		Install: recipe.InstallSection{Steps: []recipe.Step{
			{Action: "run", Params: map[string]interface{}{
				"argv": []interface{}{"cp", "junk.txt", "%(share)s/junk.txt"},
			}},
			{Action: "run", Params: map[string]interface{}{"argv": []interface{}{"false"}}},
		}},
	}

	env := newBuildEnv(t)
	b := newBuilder(t)
	_, err := b.Build(context.Background(), r, t.TempDir(), Options{Env: env})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(env.Prefix, "share", "junk.txt"))
	assert.True(t, os.IsNotExist(statErr), "failed build must not leave captured files behind")
}

func TestBuildAppliesPatches(t *testing.T) {
	if _, err := exec.LookPath("patch"); err != nil {
		t.Skip("patch not available")
	}

	srcArchive := filepath.Join(t.TempDir(), "patched-1.0.tar.gz")
	writeTarGz(t, srcArchive, "patched-1.0", map[string]string{"hello.txt": "Hello world\n"})

	patch := `--- hello.txt
+++ hello.txt
@@ -1 +1 @@
-Hello world
+Hello patched world
`
	r := &recipe.Recipe{
		Name:     "patched",
		Version:  "1.0",
		Revision: 1,
		Sources:  []recipe.Source{{URL: srcArchive}},
		Patches:  []recipe.Patch{{Data: patch}},
		Install: recipe.InstallSection{Steps: []recipe.Step{
			{Action: "run", Params: map[string]interface{}{
				"argv": []interface{}{"cp", "hello.txt", "%(share)s/hello.txt"},
			}},
		}},
	}

	b := newBuilder(t)
	artifactPath, err := b.Build(context.Background(), r, t.TempDir(), Options{Env: newBuildEnv(t)})
	require.NoError(t, err)

	art, err := pkgartifact.Open(artifactPath)
	require.NoError(t, err)

	extractDir := t.TempDir()
	require.NoError(t, art.ExtractFiles(extractDir))
	content, err := os.ReadFile(filepath.Join(extractDir, "share", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello patched world\n", string(content))
}

func TestBuildAppliesBuildEnvvars(t *testing.T) {
	srcArchive := filepath.Join(t.TempDir(), "envy-1.0.tar.gz")
	writeTarGz(t, srcArchive, "envy-1.0", map[string]string{"ignore.txt": "x\n"})

	r := &recipe.Recipe{
		Name:         "envy",
		Version:      "1.0",
		Revision:     1,
		Sources:      []recipe.Source{{URL: srcArchive}},
		BuildEnvvars: map[string]string{"ENVY_MARKER": "%(prefix)s/marker"},
		Install: recipe.InstallSection{Steps: []recipe.Step{
			{Action: "run", Params: map[string]interface{}{
				"argv": []interface{}{"sh", "-c", `echo "$ENVY_MARKER" > "%(share)s/marker.txt"`},
			}},
		}},
	}

	env := newBuildEnv(t)
	b := newBuilder(t)
	artifactPath, err := b.Build(context.Background(), r, t.TempDir(), Options{Env: env})
	require.NoError(t, err)

	art, err := pkgartifact.Open(artifactPath)
	require.NoError(t, err)
	extractDir := t.TempDir()
	require.NoError(t, art.ExtractFiles(extractDir))
	content, err := os.ReadFile(filepath.Join(extractDir, "share", "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, env.Prefix+"/marker\n", string(content))
}

func TestBuildUnknownStep(t *testing.T) {
	srcArchive := filepath.Join(t.TempDir(), "odd-1.0.tar.gz")
	writeTarGz(t, srcArchive, "odd-1.0", map[string]string{"x": "x\n"})

	r := &recipe.Recipe{
		Name:     "odd",
		Version:  "1.0",
		Revision: 1,
		Sources:  []recipe.Source{{URL: srcArchive}},
		Install: recipe.InstallSection{Steps: []recipe.Step{
			{Action: "levitate", Params: map[string]interface{}{}},
		}},
	}

	b := newBuilder(t)
	_, err := b.Build(context.Background(), r, t.TempDir(), Options{Env: newBuildEnv(t)})
	require.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.InvalidInput))
}

func TestBuildSkipsStepsForOtherPlatforms(t *testing.T) {
	srcArchive := filepath.Join(t.TempDir(), "plat-1.0.tar.gz")
	writeTarGz(t, srcArchive, "plat-1.0", map[string]string{"f.txt": "x\n"})

	r := &recipe.Recipe{
		Name:     "plat",
		Version:  "1.0",
		Revision: 1,
		Sources:  []recipe.Source{{URL: srcArchive}},
		Install: recipe.InstallSection{Steps: []recipe.Step{
			{Action: "run", When: &recipe.WhenClause{Platform: []string{"plan9-any-mips"}},
				Params: map[string]interface{}{"argv": []interface{}{"cp", "f.txt", "%(bin)s/never"}}},
			{Action: "run", Params: map[string]interface{}{
				"argv": []interface{}{"cp", "f.txt", "%(bin)s/always"}}},
		}},
	}

	b := newBuilder(t)
	artifactPath, err := b.Build(context.Background(), r, t.TempDir(), Options{Env: newBuildEnv(t)})
	require.NoError(t, err)

	art, err := pkgartifact.Open(artifactPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"bin/always"}, art.Meta.Files)
}

func TestSplitChecksum(t *testing.T) {
	hex, algo := splitChecksum("sha256:abc123")
	assert.Equal(t, "abc123", hex)
	assert.Equal(t, fetch.SHA256, algo)

	hex, algo = splitChecksum("abc123")
	assert.Equal(t, "abc123", hex)
	assert.Equal(t, fetch.SHA256, algo)

	hex, _ = splitChecksum("")
	assert.Equal(t, "", hex)
}

func TestFilterStateFiles(t *testing.T) {
	got := filterStateFiles([]string{".ipkg.meta", ".ipkg.lock", "bin/tool"})
	assert.Equal(t, []string{"bin/tool"}, got)
}
