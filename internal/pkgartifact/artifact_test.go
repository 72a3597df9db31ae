package pkgartifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "hello"), []byte("#!/bin/sh\necho hi\n"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "libhello.so"), []byte("binary"), 0o644))
}

func TestWriteAndOpen(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	meta := Meta{
		Name:         "hello",
		Version:      "1.0.0",
		Revision:     1,
		Platform:     "linux-ubuntu22.04-x86_64",
		Dependencies: []string{"libc"},
		Timestamp:    time.Unix(0, 0).UTC(),
		Files:        []string{"bin/hello", "lib/libhello.so"},
		BuildPrefix:  "/opt/ipkg/hello",
	}

	destDir := t.TempDir()
	path, err := Write(meta, root, destDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(destDir, "hello-1.0.0-1-linux-ubuntu22.04-x86_64.ipkg"), path)

	art, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, "hello", art.Meta.Name)
	require.Equal(t, []string{"bin/hello", "lib/libhello.so"}, art.Meta.Files)

	extractRoot := t.TempDir()
	require.NoError(t, art.ExtractFiles(extractRoot))

	data, err := os.ReadFile(filepath.Join(extractRoot, "bin", "hello"))
	require.NoError(t, err)
	require.Equal(t, "#!/bin/sh\necho hi\n", string(data))

	info, err := os.Stat(filepath.Join(extractRoot, "bin", "hello"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestValidateRejectsEscapingPaths(t *testing.T) {
	meta := Meta{Name: "x", Version: "1", Files: []string{"../../etc/passwd"}}
	err := meta.Validate()
	require.Error(t, err)
}

func TestValidateRejectsAbsolutePaths(t *testing.T) {
	meta := Meta{Name: "x", Version: "1", Files: []string{"/etc/passwd"}}
	err := meta.Validate()
	require.Error(t, err)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	meta := Meta{Name: "x", Version: "1", Files: []string{"bin/x", "bin/x"}}
	err := meta.Validate()
	require.Error(t, err)
}

func TestSnapshotAndDiff(t *testing.T) {
	root := t.TempDir()
	before, err := SnapshotFiles(root)
	require.NoError(t, err)
	require.Empty(t, before)

	writeTree(t, root)
	after, err := SnapshotFiles(root)
	require.NoError(t, err)

	diff := Diff(before, after)
	require.Equal(t, []string{"bin/hello", "lib/libhello.so"}, diff)
}

func TestChecksumIsStable(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)
	meta := Meta{Name: "hello", Version: "1.0.0", Files: []string{"bin/hello"}}

	destDir := t.TempDir()
	path, err := Write(meta, root, destDir)
	require.NoError(t, err)

	sum1, err := Checksum(path)
	require.NoError(t, err)
	sum2, err := Checksum(path)
	require.NoError(t, err)
	require.Equal(t, sum1, sum2)
	require.Len(t, sum1, 64)
}
