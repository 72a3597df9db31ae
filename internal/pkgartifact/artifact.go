// Package pkgartifact implements the package artifact format (spec
// §4.5/§6): a bzip2-compressed tar bundling a JSON manifest
// (".ipkg.meta") and the tree of files an install step produced under
// a build prefix.
package pkgartifact

import (
	"archive/tar"
	"compress/bzip2"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	dsnetbzip2 "github.com/dsnet/compress/bzip2"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/platform"
)

// MetaMember is the name of the manifest entry inside the archive. It
// is always written first so readers never need to seek.
const MetaMember = ".ipkg.meta"

// Meta is the JSON manifest embedded in every artifact and mirrored
// per-package in an environment's persistent state (spec §3
// PackageMeta).
type Meta struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Revision     int               `json:"revision"`
	Platform     string            `json:"platform"`
	Dependencies []string          `json:"dependencies"`
	Homepage     string            `json:"homepage,omitempty"`
	Hostname     string            `json:"hostname,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Files        []string          `json:"files"`
	BuildPrefix  string            `json:"build_prefix"`
	Envvars      map[string]string `json:"envvars,omitempty"`
	Checksum     string            `json:"checksum,omitempty"`
}

// Filename returns the deterministic artifact filename for this meta:
// name-version-revision-osname-osrelease-arch.ipkg.
func (m Meta) Filename() string {
	return fmt.Sprintf("%s-%s-%d-%s.ipkg", m.Name, m.Version, m.Revision, m.Platform)
}

// Validate enforces the §3 PackageMeta invariant: every Files entry
// is relative, none escapes the prefix, and there are no duplicates.
func (m Meta) Validate() error {
	seen := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		if filepath.IsAbs(f) {
			return ipkgerr.New(ipkgerr.InvalidInput, "meta file entry %q is absolute", f)
		}
		clean := filepath.Clean(f)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return ipkgerr.New(ipkgerr.InvalidInput, "meta file entry %q escapes the prefix", f)
		}
		if seen[clean] {
			return ipkgerr.New(ipkgerr.InvalidInput, "meta file entry %q is duplicated", f)
		}
		seen[clean] = true
	}
	return nil
}

// Write composes an artifact from meta and the files it names (each
// resolved relative to root) and writes it to destDir under its
// deterministic Filename. It returns the full path written.
//
// Member order is fixed: the meta member first (mode 0644, regular
// file), then each of meta.Files in list order — one tar header per
// path, non-recursively, matching spec §4.5/§6 exactly.
func Write(meta Meta, root, destDir string) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", destDir)
	}

	path := filepath.Join(destDir, meta.Filename())
	out, err := os.Create(path)
	if err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create artifact %s", path)
	}
	defer out.Close()

	bw, err := dsnetbzip2.NewWriter(out, &dsnetbzip2.WriterConfig{Level: dsnetbzip2.BestCompression})
	if err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "open bzip2 writer")
	}
	tw := tar.NewWriter(bw)

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "marshal meta")
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: MetaMember,
		Mode: 0o644,
		Size: int64(len(metaJSON)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "write meta header")
	}
	if _, err := tw.Write(metaJSON); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "write meta content")
	}

	for _, rel := range meta.Files {
		full := filepath.Join(root, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return "", ipkgerr.Wrap(ipkgerr.IoError, err, "stat %s", full)
		}
		if err := writeMember(tw, full, rel, info); err != nil {
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "close tar")
	}
	if err := bw.Close(); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "close bzip2 writer")
	}
	return path, nil
}

func writeMember(tw *tar.Writer, full, rel string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		if err != nil {
			return ipkgerr.Wrap(ipkgerr.IoError, err, "readlink %s", full)
		}
		return tw.WriteHeader(&tar.Header{
			Name:     rel,
			Typeflag: tar.TypeSymlink,
			Linkname: target,
			Mode:     0o777,
		})
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "build tar header for %s", full)
	}
	header.Name = rel
	if err := tw.WriteHeader(header); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "write header for %s", rel)
	}
	f, err := os.Open(full)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "open %s", full)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "copy %s", full)
	}
	return nil
}

// Artifact is an opened package artifact: its meta plus the archive
// path it was read from, ready for ExtractFiles.
type Artifact struct {
	Meta Meta
	Path string
}

// Open reads only the meta member out of the artifact at path,
// without extracting anything else — used by repository indexing and
// by the solver/installer to inspect a candidate before committing to
// extraction.
func Open(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "open artifact %s", path)
	}
	defer f.Close()

	tr := tar.NewReader(bzip2.NewReader(f))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, ipkgerr.New(ipkgerr.InvalidInput, "artifact %s has no %s member", path, MetaMember)
		}
		if err != nil {
			return nil, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "read artifact %s", path)
		}
		if header.Name != MetaMember {
			continue
		}
		var meta Meta
		if err := json.NewDecoder(tr).Decode(&meta); err != nil {
			return nil, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "parse meta in %s", path)
		}
		return &Artifact{Meta: meta, Path: path}, nil
	}
}

// ExtractFiles extracts every non-meta member of the artifact under
// root, preserving file mode but not recreating directory entries
// that aren't implied by a file's own path.
func (a *Artifact) ExtractFiles(root string) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "open artifact %s", a.Path)
	}
	defer f.Close()

	tr := tar.NewReader(bzip2.NewReader(f))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ipkgerr.Wrap(ipkgerr.InvalidInput, err, "read artifact %s", a.Path)
		}
		if header.Name == MetaMember {
			continue
		}

		target := filepath.Join(root, header.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return ipkgerr.Wrap(ipkgerr.IoError, err, "create parent of %s", target)
		}

		switch header.Typeflag {
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return ipkgerr.Wrap(ipkgerr.IoError, err, "symlink %s", target)
			}
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return ipkgerr.Wrap(ipkgerr.IoError, err, "mkdir %s", target)
			}
		default:
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", target)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return ipkgerr.Wrap(ipkgerr.IoError, err, "write %s", target)
			}
			out.Close()
		}
	}
	return nil
}

// Checksum computes the hex SHA-256 of the whole artifact file, used
// by the local package repository to populate Meta.Checksum when
// indexing (spec §4.6).
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SnapshotFiles walks root and returns every regular file/symlink path
// relative to root, used by the build pipeline to diff the file set
// captured by a build (spec §4.9 step 6/8).
func SnapshotFiles(root string) (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "walk %s", root)
	}
	return files, nil
}

// Diff returns the sorted list of paths present in after but not
// before.
func Diff(before, after map[string]bool) []string {
	var diff []string
	for p := range after {
		if !before[p] {
			diff = append(diff, p)
		}
	}
	sort.Strings(diff)
	return diff
}

// CurrentPlatform is a convenience re-export of the current platform's
// canonical string.
func CurrentPlatform() string { return platform.Current().String() }

// ParseRevision converts a revision string to an int; a string that is
// not a decimal integer yields 0.
func ParseRevision(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
