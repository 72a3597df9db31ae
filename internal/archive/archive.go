// Package archive extracts source archives (spec §4.3): tar.gz,
// tar.bz2, tar.xz, tar.lz, and zip, enforcing that the archive
// contains exactly one top-level entry.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	lzip "github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

// Format names a supported archive compression/container scheme.
type Format string

const (
	FormatTarGz  Format = "tar.gz"
	FormatTarBz2 Format = "tar.bz2"
	FormatTarXz  Format = "tar.xz"
	FormatTarLz  Format = "tar.lz"
	FormatZip    Format = "zip"
)

// DetectFormat infers a Format from a filename's suffix.
func DetectFormat(filename string) (Format, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"), strings.HasSuffix(lower, ".tbz"):
		return FormatTarBz2, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz, nil
	case strings.HasSuffix(lower, ".tar.lz"), strings.HasSuffix(lower, ".tlz"):
		return FormatTarLz, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	default:
		return "", ipkgerr.New(ipkgerr.ArchiveLayoutInvalid, "unrecognized archive suffix: %s", filename)
	}
}

// Extract extracts archivePath (format auto-detected from its
// filename) into destDir and returns the absolute path to the
// archive's single top-level directory. It fails with
// ArchiveLayoutInvalid if the archive has zero or more than one
// top-level entry, or an unrecognized compression.
func Extract(archivePath, destDir string) (string, error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return "", err
	}
	return ExtractFormat(archivePath, destDir, format)
}

// ExtractFormat is Extract with an explicit format, for callers that
// already know it (e.g. a recipe declaring a non-standard extension).
func ExtractFormat(archivePath, destDir string, format Format) (string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "open archive %s", archivePath)
	}
	defer file.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", ipkgerr.Wrap(ipkgerr.IoError, err, "create destination %s", destDir)
	}

	var topLevel map[string]bool
	switch format {
	case FormatZip:
		topLevel, err = extractZip(archivePath, destDir)
	case FormatTarGz:
		gzr, gerr := gzip.NewReader(file)
		if gerr != nil {
			return "", ipkgerr.Wrap(ipkgerr.ArchiveLayoutInvalid, gerr, "open gzip stream")
		}
		defer gzr.Close()
		topLevel, err = extractTar(tar.NewReader(gzr), destDir)
	case FormatTarBz2:
		topLevel, err = extractTar(tar.NewReader(bzip2.NewReader(file)), destDir)
	case FormatTarXz:
		xzr, xerr := xz.NewReader(file)
		if xerr != nil {
			return "", ipkgerr.Wrap(ipkgerr.ArchiveLayoutInvalid, xerr, "open xz stream")
		}
		topLevel, err = extractTar(tar.NewReader(xzr), destDir)
	case FormatTarLz:
		lzr, lerr := lzip.NewReader(file)
		if lerr != nil {
			return "", ipkgerr.Wrap(ipkgerr.ArchiveLayoutInvalid, lerr, "open lzip stream")
		}
		topLevel, err = extractTar(tar.NewReader(lzr), destDir)
	default:
		return "", ipkgerr.New(ipkgerr.ArchiveLayoutInvalid, "unsupported format %q", format)
	}
	if err != nil {
		return "", err
	}

	if len(topLevel) != 1 {
		return "", ipkgerr.New(ipkgerr.ArchiveLayoutInvalid,
			"archive must contain exactly one top-level entry, found %d", len(topLevel))
	}

	var name string
	for n := range topLevel {
		name = n
	}
	return filepath.Join(destDir, name), nil
}

// extractTar drains a tar stream into destDir, returning the set of
// first-path-component names it observed (used to enforce the
// single-top-level-directory invariant).
func extractTar(tr *tar.Reader, destDir string) (map[string]bool, error) {
	topLevel := make(map[string]bool)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ipkgerr.Wrap(ipkgerr.ArchiveLayoutInvalid, err, "read tar header")
		}

		cleanPath := strings.TrimPrefix(header.Name, "./")
		if cleanPath == "" || cleanPath == "." {
			continue
		}
		recordTopLevel(topLevel, cleanPath)

		target := filepath.Join(destDir, cleanPath)
		if !isPathWithinDirectory(target, destDir) {
			return nil, ipkgerr.New(ipkgerr.ArchiveLayoutInvalid, "archive entry escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "create directory %s", target)
			}
		case tar.TypeReg:
			if err := writeRegularFile(target, tr, os.FileMode(header.Mode)); err != nil {
				return nil, err
			}
		case tar.TypeSymlink:
			if err := validateSymlinkTarget(header.Linkname, target, destDir); err != nil {
				return nil, ipkgerr.Wrap(ipkgerr.ArchiveLayoutInvalid, err, "symlink entry %s", header.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "create parent of %s", target)
			}
			if err := atomicSymlink(header.Linkname, target); err != nil {
				return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "create symlink %s", target)
			}
		}
	}

	return topLevel, nil
}

func extractZip(archivePath, destDir string) (map[string]bool, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.ArchiveLayoutInvalid, err, "open zip")
	}
	defer r.Close()

	topLevel := make(map[string]bool)

	for _, f := range r.File {
		cleanPath := strings.TrimPrefix(f.Name, "./")
		if cleanPath == "" || cleanPath == "." {
			continue
		}
		recordTopLevel(topLevel, cleanPath)

		target := filepath.Join(destDir, cleanPath)
		if !isPathWithinDirectory(target, destDir) {
			return nil, ipkgerr.New(ipkgerr.ArchiveLayoutInvalid, "zip entry escapes destination: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "create directory %s", target)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, ipkgerr.Wrap(ipkgerr.ArchiveLayoutInvalid, err, "open zip entry %s", f.Name)
		}
		err = writeRegularFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return nil, err
		}
	}

	return topLevel, nil
}

func writeRegularFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "create parent of %s", target)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, mode)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "create %s", target)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return ipkgerr.Wrap(ipkgerr.IoError, err, "write %s", target)
	}
	return f.Close()
}

func recordTopLevel(set map[string]bool, cleanPath string) {
	if i := strings.IndexByte(cleanPath, '/'); i >= 0 {
		set[cleanPath[:i]] = true
	} else {
		set[cleanPath] = true
	}
}

// isPathWithinDirectory reports whether targetPath is contained within
// basePath, guarding against archive entries that try to traverse out
// of the extraction root via ".." components.
func isPathWithinDirectory(targetPath, basePath string) bool {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

// validateSymlinkTarget rejects symlinks that would point outside
// destPath once resolved relative to their own location.
func validateSymlinkTarget(linkTarget, linkLocation, destPath string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("absolute symlink targets are not allowed: %s -> %s", linkLocation, linkTarget)
	}
	resolved := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	if !isPathWithinDirectory(resolved, destPath) {
		return fmt.Errorf("symlink target escapes destination: %s -> %s", linkLocation, linkTarget)
	}
	return nil
}

// atomicSymlink creates a symlink via a temp-name-then-rename sequence
// so a concurrent reader never observes a half-created link.
func atomicSymlink(target, linkPath string) error {
	tmpLink := linkPath + ".tmp"
	os.Remove(tmpLink)
	if err := os.Symlink(target, tmpLink); err != nil {
		return err
	}
	if err := os.Rename(tmpLink, linkPath); err != nil {
		os.Remove(tmpLink)
		return err
	}
	return nil
}
