// Package rewrite edits absolute build-prefix paths embedded in files
// that a binary package dropped under a new installation prefix. Four
// file classes are handled: pkg-config .pc files, libtool .la files,
// shebang scripts, and Mach-O binaries; ELF binaries additionally get
// their RPATH entries relocated when patchelf is available.
//
// Only files under bin/, sbin/, or a lib*/ subtree are touched; every
// other file is left alone even when its content would match.
package rewrite

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/runcmd"
)

var (
	pcPattern = regexp.MustCompile(`(^|/)lib(64)?/pkgconfig/.*\.pc$`)
	laPattern = regexp.MustCompile(`(^|/)lib(64)?/.*\.la$`)

	// Mach-O thin binary magics, both byte orders of the 32- and
	// 64-bit variants as they appear at the start of the file.
	machoMagics = [][]byte{
		{0xce, 0xfa, 0xed, 0xfe},
		{0xcf, 0xfa, 0xed, 0xfe},
		{0xfe, 0xed, 0xfa, 0xce},
		{0xfe, 0xed, 0xfa, 0xcf},
	}

	elfMagic = []byte{0x7f, 'E', 'L', 'F'}
)

// Rewriter relocates BuildPrefix to InstallPrefix in produced files.
type Rewriter struct {
	BuildPrefix   string
	InstallPrefix string

	log ipkglog.Logger
}

// New returns a Rewriter. A nil logger falls back to the process
// default.
func New(buildPrefix, installPrefix string, log ipkglog.Logger) *Rewriter {
	if log == nil {
		log = ipkglog.Default()
	}
	return &Rewriter{BuildPrefix: buildPrefix, InstallPrefix: installPrefix, log: log}
}

// eligible reports whether a relative path sits under one of the
// directory trees the rewriter is allowed to touch.
func eligible(rel string) bool {
	first := rel
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		first = rel[:i]
	}
	return first == "bin" || first == "sbin" || strings.HasPrefix(first, "lib")
}

// RewriteAll examines each of files (paths relative to root) and
// rewrites the ones that match a known class. It is a no-op when the
// build prefix equals the install prefix.
func (rw *Rewriter) RewriteAll(ctx context.Context, root string, files []string) error {
	if rw.BuildPrefix == rw.InstallPrefix {
		return nil
	}
	for _, rel := range files {
		if !eligible(rel) {
			continue
		}
		if err := rw.RewriteFile(ctx, root, rel); err != nil {
			return err
		}
	}
	return nil
}

// RewriteFile classifies and rewrites a single file. Unrecognized
// files are left untouched.
func (rw *Rewriter) RewriteFile(ctx context.Context, root, rel string) error {
	full := filepath.Join(root, rel)
	info, err := os.Lstat(full)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "stat %s", full)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	switch {
	case pcPattern.MatchString(rel):
		return rw.rewriteKeyedLine(full, "prefix=")
	case laPattern.MatchString(rel):
		return rw.rewriteKeyedLine(full, "libdir=")
	}

	head := make([]byte, 4)
	f, err := os.Open(full)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "open %s", full)
	}
	n, _ := f.Read(head)
	f.Close()
	head = head[:n]

	switch {
	case n >= 2 && head[0] == '#' && head[1] == '!':
		return rw.rewriteShebang(full)
	case isMachO(head):
		return rw.rewriteMachO(ctx, full, rel)
	case bytes.Equal(head, elfMagic):
		return rw.rewriteELF(ctx, full)
	}
	return nil
}

func isMachO(head []byte) bool {
	for _, magic := range machoMagics {
		if bytes.Equal(head, magic) {
			return true
		}
	}
	return false
}

// rewriteKeyedLine handles the .pc/.la text formats: the first line
// beginning with key has every occurrence of the build prefix
// replaced by the install prefix.
func (rw *Rewriter) rewriteKeyedLine(path, key string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "read %s", path)
	}

	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, key) {
			lines[i] = strings.ReplaceAll(line, rw.BuildPrefix, rw.InstallPrefix)
			break
		}
	}
	return rw.writeInPlace(path, []byte(strings.Join(lines, "\n")))
}

// rewriteShebang replaces the build prefix in the interpreter line of
// a script.
func (rw *Rewriter) rewriteShebang(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "read %s", path)
	}

	line, rest, found := bytes.Cut(content, []byte("\n"))
	newLine := bytes.ReplaceAll(line, []byte(rw.BuildPrefix), []byte(rw.InstallPrefix))
	if bytes.Equal(line, newLine) {
		return nil
	}
	out := newLine
	if found {
		out = append(append(newLine, '\n'), rest...)
	}
	return rw.writeInPlace(path, out)
}

// writeInPlace rewrites path preserving its mode, temporarily adding
// the owner write bit when the file is read-only.
func (rw *Rewriter) writeInPlace(path string, content []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "stat %s", path)
	}
	mode := info.Mode()
	restore, err := ensureWritable(path, mode)
	if err != nil {
		return err
	}
	defer restore()

	if err := os.WriteFile(path, content, mode.Perm()); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "write %s", path)
	}
	return nil
}

// ensureWritable adds the owner write bit when absent and returns a
// function restoring the original mode.
func ensureWritable(path string, mode os.FileMode) (func(), error) {
	if mode&0o200 != 0 {
		return func() {}, nil
	}
	if err := os.Chmod(path, mode|0o200); err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "make %s writable", path)
	}
	return func() { _ = os.Chmod(path, mode) }, nil
}

// rewriteMachO re-IDs a Mach-O binary via install_name_tool: the ID
// becomes the file's install-prefix path, and every dependent library
// path that starts with the build prefix is rewritten in place.
func (rw *Rewriter) rewriteMachO(ctx context.Context, full, rel string) error {
	info, err := os.Stat(full)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "stat %s", full)
	}
	restore, err := ensureWritable(full, info.Mode())
	if err != nil {
		return err
	}
	defer restore()

	newID := filepath.Join(rw.InstallPrefix, rel)
	if _, err := runcmd.Run(ctx, []string{"install_name_tool", "-id", newID, full}, runcmd.Options{}); err != nil {
		return err
	}

	deps, err := machoDependencies(ctx, full)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if !strings.HasPrefix(dep, rw.BuildPrefix) {
			continue
		}
		newDep := rw.InstallPrefix + strings.TrimPrefix(dep, rw.BuildPrefix)
		if _, err := runcmd.Run(ctx, []string{"install_name_tool", "-change", dep, newDep, full}, runcmd.Options{}); err != nil {
			return err
		}
	}
	return nil
}

// machoDependencies lists the dependent library paths of a Mach-O
// file as reported by otool -L.
func machoDependencies(ctx context.Context, path string) ([]string, error) {
	out, err := runcmd.Output(ctx, []string{"otool", "-L", path}, runcmd.Options{})
	if err != nil {
		return nil, err
	}

	var deps []string
	for _, line := range strings.Split(out, "\n")[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Each dependency line reads "<path> (compatibility version ...)".
		if i := strings.Index(line, " ("); i > 0 {
			line = line[:i]
		}
		deps = append(deps, line)
	}
	return deps, nil
}

// rewriteELF relocates build-prefix RPATH entries of an ELF binary
// with patchelf. A missing patchelf downgrades to a logged skip: the
// rewrite is a relocation aid, not a correctness requirement on
// platforms where the tool is absent.
func (rw *Rewriter) rewriteELF(ctx context.Context, full string) error {
	patchelf, err := exec.LookPath("patchelf")
	if err != nil {
		rw.log.Warn("patchelf not found, skipping RPATH rewrite", "file", full)
		return nil
	}

	rpath, err := runcmd.Output(ctx, []string{patchelf, "--print-rpath", full}, runcmd.Options{})
	if err != nil || rpath == "" {
		// Binaries without an RPATH are common and fine.
		return nil
	}
	if !strings.Contains(rpath, rw.BuildPrefix) {
		return nil
	}

	info, err := os.Stat(full)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "stat %s", full)
	}
	restore, err := ensureWritable(full, info.Mode())
	if err != nil {
		return err
	}
	defer restore()

	newRpath := strings.ReplaceAll(rpath, rw.BuildPrefix, rw.InstallPrefix)
	_, err = runcmd.Run(ctx, []string{patchelf, "--force-rpath", "--set-rpath", newRpath, full}, runcmd.Options{})
	return err
}
