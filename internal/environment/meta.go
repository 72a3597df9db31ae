package environment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/pkgartifact"
)

// MetaFile is the name of the persistent state document beneath an
// environment prefix.
const MetaFile = ".ipkg.meta"

// lockFile sits next to MetaFile; the meta document itself is
// replaced by rename on every save, so the advisory lock needs a
// stable inode to attach to.
const lockFile = ".ipkg.lock"

// Meta is the environment's persistent state: one PackageMeta per
// installed package, plus an opaque config map.
type Meta struct {
	Packages map[string]pkgartifact.Meta `json:"packages"`
	Config   map[string]any              `json:"config"`
}

func newMeta() *Meta {
	return &Meta{
		Packages: make(map[string]pkgartifact.Meta),
		Config:   make(map[string]any),
	}
}

// loadMeta reads the state document under prefix. An absent file
// yields an empty document; unparseable JSON surfaces as MetaCorrupt.
func loadMeta(prefix string) (*Meta, error) {
	path := filepath.Join(prefix, MetaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newMeta(), nil
		}
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "read %s", path)
	}

	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.MetaCorrupt, err, "parse %s", path)
	}
	if m.Packages == nil {
		m.Packages = make(map[string]pkgartifact.Meta)
	}
	if m.Config == nil {
		m.Config = make(map[string]any)
	}
	return &m, nil
}

// saveMeta writes the document atomically: full serialization to a
// temp file in the same directory, then rename over the old one.
func saveMeta(prefix string, m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "marshal environment meta")
	}

	path := filepath.Join(prefix, MetaFile)
	tmp, err := os.CreateTemp(prefix, MetaFile+".*")
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "create temp meta in %s", prefix)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ipkgerr.Wrap(ipkgerr.IoError, err, "write %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ipkgerr.Wrap(ipkgerr.IoError, err, "close %s", tmpName)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return ipkgerr.Wrap(ipkgerr.IoError, err, "chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ipkgerr.Wrap(ipkgerr.IoError, err, "rename %s to %s", tmpName, path)
	}
	return nil
}

// metaLock is the advisory flock serializing install/uninstall/build
// against one prefix. Acquire blocks; concurrent top-level operations
// on the same environment queue behind each other.
type metaLock struct {
	file *os.File
}

func acquireLock(prefix string) (*metaLock, error) {
	path := filepath.Join(prefix, lockFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "open lock file %s", path)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		file.Close()
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "lock %s", path)
	}
	return &metaLock{file: file}, nil
}

func (l *metaLock) release() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
