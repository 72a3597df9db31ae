// Package fetch implements the verified file fetcher (spec §4.2):
// pluggable backends over local paths and HTTP(S), producing a
// readable, seekable byte source with optional content-hash
// verification and an on-disk download cache.
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
)

// HashAlgorithm names a supported content-hash algorithm.
type HashAlgorithm string

// SHA256 is currently the only supported hash algorithm.
const SHA256 HashAlgorithm = "sha256"

// spillThreshold is the in-memory buffer size above which a download
// is spilled to a temp file instead of held in RAM — per the
// "never hold arbitrary remote content in RAM" redesign.
const spillThreshold = 64 << 20 // 64 MiB

// Fetcher resolves file/http(s) locations into Sources, backed by a
// shared on-disk download cache keyed by a hash of the location URL.
type Fetcher struct {
	cacheDir string
	client   *http.Client
	log      ipkglog.Logger
}

// New builds a Fetcher. cacheDir may be empty, which disables caching.
func New(cacheDir string, log ipkglog.Logger) *Fetcher {
	if log == nil {
		log = ipkglog.NewNoop()
	}
	return &Fetcher{cacheDir: cacheDir, client: newHTTPClient(), log: log}
}

// Source is a readable, seekable byte stream produced by Open.
type Source struct {
	rs           io.ReadSeeker
	closer       io.Closer
	location     string
	expectedHash string
	algorithm    HashAlgorithm
}

func (s *Source) Read(p []byte) (int, error)        { return s.rs.Read(p) }
func (s *Source) Seek(o int64, w int) (int64, error) { return s.rs.Seek(o, w) }

// Close releases any backing resources (temp file, open handle).
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Verify computes the hash of the entire stream and compares it to
// the expected hash given to Open. It succeeds silently when no hash
// was given, and always leaves the stream positioned at the start.
func (s *Source) Verify() error {
	if _, err := s.rs.Seek(0, io.SeekStart); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "seek for verification")
	}
	if s.expectedHash == "" {
		return nil
	}
	h := sha256.New()
	if _, err := io.Copy(h, s.rs); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "read for verification")
	}
	if _, err := s.rs.Seek(0, io.SeekStart); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "seek after verification")
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != s.expectedHash {
		return ipkgerr.New(ipkgerr.ChecksumMismatch, "hash mismatch: expected %s, got %s", s.expectedHash, got).
			WithOperands(s.expectedHash, got)
	}
	return nil
}

// Open resolves location by its URI scheme ("file", "http"/"https", or
// a bare filesystem path) and returns a Source. expectedHash may be
// empty to skip verification entirely.
func (f *Fetcher) Open(ctx context.Context, location, expectedHash string, algorithm HashAlgorithm) (*Source, error) {
	if algorithm == "" {
		algorithm = SHA256
	}
	if algorithm != SHA256 {
		return nil, ipkgerr.New(ipkgerr.InvalidInput, "unsupported hash algorithm %q", algorithm)
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		path := location
		if u != nil && u.Scheme == "file" {
			path = u.Path
		}
		return f.openLocal(path, expectedHash, algorithm)
	}

	switch u.Scheme {
	case "http", "https":
		return f.openRemote(ctx, location, expectedHash, algorithm)
	default:
		return nil, ipkgerr.New(ipkgerr.InvalidInput, "unsupported location scheme %q", u.Scheme)
	}
}

func (f *Fetcher) openLocal(path, expectedHash string, algorithm HashAlgorithm) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ipkgerr.Wrap(ipkgerr.NotFound, err, "open %s", path)
		}
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "open %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "stat %s", path)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, ipkgerr.New(ipkgerr.InvalidInput, "%s is not a regular file", path)
	}
	return &Source{rs: file, closer: file, location: path, expectedHash: expectedHash, algorithm: algorithm}, nil
}

func (f *Fetcher) openRemote(ctx context.Context, location, expectedHash string, algorithm HashAlgorithm) (*Source, error) {
	key := cacheKeyFor(location)

	if f.cacheDir != "" {
		cachedPath := filepath.Join(f.cacheDir, key)
		if file, err := os.Open(cachedPath); err == nil {
			f.log.Debug("fetch cache hit", "location", location, "cache_key", key)
			return &Source{rs: file, closer: file, location: location, expectedHash: expectedHash, algorithm: algorithm}, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "build request for %s", location)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "download %s", location)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ipkgerr.New(ipkgerr.NotFound, "download %s: unexpected status %s", location, resp.Status)
	}

	rs, closer, err := spill(resp.Body)
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "buffer download %s", location)
	}

	if f.cacheDir != "" {
		f.persistToCache(rs, key)
	}

	return &Source{rs: rs, closer: closer, location: location, expectedHash: expectedHash, algorithm: algorithm}, nil
}

// spill reads r fully, buffering in memory up to spillThreshold bytes;
// past that it spills the buffered prefix plus the remainder of r into
// a temp file, so an arbitrarily large download never sits entirely
// in RAM. The returned closer (nil for the in-memory case) removes
// the temp file on Close.
func spill(r io.Reader) (io.ReadSeeker, io.Closer, error) {
	limited := io.LimitReader(r, spillThreshold+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, nil, err
	}
	if int64(len(data)) <= spillThreshold {
		return bytes.NewReader(data), nil, nil
	}

	tmp, err := os.CreateTemp("", "ipkg-fetch-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, err
	}
	return tmp, &tempFileCloser{f: tmp}, nil
}

type tempFileCloser struct{ f *os.File }

func (c *tempFileCloser) Close() error {
	err := c.f.Close()
	os.Remove(c.f.Name())
	return err
}

// persistToCache writes the full content of rs to the cache directory
// under key, atomically via write-to-temp-then-rename. Failures are
// logged and swallowed: the cache is a best-effort optimization, never
// load-bearing for correctness (spec §7 propagation policy).
func (f *Fetcher) persistToCache(rs io.ReadSeeker, key string) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		f.log.Warn("fetch cache write skipped", "reason", "seek failed", "error", err)
		return
	}
	defer rs.Seek(0, io.SeekStart)

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		f.log.Warn("fetch cache write skipped", "reason", "mkdir failed", "error", err)
		return
	}
	tmp, err := os.CreateTemp(f.cacheDir, ".tmp-*")
	if err != nil {
		f.log.Warn("fetch cache write skipped", "error", err)
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rs); err != nil {
		tmp.Close()
		f.log.Warn("fetch cache write failed", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		f.log.Warn("fetch cache write failed", "error", err)
		return
	}
	if err := os.Rename(tmp.Name(), filepath.Join(f.cacheDir, key)); err != nil {
		f.log.Warn("fetch cache write failed", "error", err)
	}
}

func cacheKeyFor(location string) string {
	sum := sha256.Sum256([]byte(location))
	return hex.EncodeToString(sum[:])
}
