package fetch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ProtonMail/gopenpgp/v2/crypto"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

// maxKeySize caps fetched PGP public keys at 100 KiB.
const maxKeySize = 100 * 1024

var fingerprintPattern = regexp.MustCompile(`^[0-9A-Fa-f]{40}$`)

// ValidateFingerprint checks a 40-hex-character PGP fingerprint.
func ValidateFingerprint(fingerprint string) error {
	if !fingerprintPattern.MatchString(fingerprint) {
		return ipkgerr.New(ipkgerr.InvalidInput, "invalid fingerprint %q: must be 40 hex characters", fingerprint)
	}
	return nil
}

// KeyCache stores armored PGP public keys by fingerprint, fetching
// through the fetcher on a miss. Cache write failures are logged and
// ignored; the key remains usable.
type KeyCache struct {
	dir     string
	fetcher *Fetcher
}

// NewKeyCache returns a KeyCache rooted at dir.
func NewKeyCache(dir string, fetcher *Fetcher) *KeyCache {
	return &KeyCache{dir: dir, fetcher: fetcher}
}

// Get returns the key for fingerprint, loading it from the cache or
// fetching it from keyURL. The fetched key's fingerprint must match.
func (c *KeyCache) Get(ctx context.Context, fingerprint, keyURL string) (*crypto.Key, error) {
	if err := ValidateFingerprint(fingerprint); err != nil {
		return nil, err
	}
	fingerprint = strings.ToUpper(fingerprint)

	if key, err := c.loadCached(fingerprint); err == nil {
		return key, nil
	}

	src, err := c.fetcher.Open(ctx, keyURL, "", SHA256)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	armored, err := io.ReadAll(io.LimitReader(src, maxKeySize+1))
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "read key from %s", keyURL)
	}
	if len(armored) > maxKeySize {
		return nil, ipkgerr.New(ipkgerr.InvalidInput, "key at %s exceeds %d bytes", keyURL, maxKeySize)
	}

	key, err := crypto.NewKeyFromArmored(string(armored))
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "parse key from %s", keyURL)
	}
	if got := strings.ToUpper(key.GetFingerprint()); got != fingerprint {
		return nil, ipkgerr.New(ipkgerr.ChecksumMismatch,
			"key fingerprint mismatch: expected %s, got %s", fingerprint, got)
	}

	if err := os.MkdirAll(c.dir, 0o755); err == nil {
		cachePath := filepath.Join(c.dir, fingerprint+".asc")
		if err := os.WriteFile(cachePath, armored, 0o644); err != nil {
			c.fetcher.log.Warn("failed to cache PGP key", "path", cachePath, "error", err)
		}
	}
	return key, nil
}

func (c *KeyCache) loadCached(fingerprint string) (*crypto.Key, error) {
	cachePath := filepath.Join(c.dir, fingerprint+".asc")
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, err
	}
	key, err := crypto.NewKeyFromArmored(string(data))
	if err != nil {
		os.Remove(cachePath)
		return nil, err
	}
	if strings.ToUpper(key.GetFingerprint()) != fingerprint {
		os.Remove(cachePath)
		return nil, ipkgerr.New(ipkgerr.ChecksumMismatch, "cached key fingerprint mismatch")
	}
	return key, nil
}

// VerifySignature checks a detached PGP signature (armored or binary)
// over the source's full content against key. It complements, never
// replaces, the content-hash Verify. The source is rewound before and
// after reading.
func (s *Source) VerifySignature(sigData []byte, key *crypto.Key) error {
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "rewind %s", s.location)
	}
	data, err := io.ReadAll(s)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "read %s", s.location)
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return ipkgerr.Wrap(ipkgerr.IoError, err, "rewind %s", s.location)
	}

	signature, err := crypto.NewPGPSignatureFromArmored(string(sigData))
	if err != nil {
		signature = crypto.NewPGPSignature(sigData)
	}
	keyRing, err := crypto.NewKeyRing(key)
	if err != nil {
		return ipkgerr.Wrap(ipkgerr.InvalidInput, err, "build keyring")
	}

	if err := keyRing.VerifyDetached(crypto.NewPlainMessage(data), signature, crypto.GetUnixTime()); err != nil {
		return ipkgerr.Wrap(ipkgerr.ChecksumMismatch, err, "signature verification failed for %s", s.location)
	}
	return nil
}
