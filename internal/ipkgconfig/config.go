// Package ipkgconfig resolves ipkg's on-disk layout (home directory,
// cache directories) and a handful of environment-tunable operational
// parameters. Modeled on the teacher's internal/config package:
// environment overrides are read on each call, validated against a
// sane range, and fall back to a logged value rather than failing.
package ipkgconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvHome overrides the default ipkg home directory.
	EnvHome = "IPKG_HOME"

	// EnvCacheDir overrides the download cache directory
	// independently of EnvHome (spec.md §6: IPKG_CACHE_DIR).
	EnvCacheDir = "IPKG_CACHE_DIR"

	// EnvAPITimeout configures the HTTP timeout used by the fetcher
	// and version resolvers.
	EnvAPITimeout = "IPKG_API_TIMEOUT"

	// EnvEnvironment signals the currently active environment prefix
	// (spec.md §6).
	EnvEnvironment = "IPKG_ENVIRONMENT"

	// DefaultAPITimeout is used when EnvAPITimeout is unset or invalid.
	DefaultAPITimeout = 30 * time.Second
)

// ActiveEnvironment returns the prefix of the currently activated
// environment, or "" when none is active.
func ActiveEnvironment() string {
	return os.Getenv(EnvEnvironment)
}

// GetAPITimeout returns the configured HTTP timeout, clamped to a
// sane [1s, 10m] range. An unparsable value is replaced by
// DefaultAPITimeout and an out-of-range one by the nearest bound; both
// cases log a warning to stderr.
func GetAPITimeout() time.Duration {
	raw := os.Getenv(EnvAPITimeout)
	if raw == "" {
		return DefaultAPITimeout
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n", EnvAPITimeout, raw, DefaultAPITimeout)
		return DefaultAPITimeout
	}
	if d < time.Second {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum 1s\n", EnvAPITimeout, d)
		return time.Second
	}
	if d > 10*time.Minute {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum 10m\n", EnvAPITimeout, d)
		return 10 * time.Minute
	}
	return d
}

// ParseByteSize parses a human-readable byte size ("50MB", "50M",
// "52428800") into a byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	var numStr, suffix string
	for i, c := range s {
		if (c >= '0' && c <= '9') || c == '.' {
			numStr += string(c)
		} else {
			suffix = s[i:]
			break
		}
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %q", numStr)
	}

	var mult float64
	switch suffix {
	case "", "B":
		mult = 1
	case "K", "KB":
		mult = 1024
	case "M", "MB":
		mult = 1024 * 1024
	case "G", "GB":
		mult = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size suffix: %q", suffix)
	}
	return int64(num * mult), nil
}

// Config holds the resolved ipkg directory layout.
type Config struct {
	HomeDir      string // $IPKG_HOME, default ~/.ipkg
	EnvsDir      string // $IPKG_HOME/environments — named environment prefixes
	RepoCacheDir string // $IPKG_HOME/repositories — cloned/mirrored repositories
	CacheDir     string // $IPKG_CACHE_DIR, default $IPKG_HOME/cache — download cache
	KeyCacheDir  string // $IPKG_HOME/cache/keys — cached PGP public keys
}

// Default resolves a Config from environment variables, falling back
// to ~/.ipkg.
func Default() (*Config, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		home = filepath.Join(h, ".ipkg")
	}

	cacheDir := os.Getenv(EnvCacheDir)
	if cacheDir == "" {
		cacheDir = filepath.Join(home, "cache")
	}

	return &Config{
		HomeDir:      home,
		EnvsDir:      filepath.Join(home, "environments"),
		RepoCacheDir: filepath.Join(home, "repositories"),
		CacheDir:     cacheDir,
		KeyCacheDir:  filepath.Join(home, "cache", "keys"),
	}, nil
}

// EnsureDirectories creates every directory the Config names.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.HomeDir, c.EnvsDir, c.RepoCacheDir, c.CacheDir, c.KeyCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// EnvironmentDir returns the prefix path for a named environment.
func (c *Config) EnvironmentDir(name string) string {
	return filepath.Join(c.EnvsDir, name)
}
