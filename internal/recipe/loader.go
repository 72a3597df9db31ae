package recipe

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

// Parse decodes a recipe from raw TOML bytes and validates it.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.InvalidInput, err, "parse recipe TOML")
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ParseFile reads and parses a recipe from disk.
func ParseFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ipkgerr.Wrap(ipkgerr.NotFound, err, "recipe file %s", path)
		}
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "read recipe file %s", path)
	}
	return Parse(data)
}

// Filename returns the canonical on-disk name for a recipe within its
// repository's per-package subdirectory (spec §3/§6:
// "<name>/<name>-<version>-<revision>.toml").
func Filename(name, version string, revision int) string {
	return fmt.Sprintf("%s-%s-%d.toml", name, version, revision)
}
