package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// EnvvarCacheDir names the environment variable that relocates satchel's cache
const EnvvarCacheDir = "SATCHEL_CACHE_DIR"

// Cache is a flat folder of installed tools, one directory per tool version.
// Entries only ever appear through an atomic rename, so an existing entry is complete.
type Cache struct {
	Origin string
}

// NewCache creates a new tool cache
func NewCache(location string) (*Cache, error) {
	err := os.MkdirAll(location, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{location}, nil
}

// DefaultCacheDir is the cache location unless SATCHEL_CACHE_DIR says otherwise
func DefaultCacheDir() string {
	if dir := os.Getenv(EnvvarCacheDir); dir != "" {
		return dir
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "satchel")
}

// Location computes where a tool version is installed.
// Returns exists == true if that installation is present.
func (c *Cache) Location(name, version string) (path string, exists bool) {
	path = filepath.Join(c.Origin, "tools", name, version)

	// Always ensure the parent directory exists so that installations can be staged next to it
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.WithError(err).WithField("dir", filepath.Dir(path)).Warn("Failed to create directory for tool")
	}

	stat, err := os.Stat(path)
	return path, err == nil && stat.IsDir()
}

// Installed lists the versions of a tool present in the cache, sorted
func (c *Cache) Installed(name string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.Origin, "tools", name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var res []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		res = append(res, e.Name())
	}
	sort.Strings(res)
	return res, nil
}
