//go:build windows

package cache

import (
	"os"
	"path/filepath"
)

// DefaultDirs returns the update caches cleared before a run: the update
// download store and the catalog signature cache.
func DefaultDirs() []string {
	systemRoot := os.Getenv("SystemRoot")
	if systemRoot == "" {
		systemRoot = `C:\Windows`
	}
	return []string{
		filepath.Join(systemRoot, "SoftwareDistribution", "Download"),
		filepath.Join(systemRoot, "System32", "catroot2"),
	}
}
