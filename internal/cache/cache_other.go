//go:build !windows

package cache

// DefaultDirs returns no cache directories on non-Windows platforms.
func DefaultDirs() []string { return nil }
