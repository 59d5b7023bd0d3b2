//go:build !windows

package preflight

// PendingReboot is a no-op on non-Windows platforms.
func PendingReboot() (bool, []string) {
	return false, nil
}
