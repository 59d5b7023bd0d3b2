//go:build !windows

package scan

import "errors"

// Trigger is unavailable off Windows.
func Trigger() error {
	return errors.New("scan: update scan trigger is only available on windows")
}
