//go:build !windows

package reboot

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("reboot: restart scheduling is only available on windows")

// Schedule is unavailable off Windows.
func Schedule(time.Duration, string) error { return errUnsupported }

// Cancel is unavailable off Windows.
func Cancel() error { return errUnsupported }
