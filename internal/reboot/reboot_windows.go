//go:build windows

package reboot

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// Schedule issues a delayed forced restart with a user-visible reason.
// The delay gives logged-in users the countdown notice Windows shows for
// shutdown.exe; /d p:2:17 records "operating system: security fix" as the
// shutdown reason code.
func Schedule(delay time.Duration, reason string) error {
	seconds := int(delay / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	cmd := exec.Command("shutdown",
		"/r", "/f",
		"/t", strconv.Itoa(seconds),
		"/d", "p:2:17",
		"/c", reason,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("schedule restart: %w", err)
	}
	return nil
}

// Cancel aborts a previously scheduled restart.
func Cancel() error {
	cmd := exec.Command("shutdown", "/a")
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cancel restart: %w", err)
	}
	return nil
}
