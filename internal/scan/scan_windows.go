//go:build windows

package scan

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Trigger runs the update orchestrator's scan command synchronously with the
// console window hidden and waits for it to finish. Newer systems carry
// UsoClient; older ones fall back to wuauclt.
func Trigger() error {
	system32 := filepath.Join(systemRoot(), "System32")

	uso := filepath.Join(system32, "UsoClient.exe")
	if _, err := os.Stat(uso); err == nil {
		return runHidden(uso, "StartScan")
	}

	return runHidden(filepath.Join(system32, "wuauclt.exe"), "/resetauthorization", "/detectnow")
}

func runHidden(path string, args ...string) error {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func systemRoot() string {
	if root := os.Getenv("SystemRoot"); root != "" {
		return root
	}
	return `C:\Windows`
}
