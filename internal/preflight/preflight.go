// Package preflight runs advisory checks before an update run. Findings are
// reported, never enforced: the run proceeds either way.
package preflight

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
)

// Check is one individual check result.
type Check struct {
	Name    string
	Passed  bool
	Message string
}

// DiskSpace verifies the system drive has at least minGB free space.
func DiskSpace(minGB float64) Check {
	check := Check{Name: "disk_space"}

	path := systemDrivePath()
	usage, err := disk.Usage(path)
	if err != nil {
		check.Message = fmt.Sprintf("failed to check disk space on %s: %v", path, err)
		return check
	}

	freeGB := float64(usage.Free) / (1024 * 1024 * 1024)
	if freeGB < minGB {
		check.Message = fmt.Sprintf("insufficient disk space: %.1f GB free, minimum %.1f GB required", freeGB, minGB)
		return check
	}

	check.Passed = true
	check.Message = fmt.Sprintf("%.1f GB free on %s", freeGB, path)
	return check
}

func systemDrivePath() string {
	if runtime.GOOS != "windows" {
		return "/"
	}
	systemDrive := os.Getenv("SystemDrive")
	if systemDrive == "" {
		systemDrive = "C:"
	}
	return systemDrive + `\`
}
