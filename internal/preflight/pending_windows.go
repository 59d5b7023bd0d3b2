//go:build windows

package preflight

import (
	"golang.org/x/sys/windows/registry"
)

// PendingReboot checks multiple sources to determine if a reboot is already
// pending. Returns true if any source indicates one, along with the reasons.
func PendingReboot() (bool, []string) {
	var reasons []string

	if keyExists(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows\CurrentVersion\WindowsUpdate\Auto Update\RebootRequired`) {
		reasons = append(reasons, "Windows Update requires reboot")
	}

	if keyExists(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows\CurrentVersion\Component Based Servicing\RebootPending`) {
		reasons = append(reasons, "Component servicing reboot pending")
	}

	if hasPendingFileRenames() {
		reasons = append(reasons, "Pending file rename operations")
	}

	if keyExists(registry.LOCAL_MACHINE, `SYSTEM\CurrentControlSet\Control\Session Manager\PendingFileRenameOperations2`) {
		reasons = append(reasons, "Pending file rename operations (v2)")
	}

	return len(reasons) > 0, reasons
}

// keyExists checks if a registry key exists.
func keyExists(root registry.Key, path string) bool {
	k, err := registry.OpenKey(root, path, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	k.Close()
	return true
}

// hasPendingFileRenames checks if PendingFileRenameOperations has entries.
func hasPendingFileRenames() bool {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SYSTEM\CurrentControlSet\Control\Session Manager`, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()

	val, _, err := k.GetStringsValue("PendingFileRenameOperations")
	if err != nil {
		return false
	}
	return len(val) > 0
}
