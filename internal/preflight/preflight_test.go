package preflight

import (
	"strings"
	"testing"
)

func TestDiskSpacePasses(t *testing.T) {
	check := DiskSpace(0.001)
	if !check.Passed {
		t.Fatalf("check failed on a drive with free space: %s", check.Message)
	}
	if !strings.Contains(check.Message, "GB free") {
		t.Errorf("Message = %q", check.Message)
	}
	if check.Name != "disk_space" {
		t.Errorf("Name = %q", check.Name)
	}
}

func TestDiskSpaceFailsWhenMinimumUnreachable(t *testing.T) {
	check := DiskSpace(1e9)
	if check.Passed {
		t.Fatal("check passed against an exabyte minimum")
	}
	if !strings.Contains(check.Message, "insufficient disk space") {
		t.Errorf("Message = %q", check.Message)
	}
}
