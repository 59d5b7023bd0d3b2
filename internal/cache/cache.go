// Package cache clears the on-disk caches the update service builds, which
// is the usual remedy for a wedged download or a stale update catalog.
package cache

import (
	"os"
	"path/filepath"

	"github.com/breeze-rmm/patchrun/internal/logging"
	"github.com/breeze-rmm/patchrun/internal/svcctl"
)

var log = logging.L("cache")

// Cleaner empties a fixed set of cache directories, stopping the owning
// service first so the files are not locked.
type Cleaner struct {
	ctl     svcctl.Controller
	service string
	dirs    []string
}

// New creates a Cleaner. service may be empty to skip the stop/start
// bracketing (used by tests).
func New(ctl svcctl.Controller, service string, dirs []string) *Cleaner {
	return &Cleaner{ctl: ctl, service: service, dirs: dirs}
}

// Clean is best-effort end to end: a missing directory is skipped, a locked
// entry is counted and reported, and service stop/start failures are
// warnings. Clean never reports an error to its caller.
func (c *Cleaner) Clean() {
	if c.ctl != nil && c.service != "" {
		if err := c.ctl.Stop(c.service); err != nil {
			log.Warn("stopping update service before cache clean failed",
				"service", c.service, logging.KeyError, err)
		}
	}

	for _, dir := range c.dirs {
		removed, failed, err := removeContents(dir)
		switch {
		case os.IsNotExist(err):
			log.Debug("cache directory absent", "dir", dir)
		case err != nil:
			log.Warn("cache directory could not be read", "dir", dir, logging.KeyError, err)
		case failed > 0:
			log.Warn("cache directory partially cleared",
				"dir", dir, "removed", removed, "failed", failed)
		default:
			log.Info("cache directory cleared", "dir", dir, "entries", removed)
		}
	}

	if c.ctl != nil && c.service != "" {
		if err := c.ctl.Start(c.service); err != nil {
			log.Warn("restarting update service after cache clean failed",
				"service", c.service, logging.KeyError, err)
		}
	}
}

// removeContents deletes every entry under dir, leaving dir itself in place.
// Per-entry failures are counted rather than aborting the sweep.
func removeContents(dir string) (removed, failed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			failed++
			continue
		}
		removed++
	}
	return removed, failed, nil
}
