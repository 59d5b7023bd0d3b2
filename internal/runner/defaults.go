package runner

import (
	"time"

	"github.com/breeze-rmm/patchrun/internal/cache"
	"github.com/breeze-rmm/patchrun/internal/config"
	"github.com/breeze-rmm/patchrun/internal/preflight"
	"github.com/breeze-rmm/patchrun/internal/reboot"
	"github.com/breeze-rmm/patchrun/internal/scan"
	"github.com/breeze-rmm/patchrun/internal/svcctl"
)

// primaryUpdateService is the service owning the update caches.
const primaryUpdateService = "wuauserv"

// DefaultDeps wires the platform implementations of every collaborator.
// The update client is supplied by the caller; the runner opens and closes
// it around the search, download, and install stages.
func DefaultDeps(cfg *config.Config, updates UpdateClient) Deps {
	ctl := svcctl.New()

	return Deps{
		Services: serviceRestarter{
			ctl:    ctl,
			names:  cfg.Services,
			settle: cfg.ServiceRestartDelay(),
		},
		Cache:          cache.New(ctl, primaryUpdateService, cache.DefaultDirs()),
		TriggerScan:    scan.Trigger,
		Updates:        updates,
		ScheduleReboot: reboot.Schedule,
		PendingReboot:  preflight.PendingReboot,
		DiskSpace:      preflight.DiskSpace,
	}
}

type serviceRestarter struct {
	ctl    svcctl.Controller
	names  []string
	settle time.Duration
}

func (s serviceRestarter) RestartAll() {
	svcctl.RestartAll(s.ctl, s.names, s.settle)
}
