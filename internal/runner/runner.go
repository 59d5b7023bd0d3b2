// Package runner sequences one unattended update run: prepare the update
// machinery, search, report, download, install, and decide on a reboot.
package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/breeze-rmm/patchrun/internal/config"
	"github.com/breeze-rmm/patchrun/internal/logging"
	"github.com/breeze-rmm/patchrun/internal/preflight"
	"github.com/breeze-rmm/patchrun/internal/reboot"
	"github.com/breeze-rmm/patchrun/internal/wua"
)

var log = logging.L("runner")

const (
	// maxPreviewTitles caps how many update titles are logged individually.
	maxPreviewTitles = 5
	// maxTitleWidth caps the logged length of a single title.
	maxTitleWidth = 80
)

// UpdateClient drives the platform update machinery. Open brings up the
// session; Search builds the one collection per run that Download and
// Install then operate on.
type UpdateClient interface {
	Open() error
	Close()
	Search(criteria string) ([]wua.Update, error)
	Download() (wua.OperationResult, error)
	Install() (wua.OperationResult, error)
}

// ServiceRestarter restarts the services the update pipeline depends on.
// Implementations absorb their own failures.
type ServiceRestarter interface {
	RestartAll()
}

// CacheCleaner clears the update caches. Implementations absorb their own
// failures.
type CacheCleaner interface {
	Clean()
}

// Deps are the collaborators the runner sequences. Any nil entry disables
// the corresponding step.
type Deps struct {
	Services       ServiceRestarter
	Cache          CacheCleaner
	TriggerScan    func() error
	Updates        UpdateClient
	ScheduleReboot func(delay time.Duration, reason string) error
	PendingReboot  func() (bool, []string)
	DiskSpace      func(minGB float64) preflight.Check
}

// Report summarizes one run.
type Report struct {
	UpdatesFound    int
	Installed       bool
	RebootRequired  bool
	RebootScheduled bool
}

// Runner executes the run sequence against a fixed configuration.
type Runner struct {
	cfg  *config.Config
	deps Deps
}

// New creates a Runner.
func New(cfg *config.Config, deps Deps) *Runner {
	return &Runner{cfg: cfg, deps: deps}
}

// Run executes the full sequence. It never panics and never returns an
// error: every fault is logged and reflected in the Report, and the process
// goes on to write its finishing line regardless.
func (r *Runner) Run() (report Report) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("run aborted by panic", logging.KeyError, fmt.Sprint(rec))
			report = Report{UpdatesFound: report.UpdatesFound}
		}
	}()

	r.preflight()
	r.prepare()

	// The session comes up only after the prep steps: even a machine whose
	// update agent cannot be reached still gets its services bounced and
	// caches cleared.
	if err := r.deps.Updates.Open(); err != nil {
		log.Error("cannot open update session", logging.KeyError, err)
		return report
	}
	defer r.deps.Updates.Close()

	updates, ok := r.searchAndReport()
	report.UpdatesFound = len(updates)
	if !ok || len(updates) == 0 {
		return report
	}

	if !r.cfg.InstallUpdates {
		log.Info("installation disabled, skipping download and install")
		return report
	}

	log.Info("downloading updates", logging.KeyCount, len(updates))
	res, err := r.deps.Updates.Download()
	if err != nil {
		log.Error("download failed", logging.KeyError, err)
		return report
	}
	if res.Code != wua.ResultSucceeded {
		log.Error("download did not fully succeed", "result", res.Describe())
		return report
	}
	log.Info("download complete")

	log.Info("installing updates", logging.KeyCount, len(updates))
	res, err = r.deps.Updates.Install()
	if err != nil {
		log.Error("install failed", logging.KeyError, err)
		return report
	}
	if res.Code != wua.ResultSucceeded {
		log.Error("install did not fully succeed", "result", res.Describe())
		return report
	}

	report.Installed = true
	report.RebootRequired = res.RebootRequired
	log.Info("installation complete", "rebootRequired", res.RebootRequired)

	if !res.RebootRequired {
		return report
	}
	if !r.cfg.AutoReboot {
		log.Info("reboot required, automatic reboot disabled")
		return report
	}

	delay := r.cfg.RebootDelay()
	log.Info(fmt.Sprintf("restarting in %d seconds", int(delay/time.Second)))
	if r.deps.ScheduleReboot == nil {
		log.Error("reboot scheduling unavailable")
		return report
	}
	if err := r.deps.ScheduleReboot(delay, reboot.Reason); err != nil {
		// The machine stays up; the install itself still succeeded.
		log.Error("reboot scheduling failed", logging.KeyError, err)
		return report
	}
	report.RebootScheduled = true

	return report
}

// Scan runs the search-and-report portion only. Nothing is downloaded or
// installed, whatever the configuration says.
func (r *Runner) Scan() (report Report) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("scan aborted by panic", logging.KeyError, fmt.Sprint(rec))
			report = Report{UpdatesFound: report.UpdatesFound}
		}
	}()

	r.preflight()

	if !r.cfg.SkipScanTrigger && r.deps.TriggerScan != nil {
		r.triggerScan()
	}

	if err := r.deps.Updates.Open(); err != nil {
		log.Error("cannot open update session", logging.KeyError, err)
		return report
	}
	defer r.deps.Updates.Close()

	updates, _ := r.searchAndReport()
	report.UpdatesFound = len(updates)
	return report
}

// preflight logs advisory findings; it never stops the run.
func (r *Runner) preflight() {
	if r.deps.PendingReboot != nil {
		if pending, reasons := r.deps.PendingReboot(); pending {
			log.Warn("a reboot is already pending", "reasons", strings.Join(reasons, "; "))
		}
	}

	if r.cfg.MinDiskSpaceGB > 0 && r.deps.DiskSpace != nil {
		check := r.deps.DiskSpace(r.cfg.MinDiskSpaceGB)
		if !check.Passed {
			log.Warn("disk space check failed", "detail", check.Message)
		} else {
			log.Debug("disk space check passed", "detail", check.Message)
		}
	}
}

// prepare runs the best-effort steps that precede the search. Each absorbs
// or downgrades its own failures; none can stop the run.
func (r *Runner) prepare() {
	if !r.cfg.SkipServiceRestart && r.deps.Services != nil {
		log.Info("restarting update services")
		r.deps.Services.RestartAll()
	}

	if !r.cfg.SkipCacheClean && r.deps.Cache != nil {
		log.Info("clearing update caches")
		r.deps.Cache.Clean()
	}

	if !r.cfg.SkipScanTrigger && r.deps.TriggerScan != nil {
		r.triggerScan()
	}
}

func (r *Runner) triggerScan() {
	log.Info("triggering update scan")
	if err := r.deps.TriggerScan(); err != nil {
		log.Warn("update scan trigger failed", logging.KeyError, err)
	}
}

// searchAndReport searches for updates and logs what it found: the count,
// up to maxPreviewTitles individual titles, and a remainder line when more
// exist. ok is false only when the search itself failed.
func (r *Runner) searchAndReport() (updates []wua.Update, ok bool) {
	updates, err := r.deps.Updates.Search(r.cfg.SearchCriteria)
	if err != nil {
		log.Error("update search failed", logging.KeyError, err)
		return nil, false
	}

	if len(updates) == 0 {
		log.Info("no updates found")
		return nil, true
	}

	log.Info("updates available", logging.KeyCount, len(updates))
	for i, u := range updates {
		if i == maxPreviewTitles {
			break
		}
		if u.KBNumber != "" {
			log.Info(truncateTitle(u.Title), "kb", u.KBNumber)
		} else {
			log.Info(truncateTitle(u.Title))
		}
	}
	if len(updates) > maxPreviewTitles {
		log.Info(fmt.Sprintf("... and %d more", len(updates)-maxPreviewTitles))
	}

	return updates, true
}

// truncateTitle shortens a title to maxTitleWidth characters, replacing the
// tail with an ellipsis when it does not fit.
func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleWidth {
		return title
	}
	return string(runes[:maxTitleWidth-3]) + "..."
}
