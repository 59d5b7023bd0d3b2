package runner

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/breeze-rmm/patchrun/internal/config"
	"github.com/breeze-rmm/patchrun/internal/logging"
	"github.com/breeze-rmm/patchrun/internal/reboot"
	"github.com/breeze-rmm/patchrun/internal/wua"
)

type fakeClient struct {
	updates     []wua.Update
	openErr     error
	searchErr   error
	searchPanic bool

	downloadRes wua.OperationResult
	downloadErr error
	installRes  wua.OperationResult
	installErr  error

	opened     bool
	closed     bool
	searched   bool
	downloaded bool
	installed  bool
}

func (f *fakeClient) Open() error {
	f.opened = true
	return f.openErr
}

func (f *fakeClient) Close() { f.closed = true }

func (f *fakeClient) Search(criteria string) ([]wua.Update, error) {
	f.searched = true
	if f.searchPanic {
		panic("searcher exploded")
	}
	return f.updates, f.searchErr
}

func (f *fakeClient) Download() (wua.OperationResult, error) {
	f.downloaded = true
	return f.downloadRes, f.downloadErr
}

func (f *fakeClient) Install() (wua.OperationResult, error) {
	f.installed = true
	return f.installRes, f.installErr
}

type fakeServices struct{ calls int }

func (f *fakeServices) RestartAll() { f.calls++ }

type fakeCache struct{ calls int }

func (f *fakeCache) Clean() { f.calls++ }

type rebootCall struct {
	delay  time.Duration
	reason string
}

// env bundles a fake of every collaborator.
type env struct {
	client    *fakeClient
	services  fakeServices
	cache     fakeCache
	scans     int
	scanErr   error
	reboots   []rebootCall
	rebootErr error
}

func (e *env) deps() Deps {
	return Deps{
		Services: &e.services,
		Cache:    &e.cache,
		TriggerScan: func() error {
			e.scans++
			return e.scanErr
		},
		Updates: e.client,
		ScheduleReboot: func(delay time.Duration, reason string) error {
			e.reboots = append(e.reboots, rebootCall{delay: delay, reason: reason})
			return e.rebootErr
		},
		PendingReboot: func() (bool, []string) { return false, nil },
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ServiceRestartDelaySeconds = 0
	cfg.RebootDelaySeconds = 1
	return cfg
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.Init(logging.Options{Format: "line", Level: "debug", File: &buf})
	t.Cleanup(func() { logging.Init(logging.Options{}) })
	return &buf
}

func okResult() wua.OperationResult {
	return wua.OperationResult{Code: wua.ResultSucceeded}
}

func someUpdates(n int) []wua.Update {
	updates := make([]wua.Update, n)
	for i := range updates {
		updates[i] = wua.Update{Title: "Security Update " + string(rune('A'+i)), KBNumber: "KB500000" + string(rune('0'+i))}
	}
	return updates
}

func TestRunHappyPathSchedulesReboot(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{
		updates:     someUpdates(2),
		downloadRes: okResult(),
		installRes:  wua.OperationResult{Code: wua.ResultSucceeded, RebootRequired: true},
	}}
	cfg := testConfig()

	report := New(cfg, e.deps()).Run()

	if !report.Installed || !report.RebootRequired || !report.RebootScheduled {
		t.Fatalf("report = %+v, want installed and reboot scheduled", report)
	}
	if report.UpdatesFound != 2 {
		t.Errorf("UpdatesFound = %d, want 2", report.UpdatesFound)
	}
	if e.services.calls != 1 || e.cache.calls != 1 || e.scans != 1 {
		t.Errorf("prep steps ran services=%d cache=%d scans=%d, want 1 each",
			e.services.calls, e.cache.calls, e.scans)
	}
	if len(e.reboots) != 1 {
		t.Fatalf("reboot calls = %d, want 1", len(e.reboots))
	}
	if e.reboots[0].delay != cfg.RebootDelay() {
		t.Errorf("reboot delay = %v, want %v", e.reboots[0].delay, cfg.RebootDelay())
	}
	if e.reboots[0].reason != reboot.Reason {
		t.Errorf("reboot reason = %q, want %q", e.reboots[0].reason, reboot.Reason)
	}
	if !strings.Contains(buf.String(), "installation complete") {
		t.Errorf("log missing installation complete line:\n%s", buf.String())
	}
	if !e.client.closed {
		t.Error("update session left open after the run")
	}
}

func TestRunPrepStillRunsWhenSessionOpenFails(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{openErr: errors.New("com initialization failed")}}
	report := New(testConfig(), e.deps()).Run()

	if report.Installed || report.UpdatesFound != 0 {
		t.Fatalf("report = %+v, want empty after failed session open", report)
	}
	if e.services.calls != 1 || e.cache.calls != 1 || e.scans != 1 {
		t.Errorf("prep steps skipped: services=%d cache=%d scans=%d, want 1 each",
			e.services.calls, e.cache.calls, e.scans)
	}
	if e.client.searched {
		t.Error("search ran without an open session")
	}
	if e.client.closed {
		t.Error("close called for a session that never opened")
	}
	assertOrder(t, buf.String(),
		"restarting update services",
		"clearing update caches",
		"triggering update scan",
		"cannot open update session",
	)
}

func TestRunNoUpdatesLogsOnce(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{}}
	report := New(testConfig(), e.deps()).Run()

	if report.UpdatesFound != 0 || report.Installed {
		t.Fatalf("report = %+v, want empty", report)
	}
	if e.client.downloaded {
		t.Error("download ran with no updates found")
	}
	if got := strings.Count(buf.String(), "no updates found"); got != 1 {
		t.Errorf("no-updates line logged %d times, want 1:\n%s", got, buf.String())
	}
}

func TestRunSearchFailureAborts(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{searchErr: errors.New("rpc unavailable")}}
	report := New(testConfig(), e.deps()).Run()

	if report.Installed || report.UpdatesFound != 0 {
		t.Fatalf("report = %+v, want empty after search failure", report)
	}
	if e.client.downloaded {
		t.Error("download ran after failed search")
	}
	if !strings.Contains(buf.String(), "[ERROR]") || !strings.Contains(buf.String(), "update search failed") {
		t.Errorf("search failure not logged as error:\n%s", buf.String())
	}
}

func TestRunInstallDisabledStopsAfterReport(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{updates: someUpdates(3)}}
	cfg := testConfig()
	cfg.InstallUpdates = false

	report := New(cfg, e.deps()).Run()

	if report.UpdatesFound != 3 || report.Installed {
		t.Fatalf("report = %+v, want 3 found and nothing installed", report)
	}
	if e.client.downloaded || e.client.installed {
		t.Error("download or install ran with installation disabled")
	}
	if !strings.Contains(buf.String(), "installation disabled") {
		t.Errorf("log missing installation disabled line:\n%s", buf.String())
	}
}

func TestRunDownloadFailureAbortsBeforeInstall(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{
		updates:     someUpdates(1),
		downloadRes: wua.OperationResult{Code: wua.ResultFailed, HResult: 0x80072EE2},
	}}
	report := New(testConfig(), e.deps()).Run()

	if report.Installed {
		t.Fatal("report claims installed after failed download")
	}
	if e.client.installed {
		t.Error("install ran after failed download")
	}
	out := buf.String()
	if !strings.Contains(out, "result code 4") || !strings.Contains(out, "0x80072EE2") {
		t.Errorf("download failure log missing raw result code or hresult:\n%s", out)
	}
}

func TestRunDownloadSucceededWithErrorsIsFailure(t *testing.T) {
	captureLogs(t)

	e := &env{client: &fakeClient{
		updates:     someUpdates(1),
		downloadRes: wua.OperationResult{Code: wua.ResultSucceededWithErrors},
	}}
	report := New(testConfig(), e.deps()).Run()

	if report.Installed || e.client.installed {
		t.Error("partial download success must not proceed to install")
	}
}

func TestRunInstallFailure(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{
		updates:     someUpdates(1),
		downloadRes: okResult(),
		installRes:  wua.OperationResult{Code: wua.ResultFailed, HResult: 0x80240016},
	}}
	report := New(testConfig(), e.deps()).Run()

	if report.Installed || report.RebootScheduled {
		t.Fatalf("report = %+v, want no install and no reboot", report)
	}
	if len(e.reboots) != 0 {
		t.Error("reboot scheduled after failed install")
	}
	if !strings.Contains(buf.String(), "install did not fully succeed") {
		t.Errorf("install failure not logged:\n%s", buf.String())
	}
}

func TestRunNoRebootWhenNotRequired(t *testing.T) {
	captureLogs(t)

	e := &env{client: &fakeClient{
		updates:     someUpdates(1),
		downloadRes: okResult(),
		installRes:  okResult(),
	}}
	report := New(testConfig(), e.deps()).Run()

	if !report.Installed || report.RebootRequired || report.RebootScheduled {
		t.Fatalf("report = %+v, want installed without reboot", report)
	}
	if len(e.reboots) != 0 {
		t.Error("reboot scheduled although none was required")
	}
}

func TestRunAutoRebootDisabled(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{
		updates:     someUpdates(1),
		downloadRes: okResult(),
		installRes:  wua.OperationResult{Code: wua.ResultSucceeded, RebootRequired: true},
	}}
	cfg := testConfig()
	cfg.AutoReboot = false

	report := New(cfg, e.deps()).Run()

	if !report.Installed || !report.RebootRequired || report.RebootScheduled {
		t.Fatalf("report = %+v, want reboot required but not scheduled", report)
	}
	if len(e.reboots) != 0 {
		t.Error("reboot scheduled with auto reboot disabled")
	}
	if !strings.Contains(buf.String(), "automatic reboot disabled") {
		t.Errorf("log missing reboot-disabled line:\n%s", buf.String())
	}
}

func TestRunRebootScheduleFailureKeepsInstallResult(t *testing.T) {
	buf := captureLogs(t)

	e := &env{
		client: &fakeClient{
			updates:     someUpdates(1),
			downloadRes: okResult(),
			installRes:  wua.OperationResult{Code: wua.ResultSucceeded, RebootRequired: true},
		},
		rebootErr: errors.New("shutdown.exe not found"),
	}
	report := New(testConfig(), e.deps()).Run()

	if !report.Installed {
		t.Error("install result lost after reboot scheduling failure")
	}
	if report.RebootScheduled {
		t.Error("report claims a reboot that was never scheduled")
	}
	if !strings.Contains(buf.String(), "reboot scheduling failed") {
		t.Errorf("scheduling failure not logged:\n%s", buf.String())
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{searchPanic: true}}
	report := New(testConfig(), e.deps()).Run()

	if report.Installed || report.RebootScheduled {
		t.Fatalf("report = %+v, want failure after panic", report)
	}
	if !strings.Contains(buf.String(), "aborted by panic") {
		t.Errorf("panic not logged:\n%s", buf.String())
	}
}

func TestRunSkipFlags(t *testing.T) {
	captureLogs(t)

	e := &env{client: &fakeClient{}}
	cfg := testConfig()
	cfg.SkipServiceRestart = true
	cfg.SkipCacheClean = true
	cfg.SkipScanTrigger = true

	New(cfg, e.deps()).Run()

	if e.services.calls != 0 || e.cache.calls != 0 || e.scans != 0 {
		t.Errorf("skipped steps still ran: services=%d cache=%d scans=%d",
			e.services.calls, e.cache.calls, e.scans)
	}
	if !e.client.searched {
		t.Error("search skipped along with the prep steps")
	}
}

func TestRunScanTriggerFailureIsWarning(t *testing.T) {
	buf := captureLogs(t)

	e := &env{
		client:  &fakeClient{},
		scanErr: errors.New("usoclient missing"),
	}
	New(testConfig(), e.deps()).Run()

	if !e.client.searched {
		t.Error("scan trigger failure stopped the run")
	}
	out := buf.String()
	if !strings.Contains(out, "[WARNING]") || !strings.Contains(out, "update scan trigger failed") {
		t.Errorf("scan trigger failure not logged as warning:\n%s", out)
	}
}

func TestRunPendingRebootWarns(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{}}
	deps := e.deps()
	deps.PendingReboot = func() (bool, []string) {
		return true, []string{"Component servicing reboot pending"}
	}

	New(testConfig(), deps).Run()

	if !e.client.searched {
		t.Error("pending reboot stopped the run")
	}
	if !strings.Contains(buf.String(), "a reboot is already pending") {
		t.Errorf("pending reboot not logged:\n%s", buf.String())
	}
}

func TestRunPreviewCapsAtFiveTitles(t *testing.T) {
	buf := captureLogs(t)

	longTitle := strings.Repeat("x", 100)
	updates := someUpdates(7)
	updates[0].Title = longTitle

	e := &env{client: &fakeClient{updates: updates}}
	cfg := testConfig()
	cfg.InstallUpdates = false

	New(cfg, e.deps()).Run()

	out := buf.String()
	if !strings.Contains(out, strings.Repeat("x", 77)+"...") {
		t.Errorf("long title not truncated to 77 chars plus ellipsis:\n%s", out)
	}
	if strings.Contains(out, strings.Repeat("x", 78)) {
		t.Errorf("truncated title longer than 80 chars:\n%s", out)
	}
	if !strings.Contains(out, "... and 2 more") {
		t.Errorf("remainder line missing:\n%s", out)
	}
	for _, u := range updates[5:] {
		if strings.Contains(out, u.Title) {
			t.Errorf("title beyond the preview cap was logged: %q", u.Title)
		}
	}
}

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"short", "KB5034441", "KB5034441"},
		{"exactly 80", strings.Repeat("a", 80), strings.Repeat("a", 80)},
		{"81 chars", strings.Repeat("a", 81), strings.Repeat("a", 77) + "..."},
		{"long", strings.Repeat("b", 200), strings.Repeat("b", 77) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateTitle(tt.title)
			if got != tt.want {
				t.Errorf("truncateTitle(%d chars) = %q, want %q", len(tt.title), got, tt.want)
			}
			if len([]rune(got)) > maxTitleWidth {
				t.Errorf("result exceeds %d chars: %d", maxTitleWidth, len([]rune(got)))
			}
		})
	}
}

// assertOrder checks that each want substring appears in out after the
// previous one.
func assertOrder(t *testing.T, out string, want ...string) {
	t.Helper()
	pos := 0
	for _, w := range want {
		idx := strings.Index(out[pos:], w)
		if idx < 0 {
			t.Fatalf("log line %q missing or out of order:\n%s", w, out)
		}
		pos += idx + len(w)
	}
}

func TestRunLogShapeNoUpdates(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{}}
	New(testConfig(), e.deps()).Run()

	assertOrder(t, buf.String(),
		"restarting update services",
		"clearing update caches",
		"triggering update scan",
		"no updates found",
	)
}

func TestRunLogShapeFullSuccessNoReboot(t *testing.T) {
	buf := captureLogs(t)

	e := &env{client: &fakeClient{
		updates:     someUpdates(3),
		downloadRes: okResult(),
		installRes:  okResult(),
	}}
	report := New(testConfig(), e.deps()).Run()

	if !report.Installed || report.RebootScheduled {
		t.Fatalf("report = %+v, want installed without reboot", report)
	}
	assertOrder(t, buf.String(),
		"restarting update services",
		"clearing update caches",
		"triggering update scan",
		"updates available",
		"Security Update A",
		"Security Update B",
		"Security Update C",
		"downloading updates",
		"download complete",
		"installing updates",
		"installation complete",
	)
	if strings.Contains(buf.String(), "restarting in") {
		t.Errorf("countdown line logged without a required reboot:\n%s", buf.String())
	}
}

func TestScanNeverInstalls(t *testing.T) {
	captureLogs(t)

	e := &env{client: &fakeClient{
		updates:     someUpdates(2),
		downloadRes: okResult(),
		installRes:  okResult(),
	}}
	report := New(testConfig(), e.deps()).Scan()

	if report.UpdatesFound != 2 {
		t.Errorf("UpdatesFound = %d, want 2", report.UpdatesFound)
	}
	if e.client.downloaded || e.client.installed {
		t.Error("scan downloaded or installed updates")
	}
	if e.services.calls != 0 || e.cache.calls != 0 {
		t.Error("scan ran the service restart or cache clean steps")
	}
	if e.scans != 1 {
		t.Errorf("scan trigger ran %d times, want 1", e.scans)
	}
}
