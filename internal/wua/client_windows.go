//go:build windows

package wua

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/breeze-rmm/patchrun/internal/logging"
)

var log = logging.L("wua")

// microsoftUpdateServiceID identifies the Microsoft Update service, which
// carries updates for other Microsoft products on top of Windows itself.
const microsoftUpdateServiceID = "7971f918-a847-4430-9279-4a52d1efe18d"

// ssOthers tells the update searcher to use the service named by ServiceID.
const ssOthers = 3

// Client drives one Windows Update Agent session. It is not safe for
// concurrent use: Open pins the goroutine to its OS thread for the COM
// apartment, and at most one update collection exists per run.
type Client struct {
	useMicrosoftUpdate bool

	session *ole.IDispatch
	updates *ole.IDispatch // Microsoft.Update.UpdateColl built by Search
	found   []Update
	opened  bool
}

// NewClient creates a client. When useMicrosoftUpdate is set, searches are
// pointed at the Microsoft Update service instead of the machine default
// (typically plain Windows Update or a WSUS server).
func NewClient(useMicrosoftUpdate bool) *Client {
	return &Client{useMicrosoftUpdate: useMicrosoftUpdate}
}

// Open initializes COM and creates the update session. Callers must pair it
// with Close and keep all calls on the same goroutine.
func (c *Client) Open() error {
	runtime.LockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("initialize COM: %w", err)
	}
	c.opened = true

	unknown, err := oleutil.CreateObject("Microsoft.Update.Session")
	if err != nil {
		c.Close()
		return fmt.Errorf("create update session: %w", err)
	}
	defer unknown.Release()

	session, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		c.Close()
		return fmt.Errorf("query update session: %w", err)
	}
	c.session = session

	if c.useMicrosoftUpdate {
		c.registerMicrosoftUpdate()
	}

	return nil
}

// Close releases the session and tears down COM.
func (c *Client) Close() {
	if c.updates != nil {
		c.updates.Release()
		c.updates = nil
	}
	if c.session != nil {
		c.session.Release()
		c.session = nil
	}
	if c.opened {
		ole.CoUninitialize()
		c.opened = false
		runtime.UnlockOSThread()
	}
}

// registerMicrosoftUpdate opts the machine into the Microsoft Update service.
// Registration failure only narrows the search source, so it is a warning.
func (c *Client) registerMicrosoftUpdate() {
	smUnknown, err := oleutil.CreateObject("Microsoft.Update.ServiceManager")
	if err != nil {
		log.Warn("Microsoft Update registration unavailable", logging.KeyError, err)
		return
	}
	defer smUnknown.Release()

	sm, err := smUnknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		log.Warn("Microsoft Update service manager dispatch failed", logging.KeyError, err)
		return
	}
	defer sm.Release()

	// 7 = asfAllowPendingRegistration | asfAllowOnlineRegistration | asfRegisterServiceWithAU
	if _, err := oleutil.CallMethod(sm, "AddService2", microsoftUpdateServiceID, 7, ""); err != nil {
		log.Warn("Microsoft Update registration failed", logging.KeyError, err)
	}
}

// Search queries for updates matching the criteria and builds the collection
// later passed to Download and Install. Every match goes into the collection,
// not just the ones a caller chooses to report.
func (c *Client) Search(criteria string) ([]Update, error) {
	if c.session == nil {
		return nil, fmt.Errorf("client is not open")
	}

	searcherVar, err := oleutil.CallMethod(c.session, "CreateUpdateSearcher")
	if err != nil {
		return nil, fmt.Errorf("create searcher: %w", err)
	}
	defer searcherVar.Clear()

	searcher := searcherVar.ToIDispatch()
	if searcher == nil {
		return nil, fmt.Errorf("create searcher: nil searcher")
	}
	defer searcher.Release()

	if c.useMicrosoftUpdate {
		if _, err := oleutil.PutProperty(searcher, "ServerSelection", ssOthers); err == nil {
			if _, err := oleutil.PutProperty(searcher, "ServiceID", microsoftUpdateServiceID); err != nil {
				log.Warn("selecting Microsoft Update service failed", logging.KeyError, err)
			}
		} else {
			log.Warn("setting searcher server selection failed", logging.KeyError, err)
		}
	}

	resultVar, err := callWithRetry("Search", func() (*ole.VARIANT, error) {
		return oleutil.CallMethod(searcher, "Search", criteria)
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resultVar.Clear()

	result := resultVar.ToIDispatch()
	if result == nil {
		return nil, fmt.Errorf("search: nil result")
	}
	defer result.Release()

	updatesVar, err := oleutil.GetProperty(result, "Updates")
	if err != nil {
		return nil, fmt.Errorf("updates collection: %w", err)
	}
	defer updatesVar.Clear()

	updates := updatesVar.ToIDispatch()
	if updates == nil {
		return nil, fmt.Errorf("updates collection missing")
	}
	defer updates.Release()

	countVar, err := oleutil.GetProperty(updates, "Count")
	if err != nil {
		return nil, fmt.Errorf("updates count: %w", err)
	}
	count := int(countVar.Val)
	countVar.Clear()

	collection, err := newUpdateCollection()
	if err != nil {
		return nil, err
	}

	found := make([]Update, 0, count)
	for i := 0; i < count; i++ {
		itemVar, err := oleutil.CallMethod(updates, "Item", i)
		if err != nil {
			continue
		}
		update := itemVar.ToIDispatch()
		itemVar.Clear()
		if update == nil {
			continue
		}

		descriptor, err := describeUpdate(update)
		if err != nil {
			update.Release()
			continue
		}

		if _, err := oleutil.CallMethod(collection, "Add", update); err != nil {
			log.Warn("adding update to collection failed",
				"title", descriptor.Title, logging.KeyError, err)
			update.Release()
			continue
		}
		update.Release()

		found = append(found, descriptor)
	}

	if c.updates != nil {
		c.updates.Release()
	}
	c.updates = collection
	c.found = found

	return found, nil
}

// Download synchronously downloads the collection built by Search.
func (c *Client) Download() (OperationResult, error) {
	if c.updates == nil || len(c.found) == 0 {
		return OperationResult{}, fmt.Errorf("no update collection; search first")
	}

	downloaderVar, err := oleutil.CallMethod(c.session, "CreateUpdateDownloader")
	if err != nil {
		return OperationResult{}, fmt.Errorf("create downloader: %w", err)
	}
	defer downloaderVar.Clear()

	downloader := downloaderVar.ToIDispatch()
	if downloader == nil {
		return OperationResult{}, fmt.Errorf("create downloader: nil downloader")
	}
	defer downloader.Release()

	if _, err := oleutil.PutProperty(downloader, "Updates", c.updates); err != nil {
		return OperationResult{}, fmt.Errorf("set downloader updates: %w", err)
	}

	resultVar, err := callWithRetry("Download", func() (*ole.VARIANT, error) {
		return oleutil.CallMethod(downloader, "Download")
	})
	if err != nil {
		return OperationResult{}, fmt.Errorf("download: %w", err)
	}
	defer resultVar.Clear()

	result := resultVar.ToIDispatch()
	if result == nil {
		return OperationResult{}, fmt.Errorf("download: nil result")
	}
	defer result.Release()

	code, _ := getIntProperty(result, "ResultCode")
	return OperationResult{
		Code:    ResultCode(code),
		HResult: firstFailureHResult(result, len(c.found)),
	}, nil
}

// Install synchronously installs the collection built by Search with every
// prompt suppressed and the install forced.
func (c *Client) Install() (OperationResult, error) {
	if c.updates == nil || len(c.found) == 0 {
		return OperationResult{}, fmt.Errorf("no update collection; search first")
	}

	installerVar, err := oleutil.CallMethod(c.session, "CreateUpdateInstaller")
	if err != nil {
		return OperationResult{}, fmt.Errorf("create installer: %w", err)
	}
	defer installerVar.Clear()

	installer := installerVar.ToIDispatch()
	if installer == nil {
		return OperationResult{}, fmt.Errorf("create installer: nil installer")
	}
	defer installer.Release()

	if _, err := oleutil.PutProperty(installer, "Updates", c.updates); err != nil {
		return OperationResult{}, fmt.Errorf("set installer updates: %w", err)
	}
	if _, err := oleutil.PutProperty(installer, "ForceQuiet", true); err != nil {
		log.Warn("setting ForceQuiet failed", logging.KeyError, err)
	}
	if _, err := oleutil.PutProperty(installer, "IsForced", true); err != nil {
		log.Warn("setting IsForced failed", logging.KeyError, err)
	}

	resultVar, err := callWithRetry("Install", func() (*ole.VARIANT, error) {
		return oleutil.CallMethod(installer, "Install")
	})
	if err != nil {
		return OperationResult{}, fmt.Errorf("install: %w", err)
	}
	defer resultVar.Clear()

	result := resultVar.ToIDispatch()
	if result == nil {
		return OperationResult{}, fmt.Errorf("install: nil result")
	}
	defer result.Release()

	code, _ := getIntProperty(result, "ResultCode")
	rebootRequired, _ := getBoolProperty(result, "RebootRequired")

	return OperationResult{
		Code:           ResultCode(code),
		HResult:        firstFailureHResult(result, len(c.found)),
		RebootRequired: rebootRequired,
	}, nil
}

func newUpdateCollection() (*ole.IDispatch, error) {
	collUnknown, err := oleutil.CreateObject("Microsoft.Update.UpdateColl")
	if err != nil {
		return nil, fmt.Errorf("create update collection: %w", err)
	}
	defer collUnknown.Release()

	collection, err := collUnknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("update collection dispatch: %w", err)
	}
	return collection, nil
}

func describeUpdate(update *ole.IDispatch) (Update, error) {
	identityVar, err := oleutil.GetProperty(update, "Identity")
	if err != nil {
		return Update{}, err
	}
	defer identityVar.Clear()

	identity := identityVar.ToIDispatch()
	if identity == nil {
		return Update{}, fmt.Errorf("update identity missing")
	}
	defer identity.Release()

	updateID, err := getStringProperty(identity, "UpdateID")
	if err != nil {
		return Update{}, err
	}

	title, _ := getStringProperty(update, "Title")
	maxSize, _ := getIntProperty(update, "MaxDownloadSize")
	isDownloaded, _ := getBoolProperty(update, "IsDownloaded")

	return Update{
		ID:           updateID,
		Title:        title,
		KBNumber:     firstKBNumber(update),
		Size:         int64(maxSize),
		IsDownloaded: isDownloaded,
	}, nil
}

// firstKBNumber extracts the first KB article ID from the update.
func firstKBNumber(update *ole.IDispatch) string {
	kbIDsVar, err := oleutil.GetProperty(update, "KBArticleIDs")
	if err != nil {
		return ""
	}
	defer kbIDsVar.Clear()

	kbIDs := kbIDsVar.ToIDispatch()
	if kbIDs == nil {
		return ""
	}
	defer kbIDs.Release()

	countVar, err := oleutil.GetProperty(kbIDs, "Count")
	if err != nil {
		return ""
	}
	count := int(countVar.Val)
	countVar.Clear()
	if count == 0 {
		return ""
	}

	itemVar, err := oleutil.CallMethod(kbIDs, "Item", 0)
	if err != nil {
		return ""
	}
	defer itemVar.Clear()

	kb := itemVar.ToString()
	if kb != "" && !strings.HasPrefix(kb, "KB") {
		kb = "KB" + kb
	}
	return kb
}

// firstFailureHResult walks the per-update results and returns the first
// non-zero HResult, or 0 when every update came back clean.
func firstFailureHResult(result *ole.IDispatch, count int) int {
	for i := 0; i < count; i++ {
		updateResultVar, err := oleutil.CallMethod(result, "GetUpdateResult", i)
		if err != nil {
			continue
		}
		updateResult := updateResultVar.ToIDispatch()
		updateResultVar.Clear()
		if updateResult == nil {
			continue
		}

		hr, _ := getIntProperty(updateResult, "HResult")
		updateResult.Release()
		if hr != 0 {
			return hr
		}
	}
	return 0
}

// callWithRetry wraps a WUA COM call with retry logic for concurrent
// operation conflicts. Retries up to 3 times with 5s/10s/20s backoff.
func callWithRetry(operation string, fn func() (*ole.VARIANT, error)) (*ole.VARIANT, error) {
	backoffs := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

	result, err := fn()
	if err == nil {
		return result, nil
	}

	errStr := err.Error()
	for attempt, backoff := range backoffs {
		if !isOperationInProgressError(errStr) {
			return nil, err
		}

		log.Warn("updater busy, retrying",
			"operation", operation, "attempt", attempt+2, "backoff", backoff)
		time.Sleep(backoff)

		result, err = fn()
		if err == nil {
			return result, nil
		}
		errStr = err.Error()
	}

	return nil, fmt.Errorf("%s failed after retries: %w", operation, err)
}

// isOperationInProgressError checks a COM error string for WUA concurrent
// operation codes.
func isOperationInProgressError(errStr string) bool {
	return strings.Contains(errStr, "8024000E") || strings.Contains(errStr, "80240016")
}

func getStringProperty(dispatch *ole.IDispatch, name string) (string, error) {
	value, err := oleutil.GetProperty(dispatch, name)
	if err != nil {
		return "", err
	}
	defer value.Clear()
	return value.ToString(), nil
}

func getIntProperty(dispatch *ole.IDispatch, name string) (int, error) {
	value, err := oleutil.GetProperty(dispatch, name)
	if err != nil {
		return 0, err
	}
	defer value.Clear()
	return int(value.Val), nil
}

func getBoolProperty(dispatch *ole.IDispatch, name string) (bool, error) {
	value, err := oleutil.GetProperty(dispatch, name)
	if err != nil {
		return false, err
	}
	defer value.Clear()
	return value.Val != 0, nil
}
