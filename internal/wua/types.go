// Package wua drives the Windows Update Agent through its COM automation
// interfaces: searching for updates, downloading them, and installing them.
package wua

import "fmt"

// Update describes one update returned by a search. The descriptor is owned
// by the update service; only the fields the runner reports on are captured.
type Update struct {
	ID           string // WUA UpdateID
	Title        string
	KBNumber     string // e.g. "KB5034441", empty when the update has none
	Size         int64  // MaxDownloadSize in bytes
	IsDownloaded bool
}

// ResultCode is the outcome enumeration shared by the WUA download and
// install operations (OperationResultCode).
type ResultCode int

const (
	ResultNotStarted ResultCode = iota
	ResultInProgress
	ResultSucceeded
	ResultSucceededWithErrors
	ResultFailed
	ResultAborted
)

func (c ResultCode) String() string {
	switch c {
	case ResultNotStarted:
		return "not started"
	case ResultInProgress:
		return "in progress"
	case ResultSucceeded:
		return "succeeded"
	case ResultSucceededWithErrors:
		return "succeeded with errors"
	case ResultFailed:
		return "failed"
	case ResultAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// OperationResult captures the outcome of a download or install operation.
type OperationResult struct {
	Code           ResultCode
	HResult        int  // HRESULT of the first failed update, 0 when clean
	RebootRequired bool // install only; always false for downloads
}

// Describe renders the result for an error log line, decoding the HRESULT
// when one was reported.
func (r OperationResult) Describe() string {
	if r.HResult != 0 {
		return fmt.Sprintf("result code %d (%s): %s", int(r.Code), r.Code, FormatHResult(r.HResult))
	}
	return fmt.Sprintf("result code %d (%s)", int(r.Code), r.Code)
}
