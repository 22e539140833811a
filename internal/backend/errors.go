package backend

import (
	"errors"
	"fmt"
)

// ErrNoProgress indicates the backend has no saved progress for the track
var ErrNoProgress = errors.New("no saved progress")

// StatusError is a non-2xx backend response with its parsed error message
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// QuotaError is a download start rejected for exceeding the account's
// download limit. Counters come from the 403 body when present.
type QuotaError struct {
	Message        string
	DownloadsUsed  int
	DownloadsLimit int
}

// Error implements the error interface
func (e *QuotaError) Error() string {
	if e.DownloadsLimit > 0 {
		return fmt.Sprintf("download limit reached (%d of %d used)", e.DownloadsUsed, e.DownloadsLimit)
	}
	if e.Message != "" {
		return e.Message
	}
	return "download limit reached"
}

// IsForbidden reports whether err is a 403 StatusError
func IsForbidden(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == 403
}
