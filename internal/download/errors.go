package download

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent is wrapped when a server declares a zero or missing
	// content length. Such transfers are never written to disk.
	ErrEmptyContent = errors.New("content length is zero")

	// ErrSizeMismatch is wrapped when the bytes on disk differ from the
	// declared content length.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrPollBudgetExhausted is returned when preparing downloads did not
	// all become available within the maximum number of polls.
	ErrPollBudgetExhausted = errors.New("download: poll budget exhausted")

	// ErrPathConflict is reported for a download whose local path is
	// already the target of another download of the same run.
	ErrPathConflict = errors.New("download: local path already claimed")

	// ErrPoolClosed is returned by Submit after Wait was called.
	ErrPoolClosed = errors.New("download: pool closed")
)

// DownloadError reports a file that could not be fetched. It is fatal for
// that file only; sibling downloads continue.
type DownloadError struct {
	URL      string
	Path     string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s to %s failed after %d attempt(s): %v", e.URL, e.Path, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
