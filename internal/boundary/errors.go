package boundary

import (
	"errors"
	"fmt"
)

// ErrClipFailure matches every *ClipFailureError.
var ErrClipFailure = errors.New("clip failure")

// ClipFailureError reports a cell that could not be clipped to a valid
// polygon set, even after perturbed retries.
type ClipFailureError struct {
	SiteID   string
	Attempts int
	Err      error
}

func (e *ClipFailureError) Error() string {
	return fmt.Sprintf("clip site %q failed after %d attempts: %v", e.SiteID, e.Attempts, e.Err)
}

func (e *ClipFailureError) Unwrap() error { return e.Err }

func (e *ClipFailureError) Is(target error) bool { return target == ErrClipFailure }
