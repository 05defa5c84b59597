package startup

import "fmt"

// FatalResourceError reports a critical-path resource at or below the fatal
// priority boundary that failed or timed out. It is the only failure
// Initialize returns to the caller.
type FatalResourceError struct {
	ResourceID string
	Priority   int
	Err        error
}

func (e *FatalResourceError) Error() string {
	return fmt.Sprintf("critical resource %q (priority %d) failed: %v", e.ResourceID, e.Priority, e.Err)
}

func (e *FatalResourceError) Unwrap() error { return e.Err }

// DegradedResourceError reports a failure of a resource above the fatal
// priority boundary. It is logged and recorded, never returned.
type DegradedResourceError struct {
	ResourceID string
	Priority   int
	Err        error
}

func (e *DegradedResourceError) Error() string {
	return fmt.Sprintf("resource %q (priority %d) degraded: %v", e.ResourceID, e.Priority, e.Err)
}

func (e *DegradedResourceError) Unwrap() error { return e.Err }

// BackgroundTaskError reports one deferred task failure. Failures are
// captured per task and never halt the rest of the queue.
type BackgroundTaskError struct {
	TaskID string
	Err    error
}

func (e *BackgroundTaskError) Error() string {
	return fmt.Sprintf("background task %q failed: %v", e.TaskID, e.Err)
}

func (e *BackgroundTaskError) Unwrap() error { return e.Err }
