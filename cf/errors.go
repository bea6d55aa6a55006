// Error taxonomy for the search engine. Per-instance failures are recorded in
// ResultRecords and never abort the batch; batch-level setup failures
// (ClassifierLoadError, bad config) surface before any work is dispatched.

package cf

import "fmt"

// EmptyPoolError reports that the reference pool has no instances of the
// requested target class. Fatal for that instance's job only.
type EmptyPoolError struct {
	Class int
}

func (e *EmptyPoolError) Error() string {
	return fmt.Sprintf("reference pool has no instances of class %d", e.Class)
}

// ClassifierLoadError reports that a classifier artifact could not be loaded.
// Fatal for the whole batch; raised before dispatch begins.
type ClassifierLoadError struct {
	Path string
	Err  error
}

func (e *ClassifierLoadError) Error() string {
	return fmt.Sprintf("load classifier from %s: %v", e.Path, e.Err)
}

func (e *ClassifierLoadError) Unwrap() error {
	return e.Err
}
