package submit

import "errors"

// Sentinel kinds for submission outcomes.
var (
	// ErrSubmissionInProgress rejects a submit while another one is in flight.
	ErrSubmissionInProgress = errors.New("submission in progress")
	// ErrSubmissionConflict means the store refused the slot because another
	// client took it first. Store implementations wrap it for their 409.
	ErrSubmissionConflict = errors.New("submission conflict")
	// ErrTransport covers every other failure to reach the store or the
	// locator.
	ErrTransport = errors.New("transport failure")
	// ErrOutsideGeofence rejects coordinates outside the named location.
	ErrOutsideGeofence = errors.New("outside geofence")
)
