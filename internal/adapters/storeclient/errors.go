package storeclient

import (
	"errors"

	"github.com/okian/orbit/internal/domain/submit"
)

// Sentinel kinds for store calls.
var (
	// ErrConflict is the store's 409: the slot was taken in the current
	// lap. It is the submission conflict kind, so submitters roll back on it.
	ErrConflict = submit.ErrSubmissionConflict
	// ErrTransport covers network failures and unexpected responses.
	ErrTransport = errors.New("store transport failure")
)
