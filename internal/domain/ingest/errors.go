package ingest

import "errors"

// Sentinel kinds for ingestion.
var (
	// ErrStaleBootstrap drops a bootstrap whose fetch started before the
	// one already applied.
	ErrStaleBootstrap = errors.New("stale bootstrap")
	// ErrMalformedPayload drops a push payload that is neither a bootstrap
	// nor a single record.
	ErrMalformedPayload = errors.New("malformed payload")
)
