package geo

import "errors"

// Sentinel kinds for location handling.
var (
	ErrUnknownLocation  = errors.New("unknown location")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrInvalidFence     = errors.New("invalid geofence")
)
