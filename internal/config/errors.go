package config

import "errors"

var (
	// ErrInvalidConfig wraps every validation failure, including a geometry
	// version or geofence list that does not build.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig wraps failures reading the YAML file or the ORBIT_* env.
	ErrLoadConfig = errors.New("load config failed")
)
