// Package geo holds the configured geofences and the device locator.
package geo

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/okian/orbit/internal/domain/model"
)

const earthRadiusMeters = 6371008.8

// Fence is a circular area around a named location.
type Fence struct {
	ID        string  `koanf:"id" json:"id"`
	Latitude  float64 `koanf:"latitude" json:"latitude"`
	Longitude float64 `koanf:"longitude" json:"longitude"`
	RadiusM   float64 `koanf:"radius_m" json:"radiusM"`
}

// Center returns the fence center.
func (f Fence) Center() model.Coordinates {
	return model.Coordinates{Latitude: f.Latitude, Longitude: f.Longitude}
}

// Fences is an immutable lookup of geofences by location id.
type Fences struct {
	byID map[string]Fence
}

// NewFences validates list and indexes it by id.
func NewFences(list []Fence) (*Fences, error) {
	f := &Fences{byID: make(map[string]Fence, len(list))}
	for _, fence := range list {
		id := strings.TrimSpace(fence.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: missing id", ErrInvalidFence)
		}
		if _, dup := f.byID[id]; dup {
			return nil, fmt.Errorf("%w: %s defined twice", ErrInvalidFence, id)
		}
		if fence.RadiusM <= 0 {
			return nil, fmt.Errorf("%w: %s radius %v", ErrInvalidFence, id, fence.RadiusM)
		}
		if err := fence.Center().Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFence, id, err)
		}
		fence.ID = id
		f.byID[id] = fence
	}
	return f, nil
}

// Len returns the number of fences. Zero disables the check.
func (f *Fences) Len() int {
	if f == nil {
		return 0
	}
	return len(f.byID)
}

// Get returns the fence for locationID.
func (f *Fences) Get(locationID string) (Fence, bool) {
	if f == nil {
		return Fence{}, false
	}
	fence, ok := f.byID[locationID]
	return fence, ok
}

// Contains reports whether c lies inside the fence of locationID.
func (f *Fences) Contains(locationID string, c model.Coordinates) (bool, error) {
	fence, ok := f.Get(locationID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
	}
	return Distance(fence.Center(), c) <= fence.RadiusM, nil
}

// Distance returns the great-circle distance in meters.
func Distance(a, b model.Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Locator reports where the device is.
type Locator interface {
	Locate(ctx context.Context) (model.Coordinates, error)
}

// StaticLocator is the locator of a fixed kiosk.
type StaticLocator struct {
	coords model.Coordinates
}

// NewStaticLocator returns a locator that always reports c.
func NewStaticLocator(c model.Coordinates) *StaticLocator {
	return &StaticLocator{coords: c}
}

// Locate implements Locator.
func (l *StaticLocator) Locate(ctx context.Context) (model.Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return model.Coordinates{}, err
	}
	return l.coords, nil
}

// DeniedLocator is used when the operator disabled location access.
type DeniedLocator struct{}

// Locate implements Locator.
func (DeniedLocator) Locate(context.Context) (model.Coordinates, error) {
	return model.Coordinates{}, ErrPermissionDenied
}
