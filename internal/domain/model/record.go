// Package model contains the domain values passed between the orbit layers.
package model

import (
	"fmt"
	"math"
	"strings"
)

// Hue bounds in degrees.
const (
	HueMin = 0.0
	HueMax = 360.0
)

// ContributionRecord is one accepted ring-creation event. Records are
// immutable once created; the JSON names are the contract with the store
// and the push channel.
type ContributionRecord struct {
	ID          string    `json:"id"`
	LocationID  string    `json:"locationId"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	SubmitterID string    `json:"submitterId"`
	SlotIndex   int       `json:"slotIndex"`
	Hue         float64   `json:"hue"`
	CreatedAt   Timestamp `json:"createdAt"`
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinates returns the record's position.
func (r *ContributionRecord) Coordinates() Coordinates {
	return Coordinates{Latitude: r.Latitude, Longitude: r.Longitude}
}

// GeofenceContext is what the caller knows at submit time: the geofence the
// photo was taken in and where the device was.
type GeofenceContext struct {
	LocationID  string      `json:"locationId"`
	Coordinates Coordinates `json:"coordinates"`
}

// BootstrapPayload is the full-replacement shape delivered by a fetch or a
// push snapshot.
type BootstrapPayload struct {
	Records []ContributionRecord `json:"records"`
}

// Validate checks the record against an orbit of slotCount slots. A slot
// outside [0, slotCount) is reported as ErrSlotOutOfRange so callers can treat
// it as an invariant violation rather than a formatting problem.
func (r *ContributionRecord) Validate(slotCount int) error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case strings.TrimSpace(r.LocationID) == "":
		return fmt.Errorf("%w: missing locationId", ErrInvalidRecord)
	case strings.TrimSpace(r.SubmitterID) == "":
		return fmt.Errorf("%w: missing submitterId", ErrInvalidRecord)
	case math.IsNaN(r.Hue) || r.Hue < HueMin || r.Hue >= HueMax:
		return fmt.Errorf("%w: hue %v outside [0,360)", ErrInvalidRecord, r.Hue)
	case r.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing createdAt", ErrInvalidRecord)
	}
	if err := r.Coordinates().Validate(); err != nil {
		return err
	}
	if r.SlotIndex < 0 || r.SlotIndex >= slotCount {
		return fmt.Errorf("%w: slotIndex %d not in [0,%d)", ErrSlotOutOfRange, r.SlotIndex, slotCount)
	}
	return nil
}

// Validate checks latitude and longitude ranges.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidRecord, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidRecord, c.Longitude)
	}
	return nil
}
