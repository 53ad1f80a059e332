// Package submit turns a geofenced photo into a contribution record: it
// claims a slot, shows the optimistic preview and persists the record,
// rolling the preview back if the store refuses it.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/orbit/internal/domain/geo"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/session"
	"github.com/okian/orbit/pkg/logger"
	"github.com/okian/orbit/pkg/metrics"
)

// Default submitter configuration constants.
const (
	defaultSubmitTimeout = 10 * time.Second
	defaultSubmitterID   = "anonymous"
)

// Session is the part of the session a submission drives.
type Session interface {
	Begin(build func(slot int) model.ContributionRecord) (model.ContributionRecord, error)
	Confirm(canonical model.ContributionRecord) error
	Retract(id string) error
}

// HueSource draws the color of a new ring.
type HueSource interface {
	Hue() float64
}

// Store persists a record and returns it as accepted. A lost slot race is
// reported with an error wrapping ErrSubmissionConflict.
type Store interface {
	Submit(ctx context.Context, rec model.ContributionRecord) (model.ContributionRecord, error)
}

// Submitter runs at most one submission at a time.
type Submitter struct {
	session Session
	store   Store
	hues    HueSource

	fences      *geo.Fences
	locator     geo.Locator
	submitterID string
	timeout     time.Duration
	now         func() time.Time
	newID       func() string

	inFlight atomic.Bool
	log      logger.Logger
}

// Option applies a configuration option to the Submitter.
type Option func(*Submitter)

// WithFences enables the geofence check.
func WithFences(f *geo.Fences) Option {
	return func(s *Submitter) { s.fences = f }
}

// WithLocator sets the device locator used by SubmitHere.
func WithLocator(l geo.Locator) Option {
	return func(s *Submitter) { s.locator = l }
}

// WithSubmitterID sets the installation id stamped on records.
func WithSubmitterID(id string) Option {
	return func(s *Submitter) {
		if strings.TrimSpace(id) != "" {
			s.submitterID = id
		}
	}
}

// WithTimeout bounds the store round trip.
func WithTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the random UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Submitter) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Submitter.
func New(sess Session, store Store, hues HueSource, opts ...Option) *Submitter {
	s := &Submitter{
		session:     sess,
		store:       store,
		hues:        hues,
		locator:     geo.DeniedLocator{},
		submitterID: defaultSubmitterID,
		timeout:     defaultSubmitTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("submit")
	}
	return s
}

// InFlight reports whether a submission is running.
func (s *Submitter) InFlight() bool { return s.inFlight.Load() }

// SubmitHere asks the locator where the device is and submits for
// locationID.
func (s *Submitter) SubmitHere(ctx context.Context, locationID string) (model.ContributionRecord, error) {
	if s.inFlight.Load() {
		metrics.RecordSubmission("in_progress")
		return model.ContributionRecord{}, ErrSubmissionInProgress
	}
	coords, err := s.locator.Locate(ctx)
	if err != nil {
		metrics.RecordTransportFailure("locate")
		metrics.RecordSubmission("transport")
		return model.ContributionRecord{}, fmt.Errorf("%w: locate: %w", ErrTransport, err)
	}
	return s.Submit(ctx, model.GeofenceContext{LocationID: locationID, Coordinates: coords})
}

// Submit creates and persists one contribution. On a store conflict or a
// transport failure the preview is removed and its slot freed; the call is
// not retried.
func (s *Submitter) Submit(ctx context.Context, gc model.GeofenceContext) (model.ContributionRecord, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.RecordSubmission("in_progress")
		return model.ContributionRecord{}, ErrSubmissionInProgress
	}
	defer s.inFlight.Store(false)

	if err := s.checkFence(gc); err != nil {
		metrics.RecordSubmission("rejected")
		return model.ContributionRecord{}, err
	}

	rec, err := s.session.Begin(func(slot int) model.ContributionRecord {
		return model.ContributionRecord{
			ID:          s.newID(),
			LocationID:  gc.LocationID,
			Latitude:    gc.Coordinates.Latitude,
			Longitude:   gc.Coordinates.Longitude,
			SubmitterID: s.submitterID,
			SlotIndex:   slot,
			Hue:         s.hues.Hue(),
			CreatedAt:   model.NewTimestamp(s.now()),
		}
	})
	if err != nil {
		metrics.RecordSubmission("rejected")
		return model.ContributionRecord{}, fmt.Errorf("begin submission: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	canonical, err := s.store.Submit(storeCtx, rec)
	metrics.RecordSubmissionLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return model.ContributionRecord{}, s.rollback(ctx, rec, err)
	}

	if err := s.session.Confirm(canonical); err != nil && !errors.Is(err, session.ErrNoPending) {
		s.log.Warn(ctx, "store returned an unusable record; confirming local copy",
			logger.String("id", rec.ID), logger.Error(err))
		if err := s.session.Confirm(rec); err != nil && !errors.Is(err, session.ErrNoPending) {
			return model.ContributionRecord{}, fmt.Errorf("confirm %s: %w", rec.ID, err)
		}
		canonical = rec
	}

	metrics.RecordSubmission("ok")
	s.log.Info(ctx, "contribution stored",
		logger.String("id", canonical.ID),
		logger.Int("slot", canonical.SlotIndex),
		logger.Float64("hue", canonical.Hue),
	)
	return canonical, nil
}

func (s *Submitter) checkFence(gc model.GeofenceContext) error {
	if err := gc.Coordinates.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(gc.LocationID) == "" {
		return fmt.Errorf("%w: missing locationId", model.ErrInvalidRecord)
	}
	if s.fences.Len() == 0 {
		return nil
	}
	inside, err := s.fences.Contains(gc.LocationID, gc.Coordinates)
	if err != nil {
		return err
	}
	if !inside {
		return fmt.Errorf("%w: %s", ErrOutsideGeofence, gc.LocationID)
	}
	return nil
}

func (s *Submitter) rollback(ctx context.Context, rec model.ContributionRecord, cause error) error {
	if err := s.session.Retract(rec.ID); err != nil && !errors.Is(err, session.ErrNoPending) {
		s.log.Error(ctx, "could not retract preview", logger.String("id", rec.ID), logger.Error(err))
	}

	if errors.Is(cause, ErrSubmissionConflict) {
		metrics.RecordSubmission("conflict")
		s.log.Warn(ctx, "slot taken by another client",
			logger.String("id", rec.ID), logger.Int("slot", rec.SlotIndex))
		return fmt.Errorf("submit %s: %w", rec.ID, cause)
	}

	metrics.RecordSubmission("transport")
	metrics.RecordTransportFailure("submit")
	s.log.Warn(ctx, "submission failed", logger.String("id", rec.ID), logger.Error(cause))
	return fmt.Errorf("%w: submit %s: %w", ErrTransport, rec.ID, cause)
}
