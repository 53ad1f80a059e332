// Package ingest applies remote state to the orbit session.
//
// Bootstraps are full replacements ordered by a fetch sequence number: a
// bootstrap whose number is not greater than the last applied one is dropped
// as stale. Deltas are single records appended in receipt order. Both arrive
// through one queue drained by one worker, so the session sees them in the
// order they were received.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/session"
	"github.com/okian/orbit/pkg/logger"
	"github.com/okian/orbit/pkg/metrics"
)

// Event sources.
const (
	SourcePoll  = "poll"
	SourcePush  = "push"
	SourceCache = "cache"
)

// Session is the part of the session the ingestor mutates.
type Session interface {
	ApplyBootstrap(records []model.ContributionRecord) error
	ApplyDelta(rec model.ContributionRecord) error
}

// BootstrapHook observes every bootstrap that was applied.
type BootstrapHook func(ctx context.Context, records []model.ContributionRecord)

// Ingestor sequences bootstraps and applies deltas.
type Ingestor struct {
	session Session
	issued  atomic.Uint64

	mu      sync.Mutex
	applied uint64

	onBootstrap BootstrapHook
	log         logger.Logger
}

// Option applies a configuration option to the Ingestor.
type Option func(*Ingestor)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.log = l
		}
	}
}

// WithBootstrapHook registers fn to run after each applied bootstrap.
func WithBootstrapHook(fn BootstrapHook) Option {
	return func(i *Ingestor) { i.onBootstrap = fn }
}

// New creates an ingestor over s.
func New(s Session, opts ...Option) *Ingestor {
	i := &Ingestor{session: s}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = logger.Get().Named("ingest")
	}
	return i
}

// NextSeq issues the sequence number for a fetch about to start. Push
// bootstraps take one at receipt.
func (i *Ingestor) NextSeq() uint64 { return i.issued.Add(1) }

// LastApplied returns the sequence number of the last applied bootstrap.
func (i *Ingestor) LastApplied() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.applied
}

// Handle dispatches a queued event. It is the worker handler.
func (i *Ingestor) Handle(ctx context.Context, e Event) error {
	switch e.Kind {
	case KindBootstrap:
		if e.Source == SourceCache {
			return i.ApplyCached(ctx, e.Records)
		}
		return i.ApplyBootstrap(ctx, e.Seq, e.Source, e.Records)
	case KindDelta:
		return i.ApplyDelta(ctx, e.Source, e.Record)
	default:
		metrics.RecordMalformedPayload(e.Source)
		return ErrMalformedPayload
	}
}

// ApplyBootstrap replaces the session history with records if seq is newer
// than the last applied bootstrap.
func (i *Ingestor) ApplyBootstrap(ctx context.Context, seq uint64, source string, records []model.ContributionRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if seq <= i.applied {
		metrics.RecordBootstrapDropped("stale")
		i.log.Warn(ctx, "dropping stale bootstrap",
			logger.Uint64("seq", seq),
			logger.Uint64("applied", i.applied),
			logger.String("source", source),
		)
		return ErrStaleBootstrap
	}

	if err := i.apply(ctx, source, records); err != nil {
		return err
	}
	i.applied = seq
	return nil
}

// ApplyCached applies the last-known-good working set. It only takes effect
// before any real bootstrap and does not advance the sequence, so the next
// fetch always supersedes it.
func (i *Ingestor) ApplyCached(ctx context.Context, records []model.ContributionRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.applied > 0 {
		metrics.RecordBootstrapDropped("stale")
		return ErrStaleBootstrap
	}
	return i.apply(ctx, SourceCache, records)
}

func (i *Ingestor) apply(ctx context.Context, source string, records []model.ContributionRecord) error {
	if err := i.session.ApplyBootstrap(records); err != nil {
		reason := "invalid"
		if errors.Is(err, session.ErrInvariantViolation) {
			reason = "invariant"
			i.log.Error(ctx, "bootstrap violates orbit invariants; keeping last good set",
				logger.String("source", source), logger.Error(err))
		} else {
			i.log.Warn(ctx, "bootstrap rejected; keeping last good set",
				logger.String("source", source), logger.Error(err))
		}
		metrics.RecordBootstrapDropped(reason)
		return err
	}

	metrics.RecordBootstrapApplied(source)
	i.log.Debug(ctx, "bootstrap applied",
		logger.String("source", source), logger.Int("records", len(records)))
	if i.onBootstrap != nil && source != SourceCache {
		i.onBootstrap(ctx, records)
	}
	return nil
}

// ApplyDelta appends one pushed record. Rejections are logged and counted;
// the next bootstrap corrects any divergence.
func (i *Ingestor) ApplyDelta(ctx context.Context, source string, rec model.ContributionRecord) error {
	err := i.session.ApplyDelta(rec)
	switch {
	case err == nil:
		metrics.RecordDeltaApplied()
		return nil
	case errors.Is(err, session.ErrAlreadyApplied):
		metrics.RecordDeltaRejected("already_applied")
		i.log.Debug(ctx, "delta already applied", logger.String("id", rec.ID))
	case errors.Is(err, session.ErrDuplicateSlot):
		metrics.RecordDeltaRejected("duplicate_slot")
		i.log.Warn(ctx, "delta rejected: slot taken in current lap",
			logger.String("id", rec.ID), logger.Int("slot", rec.SlotIndex))
	case errors.Is(err, session.ErrInvariantViolation):
		metrics.RecordDeltaRejected("invariant")
		i.log.Error(ctx, "delta violates orbit invariants",
			logger.String("id", rec.ID), logger.String("source", source), logger.Error(err))
	default:
		metrics.RecordDeltaRejected("invalid")
		i.log.Warn(ctx, "delta rejected", logger.String("id", rec.ID), logger.Error(err))
	}
	return err
}
