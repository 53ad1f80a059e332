// Package service wires the orbit session to its collaborators: the remote
// store, the push channel, the local state cache and the HTTP surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/orbit/internal/adapters/localstate"
	eventqueue "github.com/okian/orbit/internal/adapters/mq/queue"
	"github.com/okian/orbit/internal/adapters/mq/worker"
	"github.com/okian/orbit/internal/adapters/push"
	"github.com/okian/orbit/internal/domain/allocator"
	"github.com/okian/orbit/internal/domain/geo"
	"github.com/okian/orbit/internal/domain/ingest"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/orbit"
	"github.com/okian/orbit/internal/domain/session"
	"github.com/okian/orbit/internal/domain/submit"
	"github.com/okian/orbit/pkg/logger"
	"github.com/okian/orbit/pkg/metrics"
)

const ingestQueueName = "ingest"

// ErrNotStarted is returned by submissions made before Start.
var ErrNotStarted = errors.New("service not started")

// RemoteStore is the persistence API the session talks to.
type RemoteStore interface {
	FetchAll(ctx context.Context) ([]model.ContributionRecord, error)
	Submit(ctx context.Context, rec model.ContributionRecord) (model.ContributionRecord, error)
}

// Service owns one orbit session and everything that feeds it.
type Service struct {
	mu sync.RWMutex

	// Core components
	table    *orbit.Table
	sess     *session.Session
	ingestor *ingest.Ingestor
	store    RemoteStore

	// Started components
	queue      *eventqueue.InMemoryQueue[ingest.Event]
	worker     *worker.InMemoryWorker[ingest.Event]
	poller     *ingest.Poller
	subscriber *push.Subscriber
	submitter  *submit.Submitter
	state      *localstate.Storage

	// Configuration
	queueSize     int
	pollInterval  time.Duration
	fetchTimeout  time.Duration
	submitTimeout time.Duration
	pushURL       string
	statePath     string
	seed          uint64
	ringScale     float64
	fences        *geo.Fences
	locator       geo.Locator

	// State
	started     bool
	submitterID string
	cancel      context.CancelFunc
	loops       sync.WaitGroup
	restored    atomic.Bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithQueueSize sets the capacity of the ingest queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithPollInterval sets how often the full history is fetched.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithFetchTimeout bounds each full-history fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithSubmitTimeout bounds each submission round trip.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// WithPushURL enables the push channel.
func WithPushURL(url string) Option {
	return func(s *Service) { s.pushURL = url }
}

// WithStatePath enables the local state file.
func WithStatePath(path string) Option {
	return func(s *Service) { s.statePath = path }
}

// WithRandomSeed makes slot and hue picks reproducible. Zero keeps the
// clock-seeded default.
func WithRandomSeed(seed int64) Option {
	return func(s *Service) { s.seed = uint64(seed) }
}

// WithRingScale sets the scale applied to every ring entry.
func WithRingScale(scale float64) Option {
	return func(s *Service) {
		if scale > 0 {
			s.ringScale = scale
		}
	}
}

// WithFences restricts submissions to the given geofences.
func WithFences(f *geo.Fences) Option {
	return func(s *Service) { s.fences = f }
}

// WithLocator sets the device locator used by SubmitHere.
func WithLocator(l geo.Locator) Option {
	return func(s *Service) { s.locator = l }
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the session over table. Reads work immediately; remote state
// starts flowing after Start.
func New(table *orbit.Table, store RemoteStore, opts ...Option) *Service {
	s := &Service{
		table:         table,
		store:         store,
		queueSize:     1024,
		pollInterval:  10 * time.Second,
		fetchTimeout:  5 * time.Second,
		submitTimeout: 10 * time.Second,
		ringScale:     1,
		locator:       geo.DeniedLocator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	var allocOpts []allocator.Option
	if s.seed != 0 {
		allocOpts = append(allocOpts, allocator.WithSeed(s.seed))
	}
	s.sess = session.New(table,
		session.WithAllocator(allocator.New(table.Size(), allocOpts...)),
		session.WithRingScale(s.ringScale),
	)
	s.ingestor = ingest.New(s.sess,
		ingest.WithLogger(s.logger.Named("ingest")),
		ingest.WithBootstrapHook(s.saveWorkingSet),
	)
	return s
}

// Start opens local state, restores the cached working set and starts the
// ingest worker, the poller and the push subscriber.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting orbit session...",
		logger.String("geometry", s.table.Version()),
		logger.Int("slots", s.table.Size()),
	)

	if s.statePath != "" {
		state, err := localstate.New(ctx, s.statePath)
		if err != nil {
			return fmt.Errorf("open local state: %w", err)
		}
		s.state = state
	}
	id, err := s.installationID(ctx)
	if err != nil {
		s.closeState()
		return err
	}
	s.submitterID = id

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.restoreWorkingSet(runCtx)

	s.queue = eventqueue.NewInMemoryQueue[ingest.Event](
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithName(ingestQueueName),
	)
	s.worker = worker.NewInMemoryWorker[ingest.Event](s.queue,
		worker.HandlerFunc[ingest.Event](s.ingestor.Handle),
		worker.WithName(ingestQueueName),
		worker.WithLogger(s.logger),
	)
	go s.worker.Run(runCtx)

	s.submitter = submit.New(s.sess, s.store, s.sess.Allocator(),
		submit.WithFences(s.fences),
		submit.WithLocator(s.locator),
		submit.WithSubmitterID(s.submitterID),
		submit.WithTimeout(s.submitTimeout),
		submit.WithLogger(s.logger.Named("submit")),
	)

	s.poller = ingest.NewPoller(s.store, s.ingestor, s.enqueue,
		ingest.WithInterval(s.pollInterval),
		ingest.WithFetchTimeout(s.fetchTimeout),
		ingest.WithFetchErrorHandler(func(ctx context.Context, _ error) { s.restoreWorkingSet(ctx) }),
		ingest.WithPollerLogger(s.logger.Named("poller")),
	)
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.poller.Run(runCtx)
	}()

	if s.pushURL != "" {
		s.subscriber = push.NewSubscriber(s.pushURL, s.handlePush,
			push.WithSubscriberLogger(s.logger.Named("push")))
		s.loops.Add(1)
		go func() {
			defer s.loops.Done()
			_ = s.subscriber.Run(runCtx)
		}()
	}

	s.started = true
	s.logger.Info(ctx, "orbit session started",
		logger.String("submitter", s.submitterID),
		logger.Bool("push", s.pushURL != ""),
		logger.Duration("pollInterval", s.pollInterval),
		logger.Int("queueSize", s.queueSize),
	)
	return nil
}

// Stop stops the loops and the ingest worker, then closes local state.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping orbit session...")

	s.cancel()
	s.loops.Wait()

	_ = s.queue.Close()
	err := s.worker.Shutdown(ctx)
	s.closeState()

	s.started = false
	s.logger.Info(ctx, "orbit session stopped")
	return err
}

func (s *Service) closeState() {
	if s.state == nil {
		return
	}
	if err := s.state.Close(); err != nil {
		s.logger.Warn(context.Background(), "closing local state", logger.Error(err))
	}
	s.state = nil
}

func (s *Service) installationID(ctx context.Context) (string, error) {
	if s.state == nil {
		return uuid.NewString(), nil
	}
	id, err := s.state.InstallationID(ctx)
	if err != nil {
		return "", fmt.Errorf("installation id: %w", err)
	}
	return id, nil
}

// restoreWorkingSet applies the cached history once, while nothing fresher
// has arrived. It is a no-op once any fetch or push bootstrap was applied.
func (s *Service) restoreWorkingSet(ctx context.Context) {
	if s.state == nil || s.ingestor.LastApplied() > 0 || !s.restored.CompareAndSwap(false, true) {
		return
	}
	snap, err := s.state.LoadWorkingSet(ctx)
	switch {
	case errors.Is(err, localstate.ErrNoWorkingSet):
		return
	case err != nil:
		s.logger.Warn(ctx, "could not read cached working set", logger.Error(err))
		return
	case snap.GeometryVersion != s.table.Version():
		s.logger.Info(ctx, "ignoring cached working set from another geometry",
			logger.String("cached", snap.GeometryVersion))
		return
	}
	if err := s.ingestor.ApplyCached(ctx, snap.Records); err != nil {
		s.logger.Warn(ctx, "cached working set rejected", logger.Error(err))
	}
}

func (s *Service) saveWorkingSet(ctx context.Context, records []model.ContributionRecord) {
	if s.state == nil {
		return
	}
	if err := s.state.SaveWorkingSet(ctx, s.table.Version(), records); err != nil {
		s.logger.Warn(ctx, "could not cache working set", logger.Error(err))
	}
}

// enqueue hands an event to the ingest worker.
func (s *Service) enqueue(ctx context.Context, e ingest.Event) error {
	if err := s.queue.Enqueue(ctx, e); err != nil {
		return fmt.Errorf("enqueue %s: %w", e.Kind, err)
	}
	return nil
}

// handlePush discriminates one push payload and queues it. A bootstrap
// takes its sequence number now, at receipt.
func (s *Service) handlePush(ctx context.Context, data []byte) error {
	e, err := ingest.Decode(data)
	if err != nil {
		metrics.RecordMalformedPayload("push")
		return err
	}
	if e.Kind == ingest.KindBootstrap {
		e.Seq = s.ingestor.NextSeq()
	}
	return s.enqueue(ctx, e)
}

// Snapshot returns the rendered ring entries.
func (s *Service) Snapshot() []model.RingEntry { return s.sess.Snapshot() }

// CurrentLap returns the records of the lap being shown.
func (s *Service) CurrentLap() []model.ContributionRecord { return s.sess.CurrentLap() }

// Table returns the orbit geometry.
func (s *Service) Table() *orbit.Table { return s.table }

// Session exposes the underlying session.
func (s *Service) Session() *session.Session { return s.sess }

// Submit persists a contribution made at gc.
func (s *Service) Submit(ctx context.Context, gc model.GeofenceContext) (model.ContributionRecord, error) {
	sub, err := s.activeSubmitter()
	if err != nil {
		return model.ContributionRecord{}, err
	}
	return sub.Submit(ctx, gc)
}

// SubmitHere persists a contribution at the device's own position.
func (s *Service) SubmitHere(ctx context.Context, locationID string) (model.ContributionRecord, error) {
	sub, err := s.activeSubmitter()
	if err != nil {
		return model.ContributionRecord{}, err
	}
	return sub.SubmitHere(ctx, locationID)
}

func (s *Service) activeSubmitter() (*submit.Submitter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.submitter, nil
}

// Reset clears the working set and the cached copy. The next fetch
// repopulates it.
func (s *Service) Reset(ctx context.Context) error {
	s.sess.Reset()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != nil {
		if err := s.state.ClearWorkingSet(ctx); err != nil {
			return fmt.Errorf("clear cached working set: %w", err)
		}
	}
	s.logger.Info(ctx, "working set reset")
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.sess.Stats()
	stats := map[string]any{
		"started":         s.started,
		"geometryVersion": st.GeometryVersion,
		"slots":           st.Slots,
		"historyLength":   st.HistoryLength,
		"lapNumber":       st.LapNumber,
		"lapLength":       st.LapLength,
		"registrySize":    st.RegistrySize,
		"registryState":   st.RegistryState,
		"usedSlots":       st.UsedSlots,
		"pending":         st.Pending,
		"lastAppliedSeq":  s.ingestor.LastApplied(),
		"pushEnabled":     s.pushURL != "",
	}

	if s.started {
		stats["submitterId"] = s.submitterID
		stats["submissionInFlight"] = s.submitter.InFlight()
		stats["queueLength"] = s.queue.Len(context.Background())
	}
	return stats
}
