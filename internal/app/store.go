package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	eventqueue "github.com/okian/orbit/internal/adapters/mq/queue"
	"github.com/okian/orbit/internal/adapters/mq/worker"
	"github.com/okian/orbit/internal/adapters/push"
	"github.com/okian/orbit/internal/adapters/repository"
	"github.com/okian/orbit/internal/domain/dedupe"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/orbit"
	"github.com/okian/orbit/pkg/logger"
	"github.com/okian/orbit/pkg/metrics"
)

const broadcastQueueName = "broadcast"

// broadcast is one message for push subscribers: an accepted record, or an
// emptied history after a reset.
type broadcast struct {
	record model.ContributionRecord
	reset  bool
}

// StoreService is the reference persistence backend: records, idempotency,
// and the push hub fed by a single broadcast worker so subscribers see
// records in acceptance order.
type StoreService struct {
	mu sync.RWMutex

	table   *orbit.Table
	repo    repository.Store
	deduper dedupe.Deduper
	hub     *push.Hub
	queue   *eventqueue.InMemoryQueue[broadcast]
	worker  *worker.InMemoryWorker[broadcast]

	dbPath     string
	queueSize  int
	dedupeSize int

	started bool
	logger  logger.Logger
}

// StoreOption applies a configuration option to the StoreService.
type StoreOption func(*StoreService)

// WithDBPath persists records in a SQLite file. Empty keeps them in memory.
func WithDBPath(path string) StoreOption {
	return func(s *StoreService) { s.dbPath = path }
}

// WithBroadcastQueueSize sets the capacity of the broadcast queue.
func WithBroadcastQueueSize(size int) StoreOption {
	return func(s *StoreService) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize bounds the idempotency tracker.
func WithDedupeSize(size int) StoreOption {
	return func(s *StoreService) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithStoreLogger sets a custom logger.
func WithStoreLogger(l logger.Logger) StoreOption {
	return func(s *StoreService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStoreService creates a store for records placed on table.
func NewStoreService(table *orbit.Table, opts ...StoreOption) *StoreService {
	s := &StoreService{
		table:      table,
		queueSize:  1024,
		dedupeSize: 50_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("store")
	}
	return s
}

// Start opens the repository and starts the broadcast worker.
func (s *StoreService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.dbPath != "" {
		repo, err := repository.NewSQLiteStore(ctx, s.dbPath, repository.WithTable(s.table))
		if err != nil {
			return fmt.Errorf("open record store: %w", err)
		}
		s.repo = repo
		s.logger.Info(ctx, "using sqlite record store", logger.String("path", s.dbPath))
	} else {
		s.repo = repository.NewMemoryStore(repository.WithTable(s.table))
		s.logger.Info(ctx, "using in-memory record store")
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		_ = s.repo.Close()
		return fmt.Errorf("count records: %w", err)
	}
	metrics.UpdateStoreRecords(count)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.hub = push.NewHub(s.repo.List, push.WithHubLogger(s.logger.Named("hub")))
	s.queue = eventqueue.NewInMemoryQueue[broadcast](
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithName(broadcastQueueName),
	)
	s.worker = worker.NewInMemoryWorker[broadcast](s.queue,
		worker.HandlerFunc[broadcast](s.deliver),
		worker.WithName(broadcastQueueName),
		worker.WithLogger(s.logger),
	)
	go s.worker.Run(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "record store started",
		logger.Int("records", count),
		logger.Int("slots", s.table.Size()),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop disconnects subscribers, stops the broadcast worker and closes the
// repository.
func (s *StoreService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping record store...")

	_ = s.hub.Close()
	_ = s.queue.Close()
	err := s.worker.Shutdown(ctx)
	if cerr := s.repo.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close record store: %w", cerr)
	}

	s.started = false
	s.logger.Info(ctx, "record store stopped")
	return err
}

func (s *StoreService) deliver(ctx context.Context, b broadcast) error {
	if b.reset {
		return s.hub.BroadcastSnapshot(ctx, nil)
	}
	return s.hub.Broadcast(ctx, b.record)
}

func (s *StoreService) publish(ctx context.Context, b broadcast) {
	if err := s.queue.Enqueue(ctx, b); err != nil {
		// Subscribers catch up from their next poll or reconnect.
		s.logger.Warn(ctx, "broadcast dropped", logger.String("id", b.record.ID), logger.Error(err))
	}
}

// SlotCount returns the number of slots per lap.
func (s *StoreService) SlotCount() int { return s.table.Size() }

// Insert persists rec and publishes it to subscribers.
func (s *StoreService) Insert(ctx context.Context, rec model.ContributionRecord) (model.ContributionRecord, error) {
	stored, err := s.repo.Insert(ctx, rec)
	switch {
	case errors.Is(err, repository.ErrSlotTaken):
		metrics.RecordStoreConflict()
		return model.ContributionRecord{}, err
	case errors.Is(err, repository.ErrDuplicateID):
		metrics.RecordStoreDuplicate()
		return model.ContributionRecord{}, err
	case err != nil:
		return model.ContributionRecord{}, err
	}

	if count, cerr := s.repo.Count(ctx); cerr == nil {
		metrics.UpdateStoreRecords(count)
	}
	s.publish(ctx, broadcast{record: stored})
	s.logger.Debug(ctx, "record accepted",
		logger.String("id", stored.ID),
		logger.Int("slot", stored.SlotIndex),
	)
	return stored, nil
}

// Get returns the record stored under id.
func (s *StoreService) Get(ctx context.Context, id string) (model.ContributionRecord, error) {
	return s.repo.Get(ctx, id)
}

// List returns every record in creation order.
func (s *StoreService) List(ctx context.Context) ([]model.ContributionRecord, error) {
	return s.repo.List(ctx)
}

// Reset deletes every record and tells subscribers the history is empty.
func (s *StoreService) Reset(ctx context.Context) error {
	if err := s.repo.Reset(ctx); err != nil {
		return err
	}
	metrics.UpdateStoreRecords(0)
	s.publish(ctx, broadcast{reset: true})
	s.logger.Info(ctx, "record store reset")
	return nil
}

// Deduper returns the idempotency tracker for the submit handler.
func (s *StoreService) Deduper() dedupe.Deduper { return s.deduper }

// LiveHandler returns the push channel endpoint.
func (s *StoreService) LiveHandler() http.Handler { return s.hub.Handler() }

// GetStats returns store statistics for monitoring.
func (s *StoreService) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":         s.started,
		"geometryVersion": s.table.Version(),
		"slots":           s.table.Size(),
		"dedupeSize":      s.dedupeSize,
	}
	if s.started {
		ctx := context.Background()
		if count, err := s.repo.Count(ctx); err == nil {
			stats["records"] = count
		}
		stats["seenIds"] = s.deduper.Size()
		stats["subscribers"] = s.hub.Subscribers()
		stats["broadcastQueueLength"] = s.queue.Len(ctx)
	}
	return stats
}
