package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/orbit/internal/adapters/repository"
	"github.com/okian/orbit/internal/domain/dedupe"
	"github.com/okian/orbit/internal/domain/model"
)

// RecordStore is what the reference store surface needs from the store
// service. Insert is expected to publish accepted records to subscribers.
type RecordStore interface {
	SlotCount() int
	Insert(ctx context.Context, rec model.ContributionRecord) (model.ContributionRecord, error)
	Get(ctx context.Context, id string) (model.ContributionRecord, error)
	List(ctx context.Context) ([]model.ContributionRecord, error)
	Reset(ctx context.Context) error
}

// StoreServer serves the reference persistence API.
type StoreServer struct {
	store   RecordStore
	seen    dedupe.Deduper
	limiter *SubmitterLimiter
	live    http.Handler
	stats   StatsProvider
}

// StoreOption configures a StoreServer.
type StoreOption func(*StoreServer)

// WithLimiter rate limits submissions per submitter.
func WithLimiter(l *SubmitterLimiter) StoreOption {
	return func(s *StoreServer) { s.limiter = l }
}

// WithLive mounts the push channel at /live.
func WithLive(h http.Handler) StoreOption {
	return func(s *StoreServer) { s.live = h }
}

// WithStats exposes GET /stats.
func WithStats(p StatsProvider) StoreOption {
	return func(s *StoreServer) { s.stats = p }
}

// NewStoreServer creates the store HTTP surface.
func NewStoreServer(store RecordStore, seen dedupe.Deduper, opts ...StoreOption) *StoreServer {
	s := &StoreServer{store: store, seen: seen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the store router.
func (s *StoreServer) Routes() http.Handler {
	r := newRouter()
	mountCommon(r, s.stats)
	r.Post("/records", MetricsMiddleware(s.handleSubmit, "records_post"))
	r.Get("/records", MetricsMiddleware(s.handleList, "records_get"))
	r.Delete("/records", MetricsMiddleware(s.handleReset, "records_delete"))
	if s.live != nil {
		// The upgrade needs the raw writer; the metrics wrapper cannot hijack.
		r.Handle("/live", s.live)
	}
	return r
}

func (s *StoreServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_record"
	ctx := r.Context()

	var rec model.ContributionRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := rec.Validate(s.store.SlotCount()); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if !s.limiter.Allow(rec.SubmitterID) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", NewKind(op, ErrRateLimited))
		return
	}

	// A retried submission returns the record already stored under its id.
	seen := s.seen.SeenAndRecord(ctx, rec.ID)
	if seen {
		if existing, err := s.store.Get(ctx, rec.ID); err == nil {
			writeJSON(w, http.StatusOK, existing)
			return
		}
	}

	stored, err := s.store.Insert(ctx, rec)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, stored)
	case errors.Is(err, repository.ErrDuplicateID):
		existing, getErr := s.store.Get(ctx, rec.ID)
		if getErr != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, getErr))
			return
		}
		writeJSON(w, http.StatusOK, existing)
	case errors.Is(err, repository.ErrSlotTaken):
		if !seen {
			s.seen.Unrecord(ctx, rec.ID)
		}
		writeError(w, http.StatusConflict, "slot_taken", WrapKind(op, ErrConflict, err))
	case errors.Is(err, model.ErrSlotOutOfRange):
		s.seen.Unrecord(ctx, rec.ID)
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	default:
		s.seen.Unrecord(ctx, rec.ID)
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind(op, ErrInternal, err))
	}
}

func (s *StoreServer) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind("api.list_records", ErrInternal, err))
		return
	}
	if records == nil {
		records = []model.ContributionRecord{}
	}
	writeJSON(w, http.StatusOK, model.BootstrapPayload{Records: records})
}

func (s *StoreServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind("api.reset_records", ErrInternal, err))
		return
	}
	s.seen.Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
