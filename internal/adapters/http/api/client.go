package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okian/orbit/internal/domain/geo"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/orbit"
	"github.com/okian/orbit/internal/domain/submit"
)

// ClientDependencies is what the renderer surface needs from the session
// service.
type ClientDependencies interface {
	Snapshot() []model.RingEntry
	CurrentLap() []model.ContributionRecord
	Table() *orbit.Table
	Submit(ctx context.Context, gc model.GeofenceContext) (model.ContributionRecord, error)
	SubmitHere(ctx context.Context, locationID string) (model.ContributionRecord, error)
	Reset(ctx context.Context) error
}

// ClientServer serves the ring state to the rendering client and accepts new
// contributions.
type ClientServer struct {
	deps  ClientDependencies
	stats StatsProvider
}

// NewClientServer creates the client HTTP surface.
func NewClientServer(deps ClientDependencies, stats StatsProvider) *ClientServer {
	return &ClientServer{deps: deps, stats: stats}
}

// Routes builds the client router.
func (s *ClientServer) Routes() http.Handler {
	r := newRouter()
	mountCommon(r, s.stats)
	r.Get("/rings", MetricsMiddleware(s.handleRings, "rings"))
	r.Get("/lap", MetricsMiddleware(s.handleLap, "lap"))
	r.Get("/slots/{index}", MetricsMiddleware(s.handleSlot, "slots"))
	r.Post("/contributions", MetricsMiddleware(s.handleContribution, "contributions"))
	r.Post("/reset", MetricsMiddleware(s.handleReset, "reset"))
	return r
}

type ringsResponse struct {
	Rings []model.RingEntry `json:"rings"`
}

func (s *ClientServer) handleRings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ringsResponse{Rings: s.deps.Snapshot()})
}

func (s *ClientServer) handleLap(w http.ResponseWriter, _ *http.Request) {
	lap := s.deps.CurrentLap()
	if lap == nil {
		lap = []model.ContributionRecord{}
	}
	writeJSON(w, http.StatusOK, model.BootstrapPayload{Records: lap})
}

func (s *ClientServer) handleSlot(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_slot"
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	table := s.deps.Table()
	if !table.Contains(index) {
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, model.ErrSlotOutOfRange))
		return
	}
	writeJSON(w, http.StatusOK, table.SlotAt(index))
}

// contributionRequest carries the geofence the contribution was made in.
// Without coordinates the session's own locator positions the device.
type contributionRequest struct {
	LocationID  string             `json:"locationId"`
	Coordinates *model.Coordinates `json:"coordinates,omitempty"`
}

func (s *ClientServer) handleContribution(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_contribution"
	var req contributionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.LocationID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing locationId")))
		return
	}

	var (
		rec model.ContributionRecord
		err error
	)
	if req.Coordinates == nil {
		rec, err = s.deps.SubmitHere(r.Context(), req.LocationID)
	} else {
		rec, err = s.deps.Submit(r.Context(), model.GeofenceContext{
			LocationID:  req.LocationID,
			Coordinates: *req.Coordinates,
		})
	}
	if err != nil {
		status, code := submitStatus(err)
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func submitStatus(err error) (int, string) {
	switch {
	case errors.Is(err, submit.ErrSubmissionInProgress):
		return http.StatusConflict, "submission_in_progress"
	case errors.Is(err, submit.ErrSubmissionConflict):
		return http.StatusConflict, "slot_conflict"
	case errors.Is(err, submit.ErrOutsideGeofence):
		return http.StatusUnprocessableEntity, "outside_geofence"
	case errors.Is(err, geo.ErrUnknownLocation):
		return http.StatusUnprocessableEntity, "unknown_location"
	case errors.Is(err, model.ErrInvalidRecord):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, submit.ErrTransport):
		return http.StatusBadGateway, "transport_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *ClientServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", WrapKind("api.reset", ErrInternal, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
