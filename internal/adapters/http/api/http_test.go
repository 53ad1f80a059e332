package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/orbit/internal/adapters/http/api"
	"github.com/okian/orbit/internal/adapters/repository"
	"github.com/okian/orbit/internal/domain/dedupe"
	"github.com/okian/orbit/internal/domain/geo"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/orbit"
	"github.com/okian/orbit/internal/domain/submit"
)

func newRecord(id string, slot int) model.ContributionRecord {
	return model.ContributionRecord{
		ID:          id,
		LocationID:  "plaza",
		Latitude:    35.68,
		Longitude:   139.76,
		SubmitterID: "kiosk-1",
		SlotIndex:   slot,
		Hue:         200,
		CreatedAt:   model.NewTimestamp(time.Date(2026, 5, 1, 9, 30, 0, 0, model.RecordZone)),
	}
}

type mockClient struct {
	table     *orbit.Table
	rings     []model.RingEntry
	lap       []model.ContributionRecord
	submitErr error
	lastGC    model.GeofenceContext
	lastHere  string
	resets    int
}

func (m *mockClient) Snapshot() []model.RingEntry { return m.rings }
func (m *mockClient) CurrentLap() []model.ContributionRecord { return m.lap }
func (m *mockClient) Table() *orbit.Table { return m.table }
func (m *mockClient) Reset(context.Context) error {
	m.resets++
	return nil
}

func (m *mockClient) Submit(_ context.Context, gc model.GeofenceContext) (model.ContributionRecord, error) {
	m.lastGC = gc
	if m.submitErr != nil {
		return model.ContributionRecord{}, m.submitErr
	}
	rec := newRecord("new", 1)
	rec.LocationID = gc.LocationID
	return rec, nil
}

func (m *mockClient) SubmitHere(_ context.Context, locationID string) (model.ContributionRecord, error) {
	m.lastHere = locationID
	if m.submitErr != nil {
		return model.ContributionRecord{}, m.submitErr
	}
	return newRecord("here", 2), nil
}

type mockStats struct{}

func (mockStats) GetStats() map[string]any { return map[string]any{"slots": 3} }

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestClientServer(t *testing.T) {
	Convey("Given the client surface over a three-slot orbit", t, func() {
		deps := &mockClient{
			table: orbit.Ring(3),
			rings: []model.RingEntry{{ID: "a", SlotIndex: 0, Color: "#ff0000", Scale: 1}},
			lap:   []model.ContributionRecord{newRecord("a", 0)},
		}
		h := api.NewClientServer(deps, mockStats{}).Routes()

		Convey("GET /rings returns the registry snapshot", func() {
			w := do(h, http.MethodGet, "/rings", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var body struct {
				Rings []model.RingEntry `json:"rings"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.Rings, ShouldHaveLength, 1)
			So(body.Rings[0].ID, ShouldEqual, "a")
		})

		Convey("GET /lap returns the current lap", func() {
			w := do(h, http.MethodGet, "/lap", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var body model.BootstrapPayload
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.Records, ShouldHaveLength, 1)
		})

		Convey("GET /lap on an empty session returns an empty array", func() {
			deps.lap = nil
			w := do(h, http.MethodGet, "/lap", "")
			So(w.Body.String(), ShouldContainSubstring, `"records":[]`)
		})

		Convey("GET /slots/{index} returns the slot tuple", func() {
			w := do(h, http.MethodGet, "/slots/2", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var slot model.SlotDescriptor
			So(json.Unmarshal(w.Body.Bytes(), &slot), ShouldBeNil)
			So(slot.Index, ShouldEqual, 2)
		})

		Convey("GET /slots with an out of range index is 404", func() {
			So(do(h, http.MethodGet, "/slots/3", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/slots/-1", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("GET /slots with a non-numeric index is 400", func() {
			So(do(h, http.MethodGet, "/slots/abc", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("POST /contributions with coordinates submits them", func() {
			w := do(h, http.MethodPost, "/contributions",
				`{"locationId":"plaza","coordinates":{"latitude":35.1,"longitude":139.2}}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(deps.lastGC.LocationID, ShouldEqual, "plaza")
			So(deps.lastGC.Coordinates.Latitude, ShouldEqual, 35.1)
		})

		Convey("POST /contributions without coordinates locates the device", func() {
			w := do(h, http.MethodPost, "/contributions", `{"locationId":"plaza"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(deps.lastHere, ShouldEqual, "plaza")
		})

		Convey("POST /contributions rejects a missing location", func() {
			w := do(h, http.MethodPost, "/contributions", `{}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "bad_request")
		})

		Convey("POST /contributions rejects malformed JSON", func() {
			So(do(h, http.MethodPost, "/contributions", `{`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Submission errors map to statuses", func() {
			cases := []struct {
				err    error
				status int
				code   string
			}{
				{submit.ErrSubmissionInProgress, http.StatusConflict, "submission_in_progress"},
				{fmt.Errorf("wrap: %w", submit.ErrSubmissionConflict), http.StatusConflict, "slot_conflict"},
				{submit.ErrOutsideGeofence, http.StatusUnprocessableEntity, "outside_geofence"},
				{geo.ErrUnknownLocation, http.StatusUnprocessableEntity, "unknown_location"},
				{fmt.Errorf("%w: %w", submit.ErrTransport, geo.ErrPermissionDenied), http.StatusBadGateway, "transport_failure"},
			}
			for _, c := range cases {
				deps.submitErr = c.err
				w := do(h, http.MethodPost, "/contributions", `{"locationId":"plaza"}`)
				So(w.Code, ShouldEqual, c.status)
				So(errorCode(w), ShouldEqual, c.code)
			}
		})

		Convey("POST /reset clears the session", func() {
			w := do(h, http.MethodPost, "/reset", "")
			So(w.Code, ShouldEqual, http.StatusNoContent)
			So(deps.resets, ShouldEqual, 1)
		})

		Convey("Health, stats and metrics are mounted", func() {
			So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/stats", "").Body.String(), ShouldContainSubstring, `"slots":3`)
			So(do(h, http.MethodGet, "/metrics", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Unknown routes are 404 and wrong methods 405", func() {
			So(do(h, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodDelete, "/rings", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

type memoryRecords struct {
	*repository.MemoryStore
	slots int
}

func (m memoryRecords) SlotCount() int { return m.slots }

func TestStoreServer(t *testing.T) {
	Convey("Given the store surface over a three-slot orbit", t, func() {
		store := memoryRecords{MemoryStore: repository.NewMemoryStore(repository.WithSlots(3)), slots: 3}
		seen := dedupe.NewInMemoryDeduper()
		h := api.NewStoreServer(store, seen, api.WithStats(mockStats{})).Routes()

		post := func(rec model.ContributionRecord) *httptest.ResponseRecorder {
			body, _ := json.Marshal(rec)
			return do(h, http.MethodPost, "/records", string(body))
		}

		Convey("A new record is created", func() {
			w := post(newRecord("a", 0))
			So(w.Code, ShouldEqual, http.StatusCreated)
			var got model.ContributionRecord
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got.ID, ShouldEqual, "a")

			Convey("Resubmitting the same id is acknowledged with the stored record", func() {
				w := post(newRecord("a", 0))
				So(w.Code, ShouldEqual, http.StatusOK)
				So(seen.Size(), ShouldEqual, 1)
			})

			Convey("Another id on the same slot is a conflict", func() {
				w := post(newRecord("b", 0))
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "slot_taken")

				Convey("and the losing id may be retried on a free slot", func() {
					So(post(newRecord("b", 1)).Code, ShouldEqual, http.StatusCreated)
				})
			})

			Convey("GET /records lists history in creation order", func() {
				So(post(newRecord("b", 2)).Code, ShouldEqual, http.StatusCreated)
				w := do(h, http.MethodGet, "/records", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var payload model.BootstrapPayload
				So(json.Unmarshal(w.Body.Bytes(), &payload), ShouldBeNil)
				So(payload.Records, ShouldHaveLength, 2)
				So(payload.Records[0].ID, ShouldEqual, "a")
				So(payload.Records[1].ID, ShouldEqual, "b")
			})

			Convey("DELETE /records empties the store", func() {
				So(do(h, http.MethodDelete, "/records", "").Code, ShouldEqual, http.StatusNoContent)
				So(do(h, http.MethodGet, "/records", "").Body.String(), ShouldContainSubstring, `"records":[]`)
				So(seen.Size(), ShouldEqual, 0)
			})
		})

		Convey("A full lap frees every slot for the next lap", func() {
			for i := 0; i < 3; i++ {
				So(post(newRecord(fmt.Sprintf("r%d", i), i)).Code, ShouldEqual, http.StatusCreated)
			}
			So(post(newRecord("next", 1)).Code, ShouldEqual, http.StatusCreated)
		})

		Convey("Invalid records are rejected", func() {
			rec := newRecord("a", 5)
			So(post(rec).Code, ShouldEqual, http.StatusBadRequest)
			rec = newRecord("", 0)
			So(post(rec).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/records", `not json`).Code, ShouldEqual, http.StatusBadRequest)
		})
	})

	Convey("Given a store surface with a tight submit limit", t, func() {
		store := memoryRecords{MemoryStore: repository.NewMemoryStore(repository.WithSlots(3)), slots: 3}
		h := api.NewStoreServer(store, dedupe.NewInMemoryDeduper(),
			api.WithLimiter(api.NewSubmitterLimiter(0.001, 1))).Routes()

		Convey("A second submission from the same kiosk is throttled", func() {
			body, _ := json.Marshal(newRecord("a", 0))
			So(do(h, http.MethodPost, "/records", string(body)).Code, ShouldEqual, http.StatusCreated)
			body, _ = json.Marshal(newRecord("b", 1))
			w := do(h, http.MethodPost, "/records", string(body))
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(errorCode(w), ShouldEqual, "rate_limited")
		})
	})
}
