package ingest_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/orbit/internal/domain/allocator"
	"github.com/okian/orbit/internal/domain/ingest"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/internal/domain/orbit"
	"github.com/okian/orbit/internal/domain/session"
	"github.com/okian/orbit/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var createdAt = model.NewTimestamp(time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC))

func rec(id string, slot int) model.ContributionRecord {
	return model.ContributionRecord{
		ID: id, LocationID: "loc-1", Latitude: 35.68, Longitude: 139.76,
		SubmitterID: "kiosk-1", SlotIndex: slot, Hue: 42, CreatedAt: createdAt,
	}
}

func historyIDs(s *session.Session) []string {
	var out []string
	for _, r := range s.History() {
		out = append(out, r.ID)
	}
	return out
}

func TestBootstrapSequencing(t *testing.T) {
	Convey("Given an ingestor over a three-slot session", t, func() {
		So(logger.Init(), ShouldBeNil)
		s := session.New(orbit.Ring(3), session.WithAllocator(allocator.New(3, allocator.WithSeed(1))))

		var hooked [][]model.ContributionRecord
		in := ingest.New(s, ingest.WithBootstrapHook(func(_ context.Context, records []model.ContributionRecord) {
			hooked = append(hooked, records)
		}))
		ctx := context.Background()

		Convey("When two fetches complete out of order", func() {
			first, second := in.NextSeq(), in.NextSeq()
			So(in.ApplyBootstrap(ctx, second, ingest.SourcePoll, []model.ContributionRecord{rec("a", 0), rec("b", 1)}), ShouldBeNil)
			err := in.ApplyBootstrap(ctx, first, ingest.SourcePoll, []model.ContributionRecord{rec("a", 0)})

			Convey("Then the older one is dropped as stale", func() {
				So(errors.Is(err, ingest.ErrStaleBootstrap), ShouldBeTrue)
				So(historyIDs(s), ShouldResemble, []string{"a", "b"})
				So(in.LastApplied(), ShouldEqual, second)
				So(hooked, ShouldHaveLength, 1)
			})
		})

		Convey("When the same sequence number is applied twice", func() {
			seq := in.NextSeq()
			So(in.ApplyBootstrap(ctx, seq, ingest.SourcePush, nil), ShouldBeNil)

			Convey("Then the repeat is stale", func() {
				err := in.ApplyBootstrap(ctx, seq, ingest.SourcePush, nil)
				So(errors.Is(err, ingest.ErrStaleBootstrap), ShouldBeTrue)
			})
		})

		Convey("When a bootstrap breaks the orbit invariants", func() {
			So(in.ApplyBootstrap(ctx, in.NextSeq(), ingest.SourcePoll, []model.ContributionRecord{rec("a", 0)}), ShouldBeNil)
			before := in.LastApplied()
			err := in.ApplyBootstrap(ctx, in.NextSeq(), ingest.SourcePoll, []model.ContributionRecord{rec("x", 1), rec("y", 1)})

			Convey("Then it is rejected and the last good set stays", func() {
				So(errors.Is(err, session.ErrInvariantViolation), ShouldBeTrue)
				So(historyIDs(s), ShouldResemble, []string{"a"})
				So(in.LastApplied(), ShouldEqual, before)
				So(hooked, ShouldHaveLength, 1)
			})
		})

		Convey("When the cached working set is applied first", func() {
			So(in.ApplyCached(ctx, []model.ContributionRecord{rec("c", 2)}), ShouldBeNil)

			Convey("Then it shows without advancing the sequence", func() {
				So(historyIDs(s), ShouldResemble, []string{"c"})
				So(in.LastApplied(), ShouldEqual, 0)
				So(hooked, ShouldBeEmpty)
			})

			Convey("And any real fetch supersedes it", func() {
				So(in.ApplyBootstrap(ctx, in.NextSeq(), ingest.SourcePoll, []model.ContributionRecord{rec("d", 0)}), ShouldBeNil)
				So(historyIDs(s), ShouldResemble, []string{"d"})
			})
		})

		Convey("When the cache arrives after a real bootstrap", func() {
			So(in.ApplyBootstrap(ctx, in.NextSeq(), ingest.SourcePoll, []model.ContributionRecord{rec("d", 0)}), ShouldBeNil)
			err := in.Handle(ctx, ingest.Bootstrap(0, ingest.SourceCache, []model.ContributionRecord{rec("c", 2)}))

			Convey("Then it is stale", func() {
				So(errors.Is(err, ingest.ErrStaleBootstrap), ShouldBeTrue)
				So(historyIDs(s), ShouldResemble, []string{"d"})
			})
		})
	})
}

func TestDeltaHandling(t *testing.T) {
	Convey("Given an ingestor with one applied record", t, func() {
		So(logger.Init(), ShouldBeNil)
		s := session.New(orbit.Ring(3), session.WithAllocator(allocator.New(3, allocator.WithSeed(1))))
		in := ingest.New(s)
		ctx := context.Background()
		So(in.ApplyBootstrap(ctx, in.NextSeq(), ingest.SourcePoll, []model.ContributionRecord{rec("a", 0)}), ShouldBeNil)

		Convey("When a delta event is handled", func() {
			So(in.Handle(ctx, ingest.Delta(ingest.SourcePush, rec("b", 1))), ShouldBeNil)

			Convey("Then it is appended", func() {
				So(historyIDs(s), ShouldResemble, []string{"a", "b"})
			})

			Convey("And a redelivery is ignored", func() {
				err := in.Handle(ctx, ingest.Delta(ingest.SourcePush, rec("b", 1)))
				So(errors.Is(err, session.ErrAlreadyApplied), ShouldBeTrue)
				So(historyIDs(s), ShouldResemble, []string{"a", "b"})
			})
		})

		Convey("When a delta takes a used slot", func() {
			err := in.Handle(ctx, ingest.Delta(ingest.SourcePush, rec("b", 0)))

			Convey("Then it is rejected", func() {
				So(errors.Is(err, session.ErrDuplicateSlot), ShouldBeTrue)
			})
		})

		Convey("When an event of unknown kind is handled", func() {
			err := in.Handle(ctx, ingest.Event{Source: ingest.SourcePush})

			Convey("Then it is malformed", func() {
				So(errors.Is(err, ingest.ErrMalformedPayload), ShouldBeTrue)
			})
		})
	})
}

func TestDecode(t *testing.T) {
	Convey("Given push payloads", t, func() {
		Convey("A records object decodes as a bootstrap", func() {
			e, err := ingest.Decode([]byte(`{"records":[{"id":"a","locationId":"l","latitude":1,"longitude":2,"submitterId":"s","slotIndex":3,"hue":10,"createdAt":"2025-04-01T19:00:00.000+09:00"}]}`))
			So(err, ShouldBeNil)
			So(e.Kind, ShouldEqual, ingest.KindBootstrap)
			So(e.Source, ShouldEqual, ingest.SourcePush)
			So(e.Records, ShouldHaveLength, 1)
			So(e.Records[0].SlotIndex, ShouldEqual, 3)
		})

		Convey("An empty records array is still a bootstrap", func() {
			e, err := ingest.Decode([]byte(`{"records":[]}`))
			So(err, ShouldBeNil)
			So(e.Kind, ShouldEqual, ingest.KindBootstrap)
			So(e.Records, ShouldBeEmpty)
		})

		Convey("A single record decodes as a delta", func() {
			e, err := ingest.Decode([]byte(`{"id":"a","slotIndex":4,"hue":12.5}`))
			So(err, ShouldBeNil)
			So(e.Kind, ShouldEqual, ingest.KindDelta)
			So(e.Record.ID, ShouldEqual, "a")
			So(e.Record.SlotIndex, ShouldEqual, 4)
		})

		Convey("Anything else is malformed", func() {
			for _, raw := range []string{
				`[]`,
				`null`,
				`"records"`,
				`{}`,
				`{"id":"a"}`,
				`{"slotIndex":1}`,
				`{"records":null}`,
				`{"records":{"id":"a"}}`,
				`{"id":"a","slotIndex":"one"}`,
				`not json`,
			} {
				_, err := ingest.Decode([]byte(raw))
				So(errors.Is(err, ingest.ErrMalformedPayload), ShouldBeTrue)
			}
		})
	})
}

type fakeFetcher struct {
	calls   atomic.Int32
	err     error
	records []model.ContributionRecord
}

func (f *fakeFetcher) FetchAll(context.Context) ([]model.ContributionRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type counter struct{ n atomic.Uint64 }

func (c *counter) NextSeq() uint64 { return c.n.Add(1) }

func TestPoller(t *testing.T) {
	Convey("Given a poller over a fake fetcher", t, func() {
		So(logger.Init(), ShouldBeNil)
		f := &fakeFetcher{records: []model.ContributionRecord{rec("a", 0)}}
		var mu sync.Mutex
		var got []ingest.Event
		sink := func(_ context.Context, e ingest.Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, e)
			return nil
		}
		var failures atomic.Int32
		p := ingest.NewPoller(f, &counter{}, sink,
			ingest.WithInterval(10*time.Millisecond),
			ingest.WithFetchTimeout(time.Second),
			ingest.WithFetchErrorHandler(func(context.Context, error) { failures.Add(1) }),
		)

		Convey("When one fetch succeeds", func() {
			So(p.FetchOnce(context.Background()), ShouldBeNil)

			Convey("Then a sequenced poll bootstrap reaches the sink", func() {
				So(got, ShouldHaveLength, 1)
				So(got[0].Kind, ShouldEqual, ingest.KindBootstrap)
				So(got[0].Seq, ShouldEqual, 1)
				So(got[0].Source, ShouldEqual, ingest.SourcePoll)
				So(got[0].Records, ShouldHaveLength, 1)
			})
		})

		Convey("When the fetch fails", func() {
			f.err = errors.New("connection refused")
			err := p.FetchOnce(context.Background())

			Convey("Then nothing is queued and the failure is reported", func() {
				So(err, ShouldNotBeNil)
				So(got, ShouldBeEmpty)
				So(failures.Load(), ShouldEqual, 1)
			})
		})

		Convey("When it runs for a while", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				p.Run(ctx)
				close(done)
			}()
			time.Sleep(60 * time.Millisecond)
			cancel()
			<-done

			Convey("Then it fetched repeatedly with increasing sequence numbers", func() {
				So(f.calls.Load(), ShouldBeGreaterThan, 1)
				mu.Lock()
				defer mu.Unlock()
				seen := map[uint64]bool{}
				for _, e := range got {
					So(seen[e.Seq], ShouldBeFalse)
					seen[e.Seq] = true
				}
			})
		})
	})
}
