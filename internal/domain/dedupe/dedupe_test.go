package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/orbit/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		Convey("Then it starts empty", func() {
			So(d.Size(), ShouldEqual, 0)
		})

		Convey("When a record id is new", func() {
			seen := d.SeenAndRecord(ctx, "rec-1")

			Convey("Then it is recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And a resubmission is recognised", func() {
				So(d.SeenAndRecord(ctx, "rec-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And unrecording allows a retry", func() {
				d.Unrecord(ctx, "rec-1")
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "rec-1"), ShouldBeFalse)
			})
		})

		Convey("When unrecording an unknown id", func() {
			d.SeenAndRecord(ctx, "rec-1")
			d.Unrecord(ctx, "nope")

			Convey("Then nothing changes", func() {
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When reset", func() {
			d.SeenAndRecord(ctx, "rec-1")
			d.SeenAndRecord(ctx, "rec-2")
			d.Reset(ctx)

			Convey("Then every id is forgotten", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "rec-1"), ShouldBeFalse)
			})
		})
	})
}

func TestBoundedDeduper(t *testing.T) {
	Convey("Given a deduper bounded to three ids", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, id := range []string{"a", "b", "c"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("When a fourth id arrives", func() {
			So(d.SeenAndRecord(ctx, "d"), ShouldBeFalse)

			Convey("Then the oldest id is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "c"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "d"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			})
		})

		Convey("When the oldest id was unrecorded first", func() {
			d.Unrecord(ctx, "a")
			So(d.SeenAndRecord(ctx, "d"), ShouldBeFalse)

			Convey("Then nothing else is evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("rec-%d", i))
		}
		So(d.Size(), ShouldEqual, 1000)
	})
}

func TestConcurrentDeduper(t *testing.T) {
	Convey("Given many goroutines racing on the same ids", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()
		var fresh atomic.Int32
		var wg sync.WaitGroup

		for g := 0; g < 20; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if !d.SeenAndRecord(ctx, fmt.Sprintf("rec-%d", i)) {
						fresh.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each id is new exactly once", func() {
			So(fresh.Load(), ShouldEqual, 100)
			So(d.Size(), ShouldEqual, 100)
		})
	})
}
