package api

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSubmitterLimiter(t *testing.T) {
	Convey("Given a limiter of one submission per second", t, func() {
		l := NewSubmitterLimiter(1, 1)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		l.now = func() time.Time { return now }

		Convey("Each submitter has its own bucket", func() {
			So(l.Allow("a"), ShouldBeTrue)
			So(l.Allow("a"), ShouldBeFalse)
			So(l.Allow("b"), ShouldBeTrue)
		})

		Convey("Tokens refill over time", func() {
			So(l.Allow("a"), ShouldBeTrue)
			now = now.Add(time.Second)
			So(l.Allow("a"), ShouldBeTrue)
		})

		Convey("Idle submitters are swept", func() {
			So(l.Allow("a"), ShouldBeTrue)
			now = now.Add(limiterIdleTTL + limiterSweepEvery + time.Second)
			So(l.Allow("b"), ShouldBeTrue)
			So(l.Len(), ShouldEqual, 1)
		})
	})

	Convey("A non-positive rate disables limiting", t, func() {
		var l *SubmitterLimiter = NewSubmitterLimiter(0, 5)
		So(l, ShouldBeNil)
		So(l.Allow("a"), ShouldBeTrue)
		So(l.Len(), ShouldEqual, 0)
	})
}

func TestKindError(t *testing.T) {
	Convey("KindError matches both its kind and its cause", t, func() {
		cause := errors.New("boom")
		err := WrapKind("op", ErrConflict, cause)
		So(errors.Is(err, ErrConflict), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "op: conflict: boom")
		So(NewKind("op", ErrBadRequest).Error(), ShouldEqual, "op: bad request")
		So(errors.Is(WrapKind("op", ErrBadRequest, nil), ErrBadRequest), ShouldBeTrue)
	})
}

func TestErrorClass(t *testing.T) {
	Convey("Failing statuses are bucketed for the error counter", t, func() {
		cases := []struct {
			status int
			class  string
		}{
			{200, ""},
			{204, ""},
			{400, "client_error"},
			{404, "not_found"},
			{409, "conflict"},
			{422, "rejected"},
			{429, "rate_limited"},
			{500, "server_error"},
			{502, "transport"},
		}
		for _, c := range cases {
			So(errorClass(c.status), ShouldEqual, c.class)
		}
	})
}
