package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/orbit/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func validRecord() model.ContributionRecord {
	return model.ContributionRecord{
		ID:          "rec-1",
		LocationID:  "seoul-forest",
		Latitude:    37.5444,
		Longitude:   127.0374,
		SubmitterID: "installation-1",
		SlotIndex:   4,
		Hue:         211.5,
		CreatedAt:   model.NewTimestamp(time.Date(2026, 3, 1, 1, 2, 3, 4_000_000, time.UTC)),
	}
}

func TestContributionRecordValidate(t *testing.T) {
	convey.Convey("Given a contribution record", t, func() {
		convey.Convey("When every field is in range", func() {
			rec := validRecord()

			convey.Convey("Then it validates", func() {
				convey.So(rec.Validate(70), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the slot index is outside the orbit", func() {
			rec := validRecord()
			rec.SlotIndex = 70

			convey.Convey("Then it reports an out-of-range slot", func() {
				err := rec.Validate(70)
				convey.So(errors.Is(err, model.ErrSlotOutOfRange), convey.ShouldBeTrue)
				convey.So(errors.Is(err, model.ErrInvalidRecord), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When a field is malformed", func() {
			cases := []func(r *model.ContributionRecord){
				func(r *model.ContributionRecord) { r.ID = " " },
				func(r *model.ContributionRecord) { r.LocationID = "" },
				func(r *model.ContributionRecord) { r.SubmitterID = "" },
				func(r *model.ContributionRecord) { r.Hue = 360 },
				func(r *model.ContributionRecord) { r.Hue = -1 },
				func(r *model.ContributionRecord) { r.Latitude = 91 },
				func(r *model.ContributionRecord) { r.Longitude = -181 },
				func(r *model.ContributionRecord) { r.CreatedAt = model.Timestamp{} },
			}

			convey.Convey("Then each one is an invalid record", func() {
				for _, mutate := range cases {
					rec := validRecord()
					mutate(&rec)
					err := rec.Validate(70)
					convey.So(errors.Is(err, model.ErrInvalidRecord), convey.ShouldBeTrue)
				}
			})
		})
	})
}

func TestTimestampWireFormat(t *testing.T) {
	convey.Convey("Given a record created at a UTC instant", t, func() {
		rec := validRecord()

		convey.Convey("When it is marshalled", func() {
			b, err := json.Marshal(rec)
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then createdAt is written with the fixed +09:00 offset", func() {
				var raw map[string]any
				convey.So(json.Unmarshal(b, &raw), convey.ShouldBeNil)
				convey.So(raw["createdAt"], convey.ShouldEqual, "2026-03-01T10:02:03.004+09:00")
				convey.So(raw["slotIndex"], convey.ShouldEqual, 4)
				convey.So(raw["locationId"], convey.ShouldEqual, "seoul-forest")
			})

			convey.Convey("And reading it back yields the same instant", func() {
				var back model.ContributionRecord
				convey.So(json.Unmarshal(b, &back), convey.ShouldBeNil)
				convey.So(back.CreatedAt.Equal(rec.CreatedAt.Time), convey.ShouldBeTrue)
				convey.So(back.CreatedAt.String(), convey.ShouldEqual, rec.CreatedAt.String())
			})
		})

		convey.Convey("When createdAt arrives in another offset", func() {
			var ts model.Timestamp
			err := json.Unmarshal([]byte(`"2026-03-01T01:02:03Z"`), &ts)

			convey.Convey("Then it is normalized into UTC+9", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(ts.String(), convey.ShouldEqual, "2026-03-01T10:02:03.000+09:00")
			})
		})

		convey.Convey("When createdAt is not a timestamp", func() {
			var ts model.Timestamp
			err := json.Unmarshal([]byte(`"yesterday"`), &ts)

			convey.Convey("Then decoding fails as an invalid record", func() {
				convey.So(errors.Is(err, model.ErrInvalidRecord), convey.ShouldBeTrue)
			})
		})
	})
}
