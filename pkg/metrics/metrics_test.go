package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry and custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("orbit"),
				WithLatencyBuckets(1, 2, 3),
				WithRegisterer(registry),
			)

			Convey("Then every collector is registered on that registry", func() {
				So(manager, ShouldNotBeNil)
				manager.deltasApplied.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)

				names := make(map[string]bool, len(families))
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_orbit_deltas_applied_total"], ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording ingestion outcomes", func() {
			before := testutil.ToFloat64(globalManager.deltasRejected.WithLabelValues("duplicate_slot"))
			RecordDeltaRejected("duplicate_slot")
			RecordDeltaRejected("duplicate_slot")

			Convey("Then the labelled counter advances", func() {
				after := testutil.ToFloat64(globalManager.deltasRejected.WithLabelValues("duplicate_slot"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When updating orbit gauges", func() {
			UpdateRegistrySize(7)
			UpdateUsedSlots(8)
			UpdateLapNumber(3)

			Convey("Then the gauges hold the last value", func() {
				So(testutil.ToFloat64(globalManager.registrySize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.usedSlots), ShouldEqual, 8)
				So(testutil.ToFloat64(globalManager.lapNumber), ShouldEqual, 3)
			})
		})

		Convey("When recording the remaining helpers", func() {
			So(func() {
				RecordBootstrapApplied("poll")
				RecordBootstrapDropped("stale")
				RecordDeltaApplied()
				RecordMalformedPayload("push")
				RecordFetchLatency(12)
				RecordTransportFailure("fetch")
				RecordLapReset()
				RecordSubmission("accepted")
				RecordSubmissionLatency(40)
				RecordPushReconnect()
				UpdatePushSubscribers(2)
				UpdateStoreRecords(10)
				RecordStoreConflict()
				RecordStoreDuplicate()
				UpdateQueueCapacity(100)
				UpdateQueueSize("ingest", 3)
				RecordQueueEnqueue("ingest")
				RecordQueueRejected("ingest", "full")
				RecordWorkerProcessing("ingest", 0.3)
				RecordWorkerError("ingest")
				RecordHTTPRequest("/rings", "GET", "200")
				RecordHTTPRequestDuration("/rings", "GET", "200", 1.5)
				RecordErrorByEndpoint("/contributions", "POST", "conflict")
			}, ShouldNotPanic)
		})

		Convey("Then the registry is exposed for the /metrics handler", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
