package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test-namespace"),
				WithSubsystem("test-subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})
	})
}

func TestPipelineRecording(t *testing.T) {
	Convey("Given the package-level recording helpers", t, func() {
		Convey("When recording detection metrics", func() {
			So(func() {
				RecordUpdateReceived("position")
				RecordUpdateRejected("position", "invalid")
				RecordEventDetected("Overtake")
				RecordEventSuppressed("position")
				RecordDetectLatency(0.42)
			}, ShouldNotPanic)
		})

		Convey("When recording window metrics", func() {
			So(func() {
				RecordWindowMerge("GapChange")
				RecordWindowReplace("Overtake")
				RecordWindowForceFlush()
				UpdateWindowPending(3)
			}, ShouldNotPanic)
		})

		Convey("When recording scheduler metrics", func() {
			So(func() {
				RecordSchedulerEnqueue("HIGH")
				RecordSchedulerReject("overload")
				RecordSchedulerDrop("LOW")
				RecordLateDispatch("MEDIUM")
				UpdateSchedulerDepth(10)
				UpdateSchedulerCapacity(10_000)
				UpdateSchedulerUtilization(0.001)
			}, ShouldNotPanic)
		})

		Convey("When recording dispatch and enrichment metrics", func() {
			So(func() {
				RecordEnrichmentLatency(12.5)
				RecordEnrichmentTimeout()
				RecordDispatchLatency(1.5)
				RecordEventPublished("CRITICAL")
				RecordPublishError()
				RecordSequenceViolation()
				RecordSinkRateLimited("LOW")
			}, ShouldNotPanic)
		})

		Convey("When recording store and broadcast gauges", func() {
			So(func() {
				UpdateActiveSessions(2)
				UpdateDriversTracked(40)
				UpdateStoreShardCount(8)
				UpdateStoreSessionsPerShard("0", 1)
				UpdateBroadcastClients(5)
				RecordBroadcastClientDrop()
			}, ShouldNotPanic)
		})

		Convey("When recording HTTP and error metrics", func() {
			So(func() {
				RecordHTTPRequest("updates", "POST", "202")
				RecordHTTPRequestDuration("updates", "POST", "202", 3.2)
				RecordErrorByComponent("dispatch", "process")
				RecordErrorByType("client_error", "medium")
				RecordErrorByEndpoint("updates", "POST", "client_error")
				RecordErrorLatency("http", "client_error", 3.2)
			}, ShouldNotPanic)
		})
	})
}

func TestRegistry(t *testing.T) {
	Convey("Given the global registry", t, func() {
		Convey("Then it should gather the registered families", func() {
			RecordEventDetected("Overtake")
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}
