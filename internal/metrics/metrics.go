// Registers:
//
//	#Kryptometer_ticks_applied_total
//	#Kryptometer_snapshot_success_total
//	#Kryptometer_snapshot_errors_total
//	#Kryptometer_feed_reconnects_total
//	#Kryptometer_feed_rate_limited_total
//	#Kryptometer_alerts_triggered_total
//	#go_* and process_* system metrics
//
// Exposes them on the configured address under /metrics using the
// Prometheus HTTP handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once            sync.Once
	ticksApplied    prometheus.Counter
	snapshotSuccess prometheus.Counter
	snapshotErrors  prometheus.Counter
	feedReconnects  prometheus.Counter
	feedRateLimited prometheus.Counter
	alertsTriggered prometheus.Counter
)

func Init(address string) {
	once.Do(func() {
		ticksApplied = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "Kryptometer_ticks_applied_total",
			Help: "Number of price ticks applied to symbol state",
		})
		snapshotSuccess = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "Kryptometer_snapshot_success_total",
			Help: "Number of successful 24h ticker snapshot loads",
		})
		snapshotErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "Kryptometer_snapshot_errors_total",
			Help: "Number of failed snapshot fetches",
		})
		feedReconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "Kryptometer_feed_reconnects_total",
			Help: "Number of feed reconnection attempts",
		})
		feedRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "Kryptometer_feed_rate_limited_total",
			Help: "Number of 429/418 responses from the feed",
		})
		alertsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "Kryptometer_alerts_triggered_total",
			Help: "Number of price alerts that fired",
		})

		_ = prometheus.Register(ticksApplied)
		_ = prometheus.Register(snapshotSuccess)
		_ = prometheus.Register(snapshotErrors)
		_ = prometheus.Register(feedReconnects)
		_ = prometheus.Register(feedRateLimited)
		_ = prometheus.Register(alertsTriggered)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(address, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// AddTicksApplied adds the number of ticks applied in one batch.
func AddTicksApplied(n int) {
	if ticksApplied != nil && n > 0 {
		ticksApplied.Add(float64(n))
	}
}

func IncrementSnapshotSuccess() {
	if snapshotSuccess != nil {
		snapshotSuccess.Inc()
	}
}

func IncrementSnapshotError() {
	if snapshotErrors != nil {
		snapshotErrors.Inc()
	}
}

func IncrementFeedReconnect() {
	if feedReconnects != nil {
		feedReconnects.Inc()
	}
}

func IncrementFeedRateLimited() {
	if feedRateLimited != nil {
		feedRateLimited.Inc()
	}
}

func IncrementAlertTriggered() {
	if alertsTriggered != nil {
		alertsTriggered.Inc()
	}
}
