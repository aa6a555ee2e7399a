package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduling_service",
		Subsystem: "persistence",
		Name:      "last_event_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent CRM event written to Postgres.",
	})
	reminderDispatchGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduling_service",
		Subsystem: "persistence",
		Name:      "last_reminder_dispatched_timestamp_seconds",
		Help:      "Unix timestamp of the most recent reminder marked sent.",
	})
)

func init() {
	prometheus.MustRegister(eventPersistGauge, reminderDispatchGauge)
}

// RecordEventPersisted updates the event persistence watermark gauge.
func RecordEventPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	eventPersistGauge.Set(float64(ts.Unix()))
}

// RecordReminderDispatched updates the reminder delivery watermark gauge.
func RecordReminderDispatched(ts time.Time) {
	if ts.IsZero() {
		return
	}
	reminderDispatchGauge.Set(float64(ts.Unix()))
}
