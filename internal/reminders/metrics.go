package reminders

import "github.com/prometheus/client_golang/prometheus"

var (
	sentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling_service",
		Subsystem: "reminders",
		Name:      "sent_total",
		Help:      "Reminders delivered, by channel.",
	}, []string{"channel"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduling_service",
		Subsystem: "reminders",
		Name:      "failed_total",
		Help:      "Reminders that could not be delivered, by channel.",
	}, []string{"channel"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduling_service",
		Subsystem: "reminders",
		Name:      "dispatch_batch_duration_seconds",
		Help:      "Duration of one due-reminder dispatch batch.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(sentCounter, failedCounter, batchDuration)
}
