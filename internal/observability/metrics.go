package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	tokenRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridecal",
		Subsystem: "oauth",
		Name:      "token_refreshes_total",
		Help:      "Outbound token refresh calls grouped by provider and outcome.",
	}, []string{"provider", "outcome"})

	providerPageCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridecal",
		Subsystem: "provider",
		Name:      "activity_pages_fetched_total",
		Help:      "Activity pages fetched from each provider.",
	}, []string{"provider"})

	planFrameCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridecal",
		Subsystem: "plan",
		Name:      "stream_frames_total",
		Help:      "Plan stream frames grouped by how they were handled.",
	}, []string{"outcome"})

	staleBuildCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridecal",
		Subsystem: "calendar",
		Name:      "stale_builds_discarded_total",
		Help:      "Calendar builds discarded because a newer request superseded them.",
	})
)

func init() {
	prometheus.MustRegister(tokenRefreshCounter, providerPageCounter, planFrameCounter, staleBuildCounter)
}

func RecordTokenRefresh(provider, outcome string) {
	tokenRefreshCounter.WithLabelValues(provider, outcome).Inc()
}

func RecordProviderPage(provider string) {
	providerPageCounter.WithLabelValues(provider).Inc()
}

// RecordPlanFrame counts a stream frame; outcome is one of title, workout, done, ignored, deferred or dropped.
func RecordPlanFrame(outcome string) {
	planFrameCounter.WithLabelValues(outcome).Inc()
}

func RecordStaleBuild() {
	staleBuildCounter.Inc()
}
