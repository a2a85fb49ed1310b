package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(tokenRefreshCounter.WithLabelValues("strava", "success"))
	RecordTokenRefresh("strava", "success")
	require.Equal(t, before+1, testutil.ToFloat64(tokenRefreshCounter.WithLabelValues("strava", "success")))

	before = testutil.ToFloat64(providerPageCounter.WithLabelValues("wahoo"))
	RecordProviderPage("wahoo")
	require.Equal(t, before+1, testutil.ToFloat64(providerPageCounter.WithLabelValues("wahoo")))

	before = testutil.ToFloat64(planFrameCounter.WithLabelValues("deferred"))
	RecordPlanFrame("deferred")
	require.Equal(t, before+1, testutil.ToFloat64(planFrameCounter.WithLabelValues("deferred")))

	before = testutil.ToFloat64(staleBuildCounter)
	RecordStaleBuild()
	require.Equal(t, before+1, testutil.ToFloat64(staleBuildCounter))
}
