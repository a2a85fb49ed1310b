// Package load derives training stress scores from ridden and planned sessions.
package load

import (
	"math"

	"backend-ridecal/internal/activity"
	"backend-ridecal/internal/workout"
)

// IntensityFactor is normalized power over FTP, or 0 when either is missing.
func IntensityFactor(normalizedPower, ftpWatts float64) float64 {
	if normalizedPower <= 0 || ftpWatts <= 0 {
		return 0
	}
	return normalizedPower / ftpWatts
}

func raw(seconds, normalizedPower, ftpWatts float64) float64 {
	intensity := IntensityFactor(normalizedPower, ftpWatts)
	if intensity == 0 || seconds <= 0 {
		return 0
	}
	return seconds * normalizedPower * intensity / (ftpWatts * 3600) * 100
}

// Score is the training stress of a ridden activity. Activities without a weighted power
// reading score 0.
func Score(a activity.Activity, ftpWatts float64) int {
	if a.WeightedAverageWatts == nil {
		return 0
	}
	return int(math.Round(raw(float64(a.MovingTimeSeconds), *a.WeightedAverageWatts, ftpWatts)))
}

// PlannedScore treats each interval's power midpoint as its normalized power. Interval
// contributions are summed before rounding.
func PlannedScore(w workout.PlannedWorkout, ftpWatts float64) int {
	total := 0.0
	for _, iv := range w.Intervals {
		total += raw(float64(iv.DurationSeconds), (iv.PowerMin+iv.PowerMax)/2, ftpWatts)
	}
	return int(math.Round(total))
}
