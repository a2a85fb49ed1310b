// Package activity defines the canonical activity record shared by every provider and
// merges provider lists into one de-duplicated timeline.
package activity

import (
	"time"

	"backend-ridecal/internal/credential"
)

// Activity is immutable once built. Optional readings are nil when the source has no sensor
// for them.
type Activity struct {
	ID                   string              `json:"id"`
	Source               credential.Provider `json:"source_provider"`
	Name                 string              `json:"name"`
	Type                 string              `json:"type"`
	StartTime            time.Time           `json:"start_time"`
	MovingTimeSeconds    int                 `json:"moving_time_seconds"`
	DistanceMeters       float64             `json:"distance_meters"`
	ElevationGainMeters  float64             `json:"elevation_gain_meters"`
	AverageWatts         *float64            `json:"average_watts,omitempty"`
	WeightedAverageWatts *float64            `json:"weighted_average_watts,omitempty"`
	AverageHeartrate     *float64            `json:"average_heartrate,omitempty"`
}

const (
	TypeRide        = "Ride"
	TypeVirtualRide = "VirtualRide"
	TypeGravelRide  = "GravelRide"
	TypeMTBRide     = "MountainBikeRide"
	TypeEBikeRide   = "EBikeRide"
	TypeRun         = "Run"
	TypeWalk        = "Walk"
	TypeSwim        = "Swim"
	TypeStrength    = "WeightTraining"
	TypeWorkout     = "Workout"
)

func (a Activity) IsRide() bool {
	switch a.Type {
	case TypeRide, TypeVirtualRide, TypeGravelRide, TypeMTBRide, TypeEBikeRide:
		return true
	}
	return false
}

func (a Activity) Date(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return a.StartTime.In(loc).Format(time.DateOnly)
}

func Float(v float64) *float64 {
	return &v
}
