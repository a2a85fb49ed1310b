package workout

import "time"

type Interval struct {
	Name            string  `json:"name" validate:"max=80"`
	DurationSeconds int     `json:"duration_seconds" validate:"gt=0"`
	PowerMin        float64 `json:"power_min" validate:"gte=0"`
	PowerMax        float64 `json:"power_max" validate:"gtefield=PowerMin"`
}

// PlannedWorkout is a structured session scheduled for a date, authored by hand or produced by
// plan generation. Provider ids are set once it has been uploaded.
type PlannedWorkout struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Date              string     `json:"date"`
	Intervals         []Interval `json:"intervals"`
	ProviderPlanID    *int64     `json:"provider_plan_id,omitempty"`
	ProviderWorkoutID *int64     `json:"provider_workout_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (p PlannedWorkout) DurationSeconds() int {
	total := 0
	for _, iv := range p.Intervals {
		total += iv.DurationSeconds
	}
	return total
}

func (p PlannedWorkout) Uploaded() bool {
	return p.ProviderWorkoutID != nil
}

type GymWorkout struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Date            string    `json:"date"`
	DurationSeconds int       `json:"duration_seconds"`
	Notes           string    `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
}
