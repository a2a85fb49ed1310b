package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"backend-ridecal/internal/workout"
)

// WorkoutID accepts either a JSON number or a string; producers emit both.
type WorkoutID string

func (id *WorkoutID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = WorkoutID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("workout id must be a number or string")
	}
	*id = WorkoutID(n.String())
	return nil
}

type Interval struct {
	Name            string  `json:"name"`
	DurationSeconds int     `json:"durationSeconds"`
	PowerMin        float64 `json:"powerMin"`
	PowerMax        float64 `json:"powerMax"`
}

// UnmarshalJSON falls back to "duration" when "durationSeconds" is absent.
func (iv *Interval) UnmarshalJSON(data []byte) error {
	var aux struct {
		Name            string   `json:"name"`
		DurationSeconds *float64 `json:"durationSeconds"`
		Duration        *float64 `json:"duration"`
		PowerMin        float64  `json:"powerMin"`
		PowerMax        float64  `json:"powerMax"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	seconds := 0.0
	switch {
	case aux.DurationSeconds != nil:
		seconds = *aux.DurationSeconds
	case aux.Duration != nil:
		seconds = *aux.Duration
	}
	*iv = Interval{
		Name:            aux.Name,
		DurationSeconds: int(math.Round(seconds)),
		PowerMin:        aux.PowerMin,
		PowerMax:        aux.PowerMax,
	}
	return nil
}

type Workout struct {
	ID        WorkoutID  `json:"id"`
	Title     string     `json:"workoutTitle"`
	Date      string     `json:"selectedDate"`
	Intervals []Interval `json:"intervals"`
}

func (w Workout) ToPlanned() workout.PlannedWorkout {
	intervals := make([]workout.Interval, 0, len(w.Intervals))
	for _, iv := range w.Intervals {
		intervals = append(intervals, workout.Interval{
			Name:            iv.Name,
			DurationSeconds: iv.DurationSeconds,
			PowerMin:        iv.PowerMin,
			PowerMax:        iv.PowerMax,
		})
	}
	return workout.PlannedWorkout{
		Title:     w.Title,
		Date:      w.Date,
		Intervals: intervals,
	}
}
