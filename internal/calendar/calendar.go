package calendar

import (
	"fmt"
	"time"

	"backend-ridecal/internal/activity"
	"backend-ridecal/internal/ftp"
	"backend-ridecal/internal/load"
	"backend-ridecal/internal/workout"
)

type WeekStart int

const (
	// WeekStartISO begins weeks on Monday.
	WeekStartISO WeekStart = iota
	// WeekStartLocale begins weeks on Sunday.
	WeekStartLocale
)

func ParseWeekStart(s string) (WeekStart, error) {
	switch s {
	case "", "iso":
		return WeekStartISO, nil
	case "locale":
		return WeekStartLocale, nil
	}
	return WeekStartISO, fmt.Errorf("unknown week start %q", s)
}

func (w WeekStart) String() string {
	if w == WeekStartLocale {
		return "locale"
	}
	return "iso"
}

func (w WeekStart) weekday() time.Weekday {
	if w == WeekStartLocale {
		return time.Sunday
	}
	return time.Monday
}

// DateRange covers the calendar days [From, To).
type DateRange struct {
	From time.Time
	To   time.Time
}

func NewDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid from date %q", from)
	}
	t, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid to date %q", to)
	}
	if !t.After(f) {
		return DateRange{}, fmt.Errorf("to %s must be after from %s", to, from)
	}
	return DateRange{From: f, To: t}, nil
}

func (r DateRange) Dates() []string {
	var out []string
	for d := r.From; d.Before(r.To); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(time.DateOnly))
	}
	return out
}

type Options struct {
	WeekStart WeekStart
	// PlanHorizonDays limits planned workouts to [Today, Today+PlanHorizonDays).
	PlanHorizonDays int
	Today           string
	Location        *time.Location
	FTP             *ftp.History
	FallbackFTP     float64
}

type Totals struct {
	Activities          int     `json:"activities"`
	DistanceMeters      float64 `json:"distance_meters"`
	ElevationGainMeters float64 `json:"elevation_gain_meters"`
	MovingTimeSeconds   int     `json:"moving_time_seconds"`
	TSS                 int     `json:"tss"`
	PlannedTSS          int     `json:"planned_tss"`
}

func (t *Totals) add(o Totals) {
	t.Activities += o.Activities
	t.DistanceMeters += o.DistanceMeters
	t.ElevationGainMeters += o.ElevationGainMeters
	t.MovingTimeSeconds += o.MovingTimeSeconds
	t.TSS += o.TSS
	t.PlannedTSS += o.PlannedTSS
}

type ScoredActivity struct {
	activity.Activity
	TSS int `json:"tss"`
}

type ScoredPlan struct {
	workout.PlannedWorkout
	TSS int `json:"tss"`
}

type Day struct {
	Date       string               `json:"date"`
	Activities []ScoredActivity     `json:"activities"`
	Planned    []ScoredPlan         `json:"planned"`
	Gym        []workout.GymWorkout `json:"gym"`
	Totals     Totals               `json:"totals"`
}

func (d Day) hasRide() bool {
	for _, a := range d.Activities {
		if a.IsRide() {
			return true
		}
	}
	return false
}

type Week struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Days   []Day  `json:"days"`
	Totals Totals `json:"totals"`
}

// BuildDays returns one Day for every date in r, in order. Activities are scored with the FTP
// in effect on their own date.
func BuildDays(r DateRange, activities []activity.Activity, planned []workout.PlannedWorkout, gym []workout.GymWorkout, opts Options) []Day {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	dates := r.Dates()
	days := make([]Day, len(dates))
	index := make(map[string]int, len(dates))
	for i, date := range dates {
		days[i] = Day{Date: date, Activities: []ScoredActivity{}, Planned: []ScoredPlan{}, Gym: []workout.GymWorkout{}}
		index[date] = i
	}

	sorted := append([]activity.Activity(nil), activities...)
	activity.SortCanonical(sorted)
	for _, a := range sorted {
		i, ok := index[a.Date(loc)]
		if !ok {
			continue
		}
		score := load.Score(a, opts.FTP.At(a.StartTime, loc, opts.FallbackFTP))
		days[i].Activities = append(days[i].Activities, ScoredActivity{Activity: a, TSS: score})
		days[i].Totals.add(Totals{
			Activities:          1,
			DistanceMeters:      a.DistanceMeters,
			ElevationGainMeters: a.ElevationGainMeters,
			MovingTimeSeconds:   a.MovingTimeSeconds,
			TSS:                 score,
		})
	}

	for _, g := range gym {
		if i, ok := index[g.Date]; ok {
			days[i].Gym = append(days[i].Gym, g)
		}
	}

	if opts.PlanHorizonDays > 0 {
		if today, err := time.Parse(time.DateOnly, opts.Today); err == nil {
			horizonEnd := today.AddDate(0, 0, opts.PlanHorizonDays).Format(time.DateOnly)
			for _, p := range planned {
				if p.Date < opts.Today || p.Date >= horizonEnd {
					continue
				}
				i, ok := index[p.Date]
				if !ok || days[i].hasRide() {
					continue
				}
				score := load.PlannedScore(p, ftp.Resolve(opts.FTP, p.Date, opts.FallbackFTP))
				days[i].Planned = append(days[i].Planned, ScoredPlan{PlannedWorkout: p, TSS: score})
				days[i].Totals.PlannedTSS += score
			}
		}
	}
	return days
}

func WeekStartOf(date time.Time, ws WeekStart) time.Time {
	offset := (int(date.Weekday()) - int(ws.weekday()) + 7) % 7
	return date.AddDate(0, 0, -offset)
}

// BuildWeeks groups days under one week boundary for the whole call. Every week between the
// first and last day is present, with zero totals when it holds no sessions.
func BuildWeeks(days []Day, ws WeekStart) []Week {
	if len(days) == 0 {
		return []Week{}
	}
	first, err := time.Parse(time.DateOnly, days[0].Date)
	if err != nil {
		return []Week{}
	}
	last, err := time.Parse(time.DateOnly, days[len(days)-1].Date)
	if err != nil {
		return []Week{}
	}

	var weeks []Week
	index := map[string]int{}
	for start := WeekStartOf(first, ws); !start.After(last); start = start.AddDate(0, 0, 7) {
		key := start.Format(time.DateOnly)
		index[key] = len(weeks)
		weeks = append(weeks, Week{
			Start: key,
			End:   start.AddDate(0, 0, 6).Format(time.DateOnly),
			Days:  []Day{},
		})
	}

	for _, d := range days {
		date, err := time.Parse(time.DateOnly, d.Date)
		if err != nil {
			continue
		}
		i := index[WeekStartOf(date, ws).Format(time.DateOnly)]
		weeks[i].Days = append(weeks[i].Days, d)
		weeks[i].Totals.add(d.Totals)
	}
	return weeks
}
