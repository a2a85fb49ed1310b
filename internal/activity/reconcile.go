package activity

import (
	"math"
	"sort"
	"time"
)

const (
	minDurationSlack = 60.0
	minDistanceSlack = 100.0
)

// Tolerance decides when two provider records describe the same ride.
type Tolerance struct {
	StartWithin   time.Duration
	DurationRatio float64
	DistanceRatio float64
}

func DefaultTolerance() Tolerance {
	return Tolerance{StartWithin: 5 * time.Minute, DurationRatio: 0.10, DistanceRatio: 0.10}
}

func (t Tolerance) withDefaults() Tolerance {
	d := DefaultTolerance()
	if t.StartWithin <= 0 {
		t.StartWithin = d.StartWithin
	}
	if t.DurationRatio <= 0 {
		t.DurationRatio = d.DurationRatio
	}
	if t.DistanceRatio <= 0 {
		t.DistanceRatio = d.DistanceRatio
	}
	return t
}

// Matches reports whether a and b are the same real event under t.
func (t Tolerance) Matches(a, b Activity) bool {
	t = t.withDefaults()
	if absDuration(a.StartTime.Sub(b.StartTime)) > t.StartWithin {
		return false
	}
	if !within(float64(a.MovingTimeSeconds), float64(b.MovingTimeSeconds), t.DurationRatio, minDurationSlack) {
		return false
	}
	return within(a.DistanceMeters, b.DistanceMeters, t.DistanceRatio, minDistanceSlack)
}

func within(x, y, ratio, floor float64) bool {
	slack := math.Max(ratio*math.Max(x, y), floor)
	return math.Abs(x-y) <= slack
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// richness ranks payloads: power-meter data beats heart rate beats nothing.
func richness(a Activity) int {
	switch {
	case a.WeightedAverageWatts != nil:
		return 3
	case a.AverageWatts != nil:
		return 2
	case a.AverageHeartrate != nil:
		return 1
	}
	return 0
}

type candidate struct {
	i, j  int
	delta time.Duration
}

// Reconcile merges two provider lists. Each record matches at most one record from the other
// list, the closest start time winning; a matched pair keeps the richer copy, preferring a on
// ties. The result is ordered by start time, then source, then id.
func Reconcile(a, b []Activity, tol Tolerance) []Activity {
	var pairs []candidate
	for i := range a {
		for j := range b {
			if tol.Matches(a[i], b[j]) {
				pairs = append(pairs, candidate{i: i, j: j, delta: absDuration(a[i].StartTime.Sub(b[j].StartTime))})
			}
		}
	}
	sort.Slice(pairs, func(x, y int) bool {
		if pairs[x].delta != pairs[y].delta {
			return pairs[x].delta < pairs[y].delta
		}
		if pairs[x].i != pairs[y].i {
			return pairs[x].i < pairs[y].i
		}
		return pairs[x].j < pairs[y].j
	})

	usedA := make([]bool, len(a))
	usedB := make([]bool, len(b))
	out := make([]Activity, 0, len(a)+len(b))
	for _, p := range pairs {
		if usedA[p.i] || usedB[p.j] {
			continue
		}
		usedA[p.i], usedB[p.j] = true, true
		if richness(b[p.j]) > richness(a[p.i]) {
			out = append(out, b[p.j])
		} else {
			out = append(out, a[p.i])
		}
	}
	for i := range a {
		if !usedA[i] {
			out = append(out, a[i])
		}
	}
	for j := range b {
		if !usedB[j] {
			out = append(out, b[j])
		}
	}

	SortCanonical(out)
	return out
}

// SortCanonical orders activities the way every downstream consumer expects.
func SortCanonical(list []Activity) {
	sort.SliceStable(list, func(x, y int) bool {
		if !list[x].StartTime.Equal(list[y].StartTime) {
			return list[x].StartTime.Before(list[y].StartTime)
		}
		if list[x].Source != list[y].Source {
			return list[x].Source < list[y].Source
		}
		return list[x].ID < list[y].ID
	})
}
