package ftp

import (
	"fmt"
	"sort"
	"time"
)

type Sample struct {
	Date  string  `json:"date"`
	Watts float64 `json:"watts"`
}

// History is a set of samples keyed by canonical YYYY-MM-DD date. Writing a date that is
// already present replaces its value.
type History struct {
	samples map[string]float64
}

func NewHistory() *History {
	return &History{samples: map[string]float64{}}
}

func HistoryFrom(m map[string]float64) *History {
	h := NewHistory()
	for date, watts := range m {
		_ = h.Set(date, watts)
	}
	return h
}

// CanonicalDate rejects anything that is not a zero-padded YYYY-MM-DD date, the form in which
// string order and calendar order agree.
func CanonicalDate(date string) (string, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.Format(time.DateOnly), nil
}

func (h *History) Set(date string, watts float64) error {
	key, err := CanonicalDate(date)
	if err != nil {
		return err
	}
	if watts <= 0 {
		return fmt.Errorf("ftp must be positive, got %v", watts)
	}
	h.samples[key] = watts
	return nil
}

func (h *History) Remove(date string) bool {
	key, err := CanonicalDate(date)
	if err != nil {
		return false
	}
	if _, ok := h.samples[key]; !ok {
		return false
	}
	delete(h.samples, key)
	return true
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.samples)
}

func (h *History) Samples() []Sample {
	if h == nil {
		return nil
	}
	out := make([]Sample, 0, len(h.samples))
	for date, watts := range h.samples {
		out = append(out, Sample{Date: date, Watts: watts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (h *History) Map() map[string]float64 {
	out := make(map[string]float64, h.Len())
	if h == nil {
		return out
	}
	for k, v := range h.samples {
		out[k] = v
	}
	return out
}

// Resolve returns the value of the latest sample dated on or before query, or fallback when
// no sample qualifies or query is not a date.
func Resolve(h *History, query string, fallback float64) float64 {
	q, err := CanonicalDate(query)
	if err != nil || h == nil {
		return fallback
	}
	best := ""
	value := fallback
	for date, watts := range h.samples {
		if date <= q && date > best {
			best, value = date, watts
		}
	}
	return value
}

// At resolves the value for the calendar day of t in loc.
func (h *History) At(t time.Time, loc *time.Location, fallback float64) float64 {
	if loc == nil {
		loc = time.UTC
	}
	return Resolve(h, t.In(loc).Format(time.DateOnly), fallback)
}
