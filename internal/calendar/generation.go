package calendar

import (
	"errors"
	"sync"

	"backend-ridecal/internal/observability"
)

// ErrStaleGeneration is returned when a build finishes after a newer request for the same key.
var ErrStaleGeneration = errors.New("calendar: stale generation")

// Generations hands out a monotonically increasing generation per key so that only the
// newest build for a key is ever applied.
type Generations struct {
	mu      sync.Mutex
	current map[string]uint64
}

func NewGenerations() *Generations {
	return &Generations{current: map[string]uint64{}}
}

func (g *Generations) Next(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current[key]++
	return g.current[key]
}

func (g *Generations) IsCurrent(key string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current[key] == gen
}

// Apply runs apply only if gen is still current, holding the lock so no newer generation can
// be issued mid-apply.
func (g *Generations) Apply(key string, gen uint64, apply func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current[key] != gen {
		observability.RecordStaleBuild()
		return ErrStaleGeneration
	}
	return apply()
}
