package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"backend-ridecal/internal/activity"
	"backend-ridecal/internal/calendar"
	"backend-ridecal/internal/credential"
	"backend-ridecal/internal/ftp"
	"backend-ridecal/internal/kvstore"
	"backend-ridecal/internal/oauth"
	"backend-ridecal/internal/provider"
	"backend-ridecal/internal/stream"
	"backend-ridecal/internal/workout"

	"golang.org/x/sync/errgroup"
)

const (
	ViewFull    = "full"
	ViewCompact = "compact"
)

var ErrInvalidRequest = errors.New("timeline: invalid request")

type WorkoutSource interface {
	ListPlanned(ctx context.Context, athleteID string, from, to time.Time) ([]workout.PlannedWorkout, error)
	ListGym(ctx context.Context, athleteID string, from, to time.Time) ([]workout.GymWorkout, error)
}

type FTPSource interface {
	Load(ctx context.Context, athleteID string) (*ftp.History, error)
}

type Broadcaster interface {
	Broadcast(topic string, payload []byte)
}

type Settings struct {
	Tolerance              activity.Tolerance
	PlanHorizonDays        int
	CompactPlanHorizonDays int
	WeekStart              calendar.WeekStart
	FallbackFTP            float64
}

type Service struct {
	fetchers []provider.Fetcher
	workouts WorkoutSource
	ftp      FTPSource
	kv       kvstore.Store
	hub      Broadcaster
	settings Settings
	gens     *calendar.Generations
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(fetchers []provider.Fetcher, workouts WorkoutSource, ftpSource FTPSource, kv kvstore.Store, hub Broadcaster, settings Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetchers: fetchers,
		workouts: workouts,
		ftp:      ftpSource,
		kv:       kv,
		hub:      hub,
		settings: settings,
		gens:     calendar.NewGenerations(),
		logger:   logger,
		now:      time.Now,
	}
}

type ActivitiesResult struct {
	Activities   []activity.Activity   `json:"activities"`
	Disconnected []credential.Provider `json:"disconnected"`
}

// Activities fetches every provider concurrently and reconciles the results. A provider
// without a usable credential contributes nothing and is listed as disconnected; any other
// provider failure fails the whole call.
func (s *Service) Activities(ctx context.Context, athleteID string, from, to time.Time) (ActivitiesResult, error) {
	lists := make([][]activity.Activity, len(s.fetchers))
	var (
		mu           sync.Mutex
		disconnected []credential.Provider
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range s.fetchers {
		g.Go(func() error {
			acts, err := f.FetchActivities(gctx, athleteID, provider.Window{From: from, To: to})
			if errors.Is(err, oauth.ErrAuthExpired) || errors.Is(err, oauth.ErrTooManyCredentials) {
				mu.Lock()
				disconnected = append(disconnected, f.Provider())
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", f.Provider(), err)
			}
			lists[i] = acts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ActivitiesResult{}, err
	}

	var merged []activity.Activity
	for i, list := range lists {
		if i == 0 {
			merged = activity.Reconcile(list, nil, s.settings.Tolerance)
			continue
		}
		merged = activity.Reconcile(merged, list, s.settings.Tolerance)
	}
	if merged == nil {
		merged = []activity.Activity{}
	}
	sort.Slice(disconnected, func(i, j int) bool { return disconnected[i] < disconnected[j] })
	if disconnected == nil {
		disconnected = []credential.Provider{}
	}
	return ActivitiesResult{Activities: merged, Disconnected: disconnected}, nil
}

type CalendarRequest struct {
	From      string
	To        string
	View      string
	WeekStart string
	Location  *time.Location
}

type CalendarResult struct {
	Generation   uint64                `json:"generation"`
	From         string                `json:"from"`
	To           string                `json:"to"`
	View         string                `json:"view"`
	WeekStart    string                `json:"week_start"`
	Days         []calendar.Day        `json:"days"`
	Weeks        []calendar.Week       `json:"weeks"`
	Disconnected []credential.Provider `json:"disconnected"`
}

type calendarEvent struct {
	Type       string `json:"type"`
	View       string `json:"view"`
	Generation uint64 `json:"generation"`
	From       string `json:"from"`
	To         string `json:"to"`
}

func calendarKey(athleteID, view string) string {
	return "calendar:" + athleteID + ":" + view
}

// Calendar builds days and weeks for the request. Each call takes a new generation for the
// athlete and view; a build that finishes after a newer one was requested returns
// calendar.ErrStaleGeneration and is neither cached nor broadcast.
func (s *Service) Calendar(ctx context.Context, athleteID string, req CalendarRequest) (CalendarResult, error) {
	rng, err := calendar.NewDateRange(req.From, req.To)
	if err != nil {
		return CalendarResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	view := req.View
	if view == "" {
		view = ViewFull
	}
	horizon := s.settings.PlanHorizonDays
	switch view {
	case ViewFull:
	case ViewCompact:
		horizon = s.settings.CompactPlanHorizonDays
	default:
		return CalendarResult{}, fmt.Errorf("%w: unknown view %q", ErrInvalidRequest, view)
	}
	ws := s.settings.WeekStart
	if req.WeekStart != "" {
		if ws, err = calendar.ParseWeekStart(req.WeekStart); err != nil {
			return CalendarResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	key := calendarKey(athleteID, view)
	gen := s.gens.Next(key)

	from := time.Date(rng.From.Year(), rng.From.Month(), rng.From.Day(), 0, 0, 0, 0, loc)
	to := time.Date(rng.To.Year(), rng.To.Month(), rng.To.Day(), 0, 0, 0, 0, loc)

	acts, err := s.Activities(ctx, athleteID, from, to)
	if err != nil {
		return CalendarResult{}, err
	}
	planned, err := s.workouts.ListPlanned(ctx, athleteID, rng.From, rng.To)
	if err != nil {
		return CalendarResult{}, err
	}
	gym, err := s.workouts.ListGym(ctx, athleteID, rng.From, rng.To)
	if err != nil {
		return CalendarResult{}, err
	}
	history, err := s.ftp.Load(ctx, athleteID)
	if err != nil {
		return CalendarResult{}, err
	}

	days := calendar.BuildDays(rng, acts.Activities, planned, gym, calendar.Options{
		WeekStart:       ws,
		PlanHorizonDays: horizon,
		Today:           s.now().In(loc).Format(time.DateOnly),
		Location:        loc,
		FTP:             history,
		FallbackFTP:     s.settings.FallbackFTP,
	})
	result := CalendarResult{
		Generation:   gen,
		From:         req.From,
		To:           req.To,
		View:         view,
		WeekStart:    ws.String(),
		Days:         days,
		Weeks:        calendar.BuildWeeks(days, ws),
		Disconnected: acts.Disconnected,
	}

	err = s.gens.Apply(key, gen, func() error {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if err := s.kv.Set(ctx, key, string(raw)); err != nil {
			return err
		}
		s.notify(athleteID, calendarEvent{Type: "calendar", View: view, Generation: gen, From: req.From, To: req.To})
		return nil
	})
	if errors.Is(err, calendar.ErrStaleGeneration) {
		s.logger.Debug("calendar build superseded", "athlete_id", athleteID, "view", view, "generation", gen)
	}
	if err != nil {
		return CalendarResult{}, err
	}
	return result, nil
}

func (s *Service) LastCalendar(ctx context.Context, athleteID, view string) (CalendarResult, error) {
	if view == "" {
		view = ViewFull
	}
	raw, err := s.kv.Get(ctx, calendarKey(athleteID, view))
	if err != nil {
		return CalendarResult{}, err
	}
	var result CalendarResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return CalendarResult{}, fmt.Errorf("decode cached calendar: %w", err)
	}
	return result, nil
}

func (s *Service) notify(athleteID string, ev calendarEvent) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.hub.Broadcast(stream.Topic("calendar", athleteID), payload)
}
