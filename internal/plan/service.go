package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-ridecal/internal/ftp"
	"backend-ridecal/internal/kvstore"
	"backend-ridecal/internal/provider"
	"backend-ridecal/internal/stream"
	"backend-ridecal/internal/workout"

	"github.com/google/uuid"
)

var (
	ErrNoDraft              = errors.New("plan: no draft")
	ErrGenerationInProgress = errors.New("plan: generation in progress")
	ErrAlreadyUploaded      = errors.New("plan: workout already uploaded")
)

const generateTimeout = 5 * time.Minute

const (
	DraftGenerating = "generating"
	DraftComplete   = "complete"
	DraftFailed     = "failed"
)

type Draft struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Title     string    `json:"title"`
	Workouts  []Workout `json:"workouts"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Event struct {
	Type    string   `json:"type"`
	DraftID string   `json:"draft_id"`
	Title   string   `json:"title,omitempty"`
	Workout *Workout `json:"workout,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type Broadcaster interface {
	Broadcast(topic string, payload []byte)
}

type Uploader interface {
	UploadPlan(ctx context.Context, athleteID string, p provider.PlanUpload) (provider.PlanUploadResult, error)
}

type PlannedStore interface {
	CreatePlanned(ctx context.Context, athleteID string, input workout.PlannedWorkout) (workout.PlannedWorkout, error)
	GetPlanned(ctx context.Context, athleteID, id string) (workout.PlannedWorkout, error)
	RecordPlan(ctx context.Context, athleteID, id string, planID int64) error
	MarkUploaded(ctx context.Context, athleteID, id string, planID, workoutID int64) error
}

type FTPSource interface {
	Load(ctx context.Context, athleteID string) (*ftp.History, error)
}

type run struct {
	cancel context.CancelFunc
}

type Service struct {
	gen         *Generator
	kv          kvstore.Store
	planned     PlannedStore
	uploader    Uploader
	hub         Broadcaster
	ftp         FTPSource
	fallbackFTP float64
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	running map[string]*run
	wg      sync.WaitGroup
}

type Deps struct {
	Generator   *Generator
	KV          kvstore.Store
	Planned     PlannedStore
	Uploader    Uploader
	Hub         Broadcaster
	FTP         FTPSource
	FallbackFTP float64
	Logger      *slog.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:         d.Generator,
		kv:          d.KV,
		planned:     d.Planned,
		uploader:    d.Uploader,
		hub:         d.Hub,
		ftp:         d.FTP,
		fallbackFTP: d.FallbackFTP,
		logger:      logger,
		now:         time.Now,
		running:     map[string]*run{},
	}
}

func draftKey(athleteID string) string {
	return "plan:draft:" + athleteID
}

func (s *Service) Generate(ctx context.Context, athleteID string, req GenerateRequest) (Draft, error) {
	if req.FTP == 0 && s.ftp != nil {
		h, err := s.ftp.Load(ctx, athleteID)
		if err != nil {
			return Draft{}, err
		}
		req.FTP = ftp.Resolve(h, req.StartDate, s.fallbackFTP)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generateTimeout)
	r := &run{cancel: cancel}

	draft := Draft{
		ID:        uuid.NewString(),
		Status:    DraftGenerating,
		Workouts:  []Workout{},
		UpdatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	if _, busy := s.running[athleteID]; busy {
		s.mu.Unlock()
		cancel()
		return Draft{}, ErrGenerationInProgress
	}
	s.running[athleteID] = r
	s.mu.Unlock()

	if err := s.persist(ctx, athleteID, r, draft); err != nil {
		s.finish(athleteID, r)
		return Draft{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(athleteID, r)
		s.generate(runCtx, athleteID, r, draft, req)
	}()
	return draft, nil
}

func (s *Service) generate(ctx context.Context, athleteID string, r *run, draft Draft, req GenerateRequest) {
	topic := stream.Topic("plan", athleteID)
	save := func() {
		draft.UpdatedAt = s.now().UTC()
		if err := s.persist(ctx, athleteID, r, draft); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("persist plan draft", "athlete_id", athleteID, "error", err)
		}
	}

	obs := ObserverFuncs{
		Title: func(title string) {
			draft.Title = title
			save()
			s.emit(topic, Event{Type: "title", DraftID: draft.ID, Title: title})
		},
		Workout: func(w Workout) {
			draft.Workouts = append(draft.Workouts, w)
			save()
			s.emit(topic, Event{Type: "workout", DraftID: draft.ID, Workout: &w})
		},
	}

	_, err := s.gen.Stream(ctx, req, obs)
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	if err != nil {
		s.logger.Error("plan generation failed", "athlete_id", athleteID, "draft_id", draft.ID, "error", err)
		draft.Status = DraftFailed
		draft.Error = err.Error()
		save()
		s.emit(topic, Event{Type: "error", DraftID: draft.ID, Error: err.Error()})
		return
	}
	draft.Status = DraftComplete
	save()
	s.logger.Info("plan generated", "athlete_id", athleteID, "draft_id", draft.ID, "workouts", len(draft.Workouts))
	s.emit(topic, Event{Type: "done", DraftID: draft.ID, Title: draft.Title})
}

// persist writes the draft only while r is still the athlete's current run, so a discarded
// generation cannot resurrect its draft.
func (s *Service) persist(ctx context.Context, athleteID string, r *run, draft Draft) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[athleteID] != r {
		return context.Canceled
	}
	return s.kv.Set(ctx, draftKey(athleteID), string(raw))
}

func (s *Service) finish(athleteID string, r *run) {
	r.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[athleteID] == r {
		delete(s.running, athleteID)
	}
}

func (s *Service) emit(topic string, ev Event) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.hub.Broadcast(topic, payload)
}

func (s *Service) Draft(ctx context.Context, athleteID string) (Draft, error) {
	raw, err := s.kv.Get(ctx, draftKey(athleteID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return Draft{}, ErrNoDraft
	}
	if err != nil {
		return Draft{}, err
	}
	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Draft{}, fmt.Errorf("decode plan draft: %w", err)
	}
	return d, nil
}

func (s *Service) DiscardDraft(ctx context.Context, athleteID string) error {
	s.mu.Lock()
	if r, ok := s.running[athleteID]; ok {
		r.cancel()
		delete(s.running, athleteID)
	}
	err := s.kv.Remove(ctx, draftKey(athleteID))
	s.mu.Unlock()
	return err
}

func (s *Service) SaveDraft(ctx context.Context, athleteID string) ([]workout.PlannedWorkout, error) {
	d, err := s.Draft(ctx, athleteID)
	if err != nil {
		return nil, err
	}
	if d.Status == DraftGenerating {
		return nil, ErrGenerationInProgress
	}
	saved := make([]workout.PlannedWorkout, 0, len(d.Workouts))
	for _, w := range d.Workouts {
		p := w.ToPlanned()
		if p.Title == "" && d.Title != "" {
			p.Title = d.Title
		}
		created, err := s.planned.CreatePlanned(ctx, athleteID, p)
		if err != nil {
			return saved, fmt.Errorf("save workout %s: %w", w.ID, err)
		}
		saved = append(saved, created)
	}
	if err := s.kv.Remove(ctx, draftKey(athleteID)); err != nil {
		return saved, err
	}
	return saved, nil
}

// Upload sends a planned workout to the provider and records the ids it was given. Rate
// limiting is returned untouched; the caller decides whether to retry. A plan created before
// the failure is remembered so the retry only schedules the workout.
func (s *Service) Upload(ctx context.Context, athleteID, workoutID string) (provider.PlanUploadResult, error) {
	p, err := s.planned.GetPlanned(ctx, athleteID, workoutID)
	if err != nil {
		return provider.PlanUploadResult{}, err
	}
	if p.Uploaded() {
		return provider.PlanUploadResult{}, ErrAlreadyUploaded
	}
	starts, err := time.Parse(time.DateOnly, p.Date)
	if err != nil {
		return provider.PlanUploadResult{}, err
	}

	ftpWatts := s.fallbackFTP
	if s.ftp != nil {
		h, err := s.ftp.Load(ctx, athleteID)
		if err != nil {
			return provider.PlanUploadResult{}, err
		}
		ftpWatts = ftp.Resolve(h, p.Date, s.fallbackFTP)
	}
	doc, err := BuildDocument(p, ftpWatts)
	if err != nil {
		return provider.PlanUploadResult{}, err
	}

	var planID int64
	if p.ProviderPlanID != nil {
		planID = *p.ProviderPlanID
	}
	res, err := s.uploader.UploadPlan(ctx, athleteID, provider.PlanUpload{
		PlanID:     planID,
		ExternalID: p.ID,
		Name:       p.Title,
		Starts:     starts,
		Minutes:    (p.DurationSeconds() + 59) / 60,
		Document:   doc,
	})
	if err != nil {
		if res.PlanID != 0 && res.PlanID != planID {
			if recErr := s.planned.RecordPlan(ctx, athleteID, p.ID, res.PlanID); recErr != nil {
				s.logger.Warn("record provider plan", "athlete_id", athleteID, "planned_id", p.ID, "plan_id", res.PlanID, "error", recErr)
			}
		}
		return res, err
	}
	if err := s.planned.MarkUploaded(ctx, athleteID, p.ID, res.PlanID, res.WorkoutID); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) Wait() {
	s.wg.Wait()
}
