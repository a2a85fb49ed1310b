package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"backend-ridecal/internal/credential"
	"backend-ridecal/internal/ftp"
	"backend-ridecal/internal/kvstore"
	"backend-ridecal/internal/provider"
	"backend-ridecal/internal/workout"

	"github.com/stretchr/testify/require"
)

type hubRecorder struct {
	mu     sync.Mutex
	topics []string
	events chan Event
}

func newHubRecorder() *hubRecorder {
	return &hubRecorder{events: make(chan Event, 32)}
}

func (h *hubRecorder) Broadcast(topic string, payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	h.mu.Lock()
	h.topics = append(h.topics, topic)
	h.mu.Unlock()
	h.events <- ev
}

func (h *hubRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

type memPlanned struct {
	mu       sync.Mutex
	items    map[string]workout.PlannedWorkout
	uploaded map[string][2]int64
	seq      int
}

func newMemPlanned() *memPlanned {
	return &memPlanned{items: map[string]workout.PlannedWorkout{}, uploaded: map[string][2]int64{}}
}

func (m *memPlanned) CreatePlanned(_ context.Context, _ string, in workout.PlannedWorkout) (workout.PlannedWorkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	in.ID = fmt.Sprintf("pw-%d", m.seq)
	m.items[in.ID] = in
	return in, nil
}

func (m *memPlanned) GetPlanned(_ context.Context, _ string, id string) (workout.PlannedWorkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return workout.PlannedWorkout{}, workout.ErrNotFound
	}
	return p, nil
}

func (m *memPlanned) RecordPlan(_ context.Context, _ string, id string, planID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.items[id]
	p.ProviderPlanID = &planID
	m.items[id] = p
	return nil
}

func (m *memPlanned) MarkUploaded(_ context.Context, _ string, id string, planID, workoutID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.items[id]
	p.ProviderPlanID, p.ProviderWorkoutID = &planID, &workoutID
	m.items[id] = p
	m.uploaded[id] = [2]int64{planID, workoutID}
	return nil
}

type fakeUploader struct {
	got        provider.PlanUpload
	err        error
	failedPlan int64
}

func (f *fakeUploader) UploadPlan(_ context.Context, _ string, p provider.PlanUpload) (provider.PlanUploadResult, error) {
	f.got = p
	if f.err != nil {
		return provider.PlanUploadResult{PlanID: f.failedPlan}, f.err
	}
	return provider.PlanUploadResult{PlanID: 77, WorkoutID: 88}, nil
}

func generatorServer(t *testing.T, body string, gotReq *GenerateRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotReq != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, gotReq)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, url string) (*Service, *hubRecorder, *memPlanned, *fakeUploader, kvstore.Store) {
	t.Helper()
	kv := kvstore.NewMemory()
	hub := newHubRecorder()
	planned := newMemPlanned()
	up := &fakeUploader{}
	svc := NewService(Deps{
		Generator:   NewGenerator(url, nil),
		KV:          kv,
		Planned:     planned,
		Uploader:    up,
		Hub:         hub,
		FTP:         ftp.NewRepository(kv),
		FallbackFTP: 200,
	})
	return svc, hub, planned, up, kv
}

func TestServiceGenerateStreamsEventsAndDraft(t *testing.T) {
	var got GenerateRequest
	srv := generatorServer(t, sampleStream, &got)
	svc, hub, _, _, kv := newTestService(t, srv.URL)

	_, err := ftp.NewRepository(kv).Put(context.Background(), "athlete-1", ftp.Sample{Date: "2024-05-01", Watts: 265})
	require.NoError(t, err)

	draft, err := svc.Generate(context.Background(), "athlete-1", GenerateRequest{StartDate: "2024-06-03", Weeks: 1})
	require.NoError(t, err)
	require.Equal(t, DraftGenerating, draft.Status)

	require.Equal(t, "title", hub.next(t).Type)
	require.Equal(t, "workout", hub.next(t).Type)
	require.Equal(t, "workout", hub.next(t).Type)
	done := hub.next(t)
	require.Equal(t, "done", done.Type)
	require.Equal(t, draft.ID, done.DraftID)
	svc.Wait()

	require.Equal(t, 265.0, got.FTP)
	hub.mu.Lock()
	require.Equal(t, "plan.athlete-1", hub.topics[0])
	hub.mu.Unlock()

	stored, err := svc.Draft(context.Background(), "athlete-1")
	require.NoError(t, err)
	require.Equal(t, DraftComplete, stored.Status)
	require.Equal(t, "Build Phase", stored.Title)
	require.Len(t, stored.Workouts, 2)
}

func TestServiceGenerateFailureMarksDraft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	svc, hub, _, _, _ := newTestService(t, srv.URL)

	_, err := svc.Generate(context.Background(), "athlete-1", GenerateRequest{StartDate: "2024-06-03", Weeks: 1, FTP: 250})
	require.NoError(t, err)

	ev := hub.next(t)
	require.Equal(t, "error", ev.Type)
	require.Contains(t, ev.Error, "model overloaded")
	svc.Wait()

	stored, err := svc.Draft(context.Background(), "athlete-1")
	require.NoError(t, err)
	require.Equal(t, DraftFailed, stored.Status)
}

func TestServiceRejectsConcurrentGeneration(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()
	svc, hub, _, _, _ := newTestService(t, srv.URL)

	_, err := svc.Generate(context.Background(), "athlete-1", GenerateRequest{StartDate: "2024-06-03", Weeks: 1, FTP: 250})
	require.NoError(t, err)
	_, err = svc.Generate(context.Background(), "athlete-1", GenerateRequest{StartDate: "2024-06-03", Weeks: 1, FTP: 250})
	require.ErrorIs(t, err, ErrGenerationInProgress)

	close(release)
	require.Equal(t, "done", hub.next(t).Type)
	svc.Wait()
}

func TestServiceDiscardCancelsGeneration(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	svc, _, _, _, _ := newTestService(t, srv.URL)

	_, err := svc.Generate(context.Background(), "athlete-1", GenerateRequest{StartDate: "2024-06-03", Weeks: 1, FTP: 250})
	require.NoError(t, err)
	require.NoError(t, svc.DiscardDraft(context.Background(), "athlete-1"))
	svc.Wait()

	_, err = svc.Draft(context.Background(), "athlete-1")
	require.ErrorIs(t, err, ErrNoDraft)
}

func TestServiceSaveDraftAndUpload(t *testing.T) {
	srv := generatorServer(t, sampleStream, nil)
	svc, hub, planned, up, _ := newTestService(t, srv.URL)

	_, err := svc.SaveDraft(context.Background(), "athlete-1")
	require.ErrorIs(t, err, ErrNoDraft)

	_, err = svc.Generate(context.Background(), "athlete-1", GenerateRequest{StartDate: "2024-06-03", Weeks: 1, FTP: 250})
	require.NoError(t, err)
	for hub.next(t).Type != "done" {
	}
	svc.Wait()

	saved, err := svc.SaveDraft(context.Background(), "athlete-1")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	require.Equal(t, "Sweet Spot", saved[0].Title)

	_, err = svc.Draft(context.Background(), "athlete-1")
	require.ErrorIs(t, err, ErrNoDraft)

	res, err := svc.Upload(context.Background(), "athlete-1", saved[0].ID)
	require.NoError(t, err)
	require.Equal(t, int64(77), res.PlanID)
	require.Equal(t, [2]int64{77, 88}, planned.uploaded[saved[0].ID])
	require.Equal(t, saved[0].ID, up.got.ExternalID)
	require.Equal(t, 30, up.got.Minutes)
	require.Equal(t, "2024-06-03", up.got.Starts.Format(time.DateOnly))

	_, err = svc.Upload(context.Background(), "athlete-1", saved[0].ID)
	require.ErrorIs(t, err, ErrAlreadyUploaded)

	// a workout without timed intervals cannot be uploaded
	_, err = svc.Upload(context.Background(), "athlete-1", saved[1].ID)
	require.ErrorIs(t, err, errEmptyWorkout)
}

func TestServiceUploadSurfacesRateLimit(t *testing.T) {
	svc, _, planned, up, _ := newTestService(t, "http://unused")
	p, _ := planned.CreatePlanned(context.Background(), "athlete-1", workout.PlannedWorkout{
		Title:     "Tempo",
		Date:      "2024-06-05",
		Intervals: []workout.Interval{{Name: "Tempo", DurationSeconds: 1800, PowerMin: 200, PowerMax: 215}},
	})
	up.err = &provider.RateLimitError{Provider: credential.ProviderWahoo, Body: `{"error":"slow down"}`}

	_, err := svc.Upload(context.Background(), "athlete-1", p.ID)
	require.ErrorIs(t, err, provider.ErrRateLimited)
	require.Empty(t, planned.uploaded)
}

func TestServiceUploadRetryReusesCreatedPlan(t *testing.T) {
	svc, _, planned, up, _ := newTestService(t, "http://unused")
	p, _ := planned.CreatePlanned(context.Background(), "athlete-1", workout.PlannedWorkout{
		Title:     "Tempo",
		Date:      "2024-06-05",
		Intervals: []workout.Interval{{Name: "Tempo", DurationSeconds: 1800, PowerMin: 200, PowerMax: 215}},
	})
	up.err = &provider.RateLimitError{Provider: credential.ProviderWahoo, Body: `{"error":"slow down"}`}
	up.failedPlan = 41

	_, err := svc.Upload(context.Background(), "athlete-1", p.ID)
	require.ErrorIs(t, err, provider.ErrRateLimited)
	require.Zero(t, up.got.PlanID)

	held, err := planned.GetPlanned(context.Background(), "athlete-1", p.ID)
	require.NoError(t, err)
	require.NotNil(t, held.ProviderPlanID)
	require.EqualValues(t, 41, *held.ProviderPlanID)
	require.False(t, held.Uploaded())

	up.err = nil
	_, err = svc.Upload(context.Background(), "athlete-1", p.ID)
	require.NoError(t, err)
	require.EqualValues(t, 41, up.got.PlanID)
	require.Equal(t, [2]int64{77, 88}, planned.uploaded[p.ID])
}
