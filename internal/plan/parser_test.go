package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleStream = "data: {\"type\":\"planTitle\",\"planTitle\":\"Build Phase\"}\n\n" +
	": keep-alive\n\n" +
	"event: message\ndata: {\"id\":1,\"workoutTitle\":\"Sweet Spot\",\"selectedDate\":\"2024-06-03\"," +
	"\"intervals\":[{\"name\":\"Warm up\",\"durationSeconds\":600,\"powerMin\":100,\"powerMax\":150}," +
	"{\"name\":\"SST\",\"duration\":1200,\"powerMin\":230,\"powerMax\":245}]}\r\n\r\n" +
	"data: {\"type\":\"planTitle\",\"planTitle\":\"Ignored Second Title\"}\n\n" +
	"data: {\"id\":\"w-2\",\"workoutTitle\":\"Endurance\",\"selectedDate\":\"2024-06-04\",\"intervals\":[]}\n\n" +
	"data: [DONE]\n\n"

type recorder struct {
	titles   []string
	workouts []Workout
	states   []State
	p        *Parser
}

func (r *recorder) OnTitle(title string) {
	r.titles = append(r.titles, title)
	r.states = append(r.states, r.p.State())
}

func (r *recorder) OnWorkout(w Workout) {
	r.workouts = append(r.workouts, w)
	r.states = append(r.states, r.p.State())
}

func newRecorded() (*Parser, *recorder) {
	rec := &recorder{}
	p := NewParser(rec)
	rec.p = p
	return p, rec
}

func TestParserSingleWrite(t *testing.T) {
	p, rec := newRecorded()
	_, err := p.Write([]byte(sampleStream))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	require.Equal(t, "Build Phase", p.Title())
	require.Equal(t, []string{"Build Phase"}, rec.titles)

	workouts := p.Workouts()
	require.Len(t, workouts, 2)
	require.Equal(t, WorkoutID("1"), workouts[0].ID)
	require.Equal(t, "Sweet Spot", workouts[0].Title)
	require.Equal(t, 1200, workouts[0].Intervals[1].DurationSeconds)
	require.Equal(t, WorkoutID("w-2"), workouts[1].ID)
	require.Equal(t, workouts, rec.workouts)

	require.Equal(t, []State{StateTitleReceived, StateWorkoutReceived, StateWorkoutReceived}, rec.states)
	require.Equal(t, StateAccumulating, p.State())
}

func TestParserByteAtATimeMatchesSingleWrite(t *testing.T) {
	whole, _ := newRecorded()
	_, _ = whole.Write([]byte(sampleStream))
	_ = whole.Close()

	bytewise, rec := newRecorded()
	for i := 0; i < len(sampleStream); i++ {
		_, err := bytewise.Write([]byte{sampleStream[i]})
		require.NoError(t, err)
	}
	require.NoError(t, bytewise.Close())

	require.Equal(t, whole.Title(), bytewise.Title())
	require.Equal(t, whole.Workouts(), bytewise.Workouts())
	require.Len(t, rec.workouts, 2)
}

func TestParserWorkoutThenDone(t *testing.T) {
	p, _ := newRecorded()
	_, _ = p.Write([]byte("data: {\"id\":1,\"workoutTitle\":\"A\",\"selectedDate\":\"2024-01-01\",\"intervals\":[]}\n\n"))
	_, _ = p.Write([]byte("data: [DONE]\n\n"))
	require.NoError(t, p.Close())

	require.Equal(t, "", p.Title())
	require.Len(t, p.Workouts(), 1)
	require.Equal(t, WorkoutID("1"), p.Workouts()[0].ID)
}

func TestParserDefersIncompleteJSON(t *testing.T) {
	p, rec := newRecorded()
	_, _ = p.Write([]byte("data: {\"id\":7,\"workoutTitle\":\"Split\",\n\n"))
	require.Empty(t, rec.workouts)

	_, _ = p.Write([]byte("data: \"selectedDate\":\"2024-02-02\"}\n\n"))
	require.Len(t, rec.workouts, 1)
	require.Equal(t, "Split", rec.workouts[0].Title)
	require.Equal(t, "2024-02-02", rec.workouts[0].Date)
}

func TestParserCloseParsesUnterminatedFrame(t *testing.T) {
	p, rec := newRecorded()
	_, _ = p.Write([]byte("data: {\"id\":3,\"workoutTitle\":\"Tail\"}"))
	require.Empty(t, rec.workouts)

	require.NoError(t, p.Close())
	require.Len(t, rec.workouts, 1)

	_, err := p.Write([]byte("data: [DONE]\n\n"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestParserGarbageDoesNotHoldBackLaterFrames(t *testing.T) {
	p, rec := newRecorded()
	_, _ = p.Write([]byte("data: {broken\n\n"))
	require.Empty(t, rec.workouts)

	for i, id := range []string{"4", "5", "6"} {
		_, _ = p.Write([]byte("data: {\"id\":" + id + ",\"workoutTitle\":\"After\"}\n\n"))
		require.Len(t, rec.workouts, i+1)
		require.Equal(t, WorkoutID(id), rec.workouts[i].ID)
	}
	require.Len(t, p.pending, 1)

	require.NoError(t, p.Close())
	require.Len(t, rec.workouts, 3)
	require.Empty(t, p.pending)
}

func TestParserJoinsSplitObjectAfterGarbage(t *testing.T) {
	p, rec := newRecorded()
	_, _ = p.Write([]byte("data: {broken\n\n"))
	_, _ = p.Write([]byte("data: {\"id\":9,\"workoutTitle\":\"Late\",\n\n"))
	require.Empty(t, rec.workouts)

	_, _ = p.Write([]byte("data: \"selectedDate\":\"2024-03-03\"}\n\n"))
	require.Len(t, rec.workouts, 1)
	require.Equal(t, WorkoutID("9"), rec.workouts[0].ID)
	require.Equal(t, "2024-03-03", rec.workouts[0].Date)
	require.Empty(t, p.pending)
}

func TestParserJoinsStringSplitAcrossFrames(t *testing.T) {
	p, rec := newRecorded()
	_, _ = p.Write([]byte("data: {\"id\":1,\"workoutTitle\":\"Sweet \n\ndata: Spot\",\"selectedDate\":\"2024-01-01\",\"intervals\":[]}\n\n"))
	require.Len(t, rec.workouts, 1)
	require.Equal(t, "Sweet Spot", rec.workouts[0].Title)

	require.NoError(t, p.Close())
	require.Len(t, p.Workouts(), 1)
}

func TestParserBoundsHeldFragments(t *testing.T) {
	p, rec := newRecorded()
	for i := 0; i < 3*maxPendingFrames; i++ {
		_, _ = p.Write([]byte("data: {broken\n\n"))
	}
	require.Len(t, p.pending, maxPendingFrames)

	_, _ = p.Write([]byte("data: {\"id\":2,\"selectedDate\":\"2024-05-05\"}\n\n"))
	require.Len(t, rec.workouts, 1)
}

func TestParserIgnoresNonWorkoutObjects(t *testing.T) {
	p, rec := newRecorded()
	frames := []string{
		"data: {\"id\":5}\n\n",
		"data: {\"workoutTitle\":\"no id\"}\n\n",
		"data: [1,2,3]\n\n",
		"data: null\n\n",
		"data: {\"type\":\"planTitle\",\"planTitle\":\"\"}\n\n",
		"retry: 1000\n\n",
	}
	_, _ = p.Write([]byte(strings.Join(frames, "")))
	require.NoError(t, p.Close())
	require.Empty(t, rec.workouts)
	require.Empty(t, rec.titles)
}

func TestWorkoutIDForms(t *testing.T) {
	p, _ := newRecorded()
	_, _ = p.Write([]byte("data: {\"id\":12.5,\"selectedDate\":\"2024-01-01\"}\n\ndata: {\"id\":\"abc\",\"selectedDate\":\"2024-01-02\"}\n\n"))
	_ = p.Close()
	ws := p.Workouts()
	require.Len(t, ws, 2)
	require.Equal(t, WorkoutID("12.5"), ws[0].ID)
	require.Equal(t, WorkoutID("abc"), ws[1].ID)
}

func TestWorkoutToPlanned(t *testing.T) {
	w := Workout{
		ID:    "1",
		Title: "Threshold",
		Date:  "2024-03-04",
		Intervals: []Interval{
			{Name: "Main", DurationSeconds: 1200, PowerMin: 240, PowerMax: 260},
		},
	}
	p := w.ToPlanned()
	require.Equal(t, "Threshold", p.Title)
	require.Equal(t, "2024-03-04", p.Date)
	require.Equal(t, 1200, p.DurationSeconds())
	require.Empty(t, p.ID)
}
