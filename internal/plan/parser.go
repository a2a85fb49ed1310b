package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"backend-ridecal/internal/observability"
)

var ErrClosed = errors.New("plan: parser closed")

type State int

const (
	StateAccumulating State = iota
	StateTitleReceived
	StateWorkoutReceived
)

func (s State) String() string {
	switch s {
	case StateTitleReceived:
		return "title_received"
	case StateWorkoutReceived:
		return "workout_received"
	default:
		return "accumulating"
	}
}

// Observer is notified synchronously, from inside Write or Close, as results are parsed.
type Observer interface {
	OnTitle(title string)
	OnWorkout(w Workout)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	Title   func(string)
	Workout func(Workout)
}

func (o ObserverFuncs) OnTitle(title string) {
	if o.Title != nil {
		o.Title(title)
	}
}

func (o ObserverFuncs) OnWorkout(w Workout) {
	if o.Workout != nil {
		o.Workout(w)
	}
}

var frameSep = []byte("\n\n")

// A fragment cut inside a string value only parses when glued back without a separator.
var fragmentJoins = []string{"\n", ""}

const maxPendingFrames = 8

type frameResult int

const (
	frameConsumed frameResult = iota
	frameDeferred
)

// Parser consumes a "data: <json>\n\n" frame stream. A frame whose payload is not yet valid
// JSON is held and retried in front of the frames that follow it, while every frame that
// parses on its own is delivered as soon as it arrives. A Parser is not safe for concurrent use.
type Parser struct {
	obs      Observer
	buf      []byte
	pending  []string
	state    State
	title    string
	workouts []Workout
	closed   bool
}

func NewParser(obs Observer) *Parser {
	if obs == nil {
		obs = ObserverFuncs{}
	}
	return &Parser{obs: obs}
}

func (p *Parser) Write(b []byte) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	from := max(len(p.buf)-1, 0)
	for _, c := range b {
		if c != '\r' {
			p.buf = append(p.buf, c)
		}
	}
	p.drain(from)
	return len(b), nil
}

func (p *Parser) drain(from int) {
	for {
		idx := bytes.Index(p.buf[from:], frameSep)
		if idx < 0 {
			return
		}
		end := from + idx
		payload := framePayload(p.buf[:end])
		p.buf = p.buf[end+len(frameSep):]
		from = 0
		p.frame(payload)
	}
}

// frame tries the held fragments joined with payload, longest run first, before payload alone.
// Fragments older than a successful join are abandoned.
func (p *Parser) frame(payload string) {
	if strings.TrimSpace(payload) == "" {
		observability.RecordPlanFrame("ignored")
		return
	}
	for start := range p.pending {
		for _, sep := range fragmentJoins {
			joined := strings.Join(p.pending[start:], sep) + sep + payload
			if p.handle(joined) == frameConsumed {
				p.dropPending(start)
				p.pending = nil
				return
			}
		}
	}
	if p.handle(payload) == frameConsumed {
		return
	}
	observability.RecordPlanFrame("deferred")
	p.pending = append(p.pending, payload)
	if len(p.pending) > maxPendingFrames {
		p.dropPending(1)
		p.pending = p.pending[1:]
	}
}

func (p *Parser) dropPending(n int) {
	for i := 0; i < n; i++ {
		observability.RecordPlanFrame("dropped")
	}
}

// Close handles the leftover bytes as a final frame, since the last frame may arrive without
// its blank line. Fragments still held afterwards are dropped.
func (p *Parser) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	rest := p.buf
	p.buf = nil

	if len(bytes.TrimSpace(rest)) > 0 {
		p.frame(framePayload(rest))
	}
	p.dropPending(len(p.pending))
	p.pending = nil
	return nil
}

func (p *Parser) State() State {
	return p.state
}

// Title is empty until a plan title frame arrives.
func (p *Parser) Title() string {
	return p.title
}

func (p *Parser) Workouts() []Workout {
	out := make([]Workout, len(p.workouts))
	copy(out, p.workouts)
	return out
}

func (p *Parser) handle(payload string) frameResult {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		observability.RecordPlanFrame("ignored")
		return frameConsumed
	}
	if payload == "[DONE]" {
		observability.RecordPlanFrame("done")
		return frameConsumed
	}
	if !json.Valid([]byte(payload)) {
		return frameDeferred
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil || fields == nil {
		observability.RecordPlanFrame("ignored")
		return frameConsumed
	}

	if typ := stringField(fields, "type"); typ == "planTitle" {
		title := stringField(fields, "planTitle")
		if title == "" || p.title != "" {
			observability.RecordPlanFrame("ignored")
			return frameConsumed
		}
		p.title = title
		p.notify(StateTitleReceived, func() { p.obs.OnTitle(title) })
		observability.RecordPlanFrame("title")
		return frameConsumed
	}

	if !isWorkout(fields) {
		observability.RecordPlanFrame("ignored")
		return frameConsumed
	}
	var w Workout
	if err := json.Unmarshal([]byte(payload), &w); err != nil || w.ID == "" {
		observability.RecordPlanFrame("ignored")
		return frameConsumed
	}
	p.workouts = append(p.workouts, w)
	p.notify(StateWorkoutReceived, func() { p.obs.OnWorkout(w) })
	observability.RecordPlanFrame("workout")
	return frameConsumed
}

func (p *Parser) notify(state State, fn func()) {
	p.state = state
	defer func() { p.state = StateAccumulating }()
	fn()
}

func isWorkout(fields map[string]json.RawMessage) bool {
	if _, ok := fields["id"]; !ok {
		return false
	}
	for _, key := range []string{"workoutTitle", "selectedDate", "intervals"} {
		if _, ok := fields[key]; ok {
			return true
		}
	}
	return false
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// framePayload joins the frame's data lines untrimmed, so a value cut at the frame boundary
// keeps its trailing spaces. Other SSE fields and comments are skipped.
func framePayload(frame []byte) string {
	var parts []string
	for _, line := range strings.Split(string(frame), "\n") {
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "data:"):
			line = strings.TrimPrefix(line, "data:")
			line = strings.TrimPrefix(line, " ")
		case strings.HasPrefix(line, ":"),
			strings.HasPrefix(line, "event:"),
			strings.HasPrefix(line, "id:"),
			strings.HasPrefix(line, "retry:"):
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}
