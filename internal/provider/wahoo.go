package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"time"

	"backend-ridecal/internal/activity"
	"backend-ridecal/internal/credential"
	"backend-ridecal/internal/observability"
)

const (
	wahooPerPage  = 30
	wahooMaxPages = 100
)

type Wahoo struct {
	c       *client
	perPage int
}

func NewWahoo(baseURL string, tokens TokenSource, opts Options) *Wahoo {
	return &Wahoo{c: newClient(credential.ProviderWahoo, baseURL, tokens, opts), perPage: wahooPerPage}
}

func (w *Wahoo) Provider() credential.Provider {
	return credential.ProviderWahoo
}

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = flexFloat{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = flexFloat{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat{Value: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.Valid || f.Value <= 0 {
		return nil
	}
	return activity.Float(f.Value)
}

type wahooSummary struct {
	AscentAccum         flexFloat `json:"ascent_accum"`
	DistanceAccum       flexFloat `json:"distance_accum"`
	DurationActiveAccum flexFloat `json:"duration_active_accum"`
	PowerAvg            flexFloat `json:"power_avg"`
	PowerBikeNPLast     flexFloat `json:"power_bike_np_last"`
	HeartRateAvg        flexFloat `json:"heart_rate_avg"`
}

type wahooWorkout struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Starts        time.Time     `json:"starts"`
	Minutes       flexFloat     `json:"minutes"`
	WorkoutTypeID int           `json:"workout_type_id"`
	Summary       *wahooSummary `json:"workout_summary"`
}

type wahooWorkoutPage struct {
	Workouts []wahooWorkout `json:"workouts"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PerPage  int            `json:"per_page"`
}

// FetchActivities pages newest-first. The page count is only known after page one, and the
// window start is only detectable by reaching a page whose oldest workout precedes it.
func (w *Wahoo) FetchActivities(ctx context.Context, athleteID string, win Window) ([]activity.Activity, error) {
	var out []activity.Activity
	pages := 1
	for page := 1; page <= pages && page <= wahooMaxPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(w.perPage))

		var resp wahooWorkoutPage
		if err := w.c.getJSON(ctx, athleteID, "/v1/workouts", q, &resp); err != nil {
			return nil, err
		}
		observability.RecordProviderPage(string(credential.ProviderWahoo))
		if page == 1 {
			perPage := resp.PerPage
			if perPage <= 0 {
				perPage = w.perPage
			}
			pages = int(math.Ceil(float64(resp.Total) / float64(perPage)))
		}
		w.c.logger.Debug("activity page fetched", "athlete_id", athleteID, "page", page, "pages", pages, "count", len(resp.Workouts))

		reachedStart := false
		for _, wo := range resp.Workouts {
			if wo.Starts.Before(win.From) {
				reachedStart = true
				continue
			}
			if win.Contains(wo.Starts) {
				out = append(out, wo.toActivity())
			}
		}
		if reachedStart || len(resp.Workouts) == 0 {
			break
		}
	}
	activity.SortCanonical(out)
	return out, nil
}

func (wo wahooWorkout) toActivity() activity.Activity {
	out := activity.Activity{
		ID:        strconv.FormatInt(wo.ID, 10),
		Source:    credential.ProviderWahoo,
		Name:      wo.Name,
		Type:      wahooType(wo.WorkoutTypeID),
		StartTime: wo.Starts.UTC(),
	}
	if wo.Summary == nil {
		out.MovingTimeSeconds = int(math.Round(wo.Minutes.Value * 60))
		return out
	}
	s := wo.Summary
	out.MovingTimeSeconds = int(math.Round(s.DurationActiveAccum.Value))
	out.DistanceMeters = s.DistanceAccum.Value
	out.ElevationGainMeters = s.AscentAccum.Value
	out.AverageWatts = s.PowerAvg.ptr()
	out.WeightedAverageWatts = s.PowerBikeNPLast.ptr()
	out.AverageHeartrate = s.HeartRateAvg.ptr()
	if out.Name == "" {
		out.Name = out.Type
	}
	return out
}

func wahooType(id int) string {
	switch id {
	case 0, 11, 14, 15, 16:
		return activity.TypeRide
	case 12, 61, 62, 63, 64:
		return activity.TypeVirtualRide
	case 13:
		return activity.TypeMTBRide
	case 1, 3, 4, 5:
		return activity.TypeRun
	case 6, 7, 8, 9:
		return activity.TypeWalk
	case 25, 26:
		return activity.TypeSwim
	}
	return activity.TypeWorkout
}

// PlanUpload is a structured plan document plus the workout record that schedules it. A
// non-zero PlanID reuses a plan created by an earlier, partly failed upload.
type PlanUpload struct {
	PlanID     int64
	ExternalID string
	Name       string
	Starts     time.Time
	Minutes    int
	Document   []byte
}

type PlanUploadResult struct {
	PlanID    int64 `json:"plan_id"`
	WorkoutID int64 `json:"workout_id"`
}

type wahooCreated struct {
	ID int64 `json:"id"`
}

// UploadPlan creates the plan, then a workout referencing it. A 429 on either call surfaces
// as *RateLimitError with the provider body untouched.
func (w *Wahoo) UploadPlan(ctx context.Context, athleteID string, p PlanUpload) (PlanUploadResult, error) {
	created := wahooCreated{ID: p.PlanID}
	if created.ID == 0 {
		plan := url.Values{}
		plan.Set("plan[file]", DataURI(p.Document))
		plan.Set("plan[filename]", "plan.json")
		plan.Set("plan[external_id]", p.ExternalID)
		plan.Set("plan[provider_updated_at]", time.Now().UTC().Format(time.RFC3339))

		if err := w.c.postForm(ctx, athleteID, "/v1/plans", plan, &created); err != nil {
			return PlanUploadResult{}, err
		}
	}

	workout := url.Values{}
	workout.Set("workout[name]", p.Name)
	workout.Set("workout[workout_token]", p.ExternalID)
	workout.Set("workout[workout_type_id]", "12")
	workout.Set("workout[starts]", p.Starts.UTC().Format(time.RFC3339))
	workout.Set("workout[minutes]", strconv.Itoa(p.Minutes))
	workout.Set("workout[plan_id]", strconv.FormatInt(created.ID, 10))

	var scheduled wahooCreated
	if err := w.c.postForm(ctx, athleteID, "/v1/workouts", workout, &scheduled); err != nil {
		return PlanUploadResult{PlanID: created.ID}, err
	}
	return PlanUploadResult{PlanID: created.ID, WorkoutID: scheduled.ID}, nil
}

func DataURI(doc []byte) string {
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(doc)
}
