package workout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-ridecal/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("workout not found")

type Repository struct {
	db db.Querier
}

func NewRepository(db db.Querier) *Repository {
	return &Repository{db: db}
}

func parseDate(date string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

func (r *Repository) CreatePlanned(ctx context.Context, athleteID string, input PlannedWorkout) (PlannedWorkout, error) {
	day, err := parseDate(input.Date)
	if err != nil {
		return PlannedWorkout{}, err
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	if input.Intervals == nil {
		input.Intervals = []Interval{}
	}
	intervals, err := json.Marshal(input.Intervals)
	if err != nil {
		return PlannedWorkout{}, err
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO planned_workouts (id, athlete_id, title, workout_date, intervals)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, input.ID, athleteID, input.Title, day, intervals)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return PlannedWorkout{}, err
	}
	return input, nil
}

func (r *Repository) GetPlanned(ctx context.Context, athleteID, id string) (PlannedWorkout, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, title, workout_date, intervals, provider_plan_id, provider_workout_id, created_at
		FROM planned_workouts WHERE athlete_id=$1 AND id=$2
	`, athleteID, id)
	p, err := scanPlanned(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlannedWorkout{}, ErrNotFound
	}
	return p, err
}

func (r *Repository) ListPlanned(ctx context.Context, athleteID string, from, to time.Time) ([]PlannedWorkout, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, title, workout_date, intervals, provider_plan_id, provider_workout_id, created_at
		FROM planned_workouts
		WHERE athlete_id=$1 AND workout_date >= $2 AND workout_date < $3
		ORDER BY workout_date, created_at
	`, athleteID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlannedWorkout
	for rows.Next() {
		p, err := scanPlanned(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlanned(row pgx.Row) (PlannedWorkout, error) {
	var (
		p         PlannedWorkout
		day       time.Time
		intervals []byte
	)
	if err := row.Scan(&p.ID, &p.Title, &day, &intervals, &p.ProviderPlanID, &p.ProviderWorkoutID, &p.CreatedAt); err != nil {
		return PlannedWorkout{}, err
	}
	p.Date = day.Format(time.DateOnly)
	if len(intervals) > 0 {
		if err := json.Unmarshal(intervals, &p.Intervals); err != nil {
			return PlannedWorkout{}, fmt.Errorf("decode intervals for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (r *Repository) MarkUploaded(ctx context.Context, athleteID, id string, planID, workoutID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE planned_workouts
		SET provider_plan_id=$3, provider_workout_id=$4
		WHERE athlete_id=$1 AND id=$2
	`, athleteID, id, planID, workoutID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPlan stores the provider plan id alone, before a workout has been scheduled for it.
func (r *Repository) RecordPlan(ctx context.Context, athleteID, id string, planID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE planned_workouts
		SET provider_plan_id=$3
		WHERE athlete_id=$1 AND id=$2
	`, athleteID, id, planID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CreateGym(ctx context.Context, athleteID string, input GymWorkout) (GymWorkout, error) {
	day, err := parseDate(input.Date)
	if err != nil {
		return GymWorkout{}, err
	}
	input.ID = uuid.NewString()
	row := r.db.QueryRow(ctx, `
		INSERT INTO gym_workouts (id, athlete_id, title, workout_date, duration_seconds, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, input.ID, athleteID, input.Title, day, input.DurationSeconds, input.Notes)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return GymWorkout{}, err
	}
	return input, nil
}

func (r *Repository) ListGym(ctx context.Context, athleteID string, from, to time.Time) ([]GymWorkout, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, title, workout_date, duration_seconds, notes, created_at
		FROM gym_workouts
		WHERE athlete_id=$1 AND workout_date >= $2 AND workout_date < $3
		ORDER BY workout_date, created_at
	`, athleteID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GymWorkout
	for rows.Next() {
		var (
			g   GymWorkout
			day time.Time
		)
		if err := rows.Scan(&g.ID, &g.Title, &day, &g.DurationSeconds, &g.Notes, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Date = day.Format(time.DateOnly)
		out = append(out, g)
	}
	return out, rows.Err()
}
