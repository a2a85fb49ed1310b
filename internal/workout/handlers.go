package workout

import (
	"errors"
	"time"

	"backend-ridecal/internal/auth"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

type GymRequest struct {
	Title           string `json:"title" validate:"required,max=120"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	DurationSeconds int    `json:"duration_seconds" validate:"gte=0,lte=86400"`
	Notes           string `json:"notes" validate:"max=2000"`
}

type PlannedRequest struct {
	Title     string     `json:"title" validate:"required,max=120"`
	Date      string     `json:"date" validate:"required,datetime=2006-01-02"`
	Intervals []Interval `json:"intervals" validate:"dive"`
}

// rangeQuery reads ?from=&to= as a half-open date range, defaulting to the next 28 days.
func rangeQuery(c *fiber.Ctx) (time.Time, time.Time, error) {
	from := time.Now().UTC().Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 28)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = parseDate(v); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = parseDate(v); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func RegisterRoutes(r fiber.Router, repo *Repository, authMiddleware fiber.Handler) {
	r.Post("/gym", authMiddleware, func(c *fiber.Ctx) error {
		var req GymRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		gym, err := repo.CreateGym(c.UserContext(), auth.AthleteID(c), GymWorkout{
			Title:           req.Title,
			Date:            req.Date,
			DurationSeconds: req.DurationSeconds,
			Notes:           req.Notes,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(gym)
	})

	r.Get("/gym", authMiddleware, func(c *fiber.Ctx) error {
		from, to, err := rangeQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		list, err := repo.ListGym(c.UserContext(), auth.AthleteID(c), from, to)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if list == nil {
			list = []GymWorkout{}
		}
		return c.JSON(list)
	})

	r.Post("/planned", authMiddleware, func(c *fiber.Ctx) error {
		var req PlannedRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		planned, err := repo.CreatePlanned(c.UserContext(), auth.AthleteID(c), PlannedWorkout{
			Title:     req.Title,
			Date:      req.Date,
			Intervals: req.Intervals,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(planned)
	})

	r.Get("/planned", authMiddleware, func(c *fiber.Ctx) error {
		from, to, err := rangeQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		list, err := repo.ListPlanned(c.UserContext(), auth.AthleteID(c), from, to)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if list == nil {
			list = []PlannedWorkout{}
		}
		return c.JSON(list)
	})
}
