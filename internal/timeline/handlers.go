package timeline

import (
	"errors"
	"time"

	"backend-ridecal/internal/auth"
	"backend-ridecal/internal/calendar"
	"backend-ridecal/internal/kvstore"
	"backend-ridecal/internal/provider"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultLookbackDays  = 28
	defaultLookaheadDays = 14
)

func dateQuery(c *fiber.Ctx, key string, fallback time.Time) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return fallback.Format(time.DateOnly)
}

func locationQuery(c *fiber.Ctx) (*time.Location, error) {
	tz := c.Query("tz")
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/activities", authMiddleware, func(c *fiber.Ctx) error {
		today := svc.now().UTC().Truncate(24 * time.Hour)
		rng, err := calendar.NewDateRange(
			dateQuery(c, "from", today.AddDate(0, 0, -defaultLookbackDays)),
			dateQuery(c, "to", today.AddDate(0, 0, 1)),
		)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := svc.Activities(c.UserContext(), auth.AthleteID(c), rng.From, rng.To)
		if err != nil {
			return fetchError(c, err)
		}
		return c.JSON(res)
	})

	r.Get("/calendar", authMiddleware, func(c *fiber.Ctx) error {
		loc, err := locationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid tz")
		}
		today := svc.now().In(loc)
		today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		res, err := svc.Calendar(c.UserContext(), auth.AthleteID(c), CalendarRequest{
			From:      dateQuery(c, "from", today.AddDate(0, 0, -defaultLookbackDays)),
			To:        dateQuery(c, "to", today.AddDate(0, 0, defaultLookaheadDays)),
			View:      c.Query("view"),
			WeekStart: c.Query("week_start"),
			Location:  loc,
		})
		if err != nil {
			return fetchError(c, err)
		}
		return c.JSON(res)
	})

	r.Get("/calendar/last", authMiddleware, func(c *fiber.Ctx) error {
		res, err := svc.LastCalendar(c.UserContext(), auth.AthleteID(c), c.Query("view"))
		if errors.Is(err, kvstore.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no calendar built yet")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(res)
	})
}

func fetchError(c *fiber.Ctx, err error) error {
	var limited *provider.RateLimitError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, calendar.ErrStaleGeneration):
		return fiber.NewError(fiber.StatusConflict, "superseded by a newer request")
	case errors.As(err, &limited):
		if limited.RetryAfter != "" {
			c.Set(fiber.HeaderRetryAfter, limited.RetryAfter)
		}
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":         "rate_limited",
			"provider":      limited.Provider,
			"provider_body": limited.Body,
		})
	case errors.Is(err, provider.ErrTransient):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
