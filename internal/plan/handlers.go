package plan

import (
	"errors"

	"backend-ridecal/internal/auth"
	"backend-ridecal/internal/oauth"
	"backend-ridecal/internal/provider"
	"backend-ridecal/internal/workout"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/generate", authMiddleware, func(c *fiber.Ctx) error {
		var req GenerateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		draft, err := svc.Generate(c.UserContext(), auth.AthleteID(c), req)
		if errors.Is(err, ErrGenerationInProgress) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(draft)
	})

	r.Get("/draft", authMiddleware, func(c *fiber.Ctx) error {
		draft, err := svc.Draft(c.UserContext(), auth.AthleteID(c))
		if errors.Is(err, ErrNoDraft) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(draft)
	})

	r.Delete("/draft", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.DiscardDraft(c.UserContext(), auth.AthleteID(c)); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/draft/save", authMiddleware, func(c *fiber.Ctx) error {
		saved, err := svc.SaveDraft(c.UserContext(), auth.AthleteID(c))
		switch {
		case errors.Is(err, ErrNoDraft):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		case errors.Is(err, ErrGenerationInProgress):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(saved)
	})

	r.Post("/workouts/:id/upload", authMiddleware, func(c *fiber.Ctx) error {
		res, err := svc.Upload(c.UserContext(), auth.AthleteID(c), c.Params("id"))
		if err != nil {
			return uploadError(c, err)
		}
		return c.JSON(res)
	})
}

func uploadError(c *fiber.Ctx, err error) error {
	var limited *provider.RateLimitError
	switch {
	case errors.As(err, &limited):
		if limited.RetryAfter != "" {
			c.Set(fiber.HeaderRetryAfter, limited.RetryAfter)
		}
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":         "rate_limited",
			"provider":      limited.Provider,
			"provider_body": limited.Body,
		})
	case errors.Is(err, oauth.ErrAuthExpired):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":       err.Error(),
			"reauthorize": true,
		})
	case errors.Is(err, oauth.ErrTooManyCredentials):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, workout.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyUploaded):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, errEmptyWorkout):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, provider.ErrTransient):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
