package ftp

import (
	"time"

	"backend-ridecal/internal/auth"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

type SampleRequest struct {
	Date  string  `json:"date" validate:"required,datetime=2006-01-02"`
	Watts float64 `json:"watts" validate:"required,gt=0,lte=2500"`
}

type historyResponse struct {
	Samples []Sample `json:"samples"`
	Current float64  `json:"current"`
}

func RegisterRoutes(r fiber.Router, repo *Repository, fallback float64, authMiddleware fiber.Handler) {
	respond := func(c *fiber.Ctx, h *History) error {
		samples := h.Samples()
		if samples == nil {
			samples = []Sample{}
		}
		today := time.Now().UTC().Format(time.DateOnly)
		return c.JSON(historyResponse{Samples: samples, Current: Resolve(h, today, fallback)})
	}

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		h, err := repo.Load(c.UserContext(), auth.AthleteID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return respond(c, h)
	})

	r.Put("/", authMiddleware, func(c *fiber.Ctx) error {
		var req SampleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		h, err := repo.Put(c.UserContext(), auth.AthleteID(c), Sample(req))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return respond(c, h)
	})

	r.Delete("/:date", authMiddleware, func(c *fiber.Ctx) error {
		found, err := repo.Delete(c.UserContext(), auth.AthleteID(c), c.Params("date"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if !found {
			return fiber.NewError(fiber.StatusNotFound, "no ftp sample for date")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
