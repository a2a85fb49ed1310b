package oauth

import (
	"errors"
	"net/url"
	"strings"

	"backend-ridecal/internal/auth"
	"backend-ridecal/internal/credential"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, managers map[credential.Provider]*Manager, states *StateSigner, authMiddleware fiber.Handler) {
	lookup := func(c *fiber.Ctx) (*Manager, error) {
		p, err := credential.ParseProvider(c.Params("provider"))
		if err != nil {
			return nil, fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		m, ok := managers[p]
		if !ok {
			return nil, fiber.NewError(fiber.StatusNotFound, "provider not configured")
		}
		return m, nil
	}

	r.Get("/:provider", authMiddleware, func(c *fiber.Ctx) error {
		m, err := lookup(c)
		if err != nil {
			return err
		}
		target, err := m.AuthorizationURL(c.UserContext(), auth.AthleteID(c), safeReturnTo(c.Query("return_to")))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Redirect(target, fiber.StatusFound)
	})

	r.Get("/:provider/callback", func(c *fiber.Ctx) error {
		m, err := lookup(c)
		if err != nil {
			return err
		}
		claims, err := states.Verify(c.Query("state"), m.Provider())
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid state")
		}
		returnTo := safeReturnTo(claims.ReturnTo)

		if denied := c.Query("error"); denied != "" {
			return c.Redirect(withQuery(returnTo, "error", denied), fiber.StatusFound)
		}

		_, err = m.Exchange(c.UserContext(), claims.AthleteID, c.Query("code"))
		switch {
		case errors.Is(err, ErrTooManyCredentials):
			return c.Redirect(withQuery(returnTo, "error", "too_many_credentials"), fiber.StatusFound)
		case errors.Is(err, ErrTransient):
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		return c.Redirect(withQuery(returnTo, "connected", string(m.Provider())), fiber.StatusFound)
	})

	r.Delete("/:provider", authMiddleware, func(c *fiber.Ctx) error {
		m, err := lookup(c)
		if err != nil {
			return err
		}
		if err := m.Revoke(c.UserContext(), auth.AthleteID(c)); err != nil && !errors.Is(err, ErrTooManyCredentials) {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// safeReturnTo only allows same-origin relative paths.
func safeReturnTo(raw string) string {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/"
	}
	return raw
}

func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
