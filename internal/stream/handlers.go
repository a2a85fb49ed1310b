package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// TokenValidator resolves a session token to an athlete id.
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

var allowedKinds = map[string]bool{"plan": true, "calendar": true}

// RegisterRoutes serves GET /ws/:kind?token=. Browsers cannot set headers on websocket
// upgrades, so the session token travels in the query string.
func RegisterRoutes(r fiber.Router, hub *Hub, tokens TokenValidator) {
	r.Get("/ws/:kind", func(c *fiber.Ctx) error {
		if !allowedKinds[c.Params("kind")] {
			return fiber.NewError(fiber.StatusNotFound, "unknown stream")
		}
		athleteID, err := tokens.ValidateAccessToken(c.Query("token"))
		if err != nil || athleteID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals("topic", Topic(c.Params("kind"), athleteID))
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		topic, _ := c.Locals("topic").(string)
		client := hub.Register(topic)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
