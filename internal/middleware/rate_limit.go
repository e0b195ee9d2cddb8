package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-intervention-api/internal/utils"
)

// RateLimit creates a limiter keyed by the student named in the request body,
// falling back to the client IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			key := studentKey(c)
			if key == "" {
				key = c.IP()
			}
			return fmt.Sprintf("%s:%s", identifier, key)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many check-ins, slow down")
		},
	})
}

func studentKey(c *fiber.Ctx) string {
	var payload struct {
		StudentID string `json:"student_id"`
	}
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		return ""
	}
	if err := c.App().Config().JSONDecoder(c.Body(), &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.StudentID)
}
