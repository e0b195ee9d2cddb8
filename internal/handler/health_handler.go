package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-intervention-api/internal/config"
	"github.com/noah-isme/gema-intervention-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Notifiers   []string  `json:"notifiers"`
	Locking     string    `json:"locking"`
}

// HealthCheck returns a handler that reports application health along with the
// mentor notification channels and lock backend that were wired at startup.
func HealthCheck(cfg config.Config, notifiers []string, locking string) fiber.Handler {
	if notifiers == nil {
		notifiers = []string{}
	}

	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Notifiers:   notifiers,
			Locking:     locking,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
