package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-intervention-api/internal/config"
	"github.com/noah-isme/gema-intervention-api/internal/handler"
	"github.com/noah-isme/gema-intervention-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	InterventionHandler *handler.InterventionHandler
	StatusStreamHandler *handler.StatusStreamHandler
	CheckInLimiter      fiber.Handler
	MentorGuards        []fiber.Handler
	Notifiers           []string
	Locking             string
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Notifiers, deps.Locking))

	if deps.StatusStreamHandler != nil {
		deps.StatusStreamHandler.Register(api)
	}

	if deps.InterventionHandler != nil {
		deps.InterventionHandler.RegisterStudentRoutes(api, deps.CheckInLimiter)

		mentor := api.Group("/assign-intervention", deps.MentorGuards...)
		deps.InterventionHandler.RegisterMentorRoutes(mentor)
	}
}
