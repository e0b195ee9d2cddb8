package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-intervention-api/internal/middleware"
)

func TestObservabilityLabelsSurviveBufferReuse(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.Observability(zerolog.New(io.Discard)))
	app.Get("/api/v1/student-status/:student_id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/api/v1/assign-intervention", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/student-status/s-1"},
		{http.MethodPost, "/api/v1/assign-intervention"},
		{http.MethodGet, "/api/v1/unknown-route-with-a-long-path"},
		{http.MethodPost, "/api/v1/assign-intervention"},
		{http.MethodGet, "/api/v1/student-status/s-2"},
		{http.MethodGet, "/api/v1/other"},
	}
	for i := 0; i < 3; i++ {
		for _, r := range requests {
			resp, err := app.Test(httptest.NewRequest(r.method, r.path, strings.NewReader("")))
			require.NoError(t, err)
			_ = resp.Body.Close()
		}
	}

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != "api_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "method" {
					require.Contains(t, []string{http.MethodGet, http.MethodPost}, label.GetValue())
				}
			}
		}
	}
}
