package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-intervention-api/internal/config"
	"github.com/noah-isme/gema-intervention-api/internal/handler"
)

func TestHealthCheckReportsWiring(t *testing.T) {
	app := fiber.New()
	cfg := config.Config{AppName: "GEMA Intervention API", AppEnv: "test"}
	app.Get("/api/v1/health", handler.HealthCheck(cfg, []string{"log", "webhook"}, "local"))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	var payload handler.HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.Equal(t, "ok", payload.Status)
	require.Equal(t, "test", payload.Environment)
	require.Equal(t, []string{"log", "webhook"}, payload.Notifiers)
	require.Equal(t, "local", payload.Locking)
}
