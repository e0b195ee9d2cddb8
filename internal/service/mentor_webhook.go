package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
)

const webhookUserAgent = "GEMA-Intervention/1.0"

// WebhookMentorNotifier posts alerts to an automation webhook such as an n8n workflow.
type WebhookMentorNotifier struct {
	url     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewWebhookMentorNotifier constructs a webhook notifier.
func NewWebhookMentorNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookMentorNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookMentorNotifier{
		url:     url,
		timeout: timeout,
		logger:  logger.With().Str("component", "mentor_webhook").Logger(),
	}
}

// Notify posts the alert as JSON. Non-2xx responses are reported as errors.
func (w *WebhookMentorNotifier) Notify(ctx context.Context, alert dto.MentorAlert) error {
	if w.url == "" {
		return errors.New("mentor webhook url not configured")
	}

	timeout := w.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	agent := fiber.Post(w.url)
	agent.Set(fiber.HeaderUserAgent, webhookUserAgent)
	agent.JSON(alert)
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return fmt.Errorf("prepare mentor webhook: %w", err)
	}

	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("mentor webhook request failed: %w", errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("mentor webhook returned status %d", code)
	}

	w.logger.Debug().Str("intervention_id", alert.InterventionID).Int("status", code).Msg("mentor webhook delivered")
	return nil
}
