package handler

import (
	"context"
	"errors"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-intervention-api/internal/middleware"
)

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// validationDetails splits a validation error into absent fields and fields
// that are present but rejected by another rule. Fallback names stand in for
// anonymous variables.
func validationDetails(err error, fallback ...string) fiber.Map {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fiber.Map{"required": fallback}
	}

	required := make([]string, 0, len(validationErrors))
	invalid := make([]string, 0)
	for _, fieldErr := range validationErrors {
		name := fieldErr.Field()
		if name == "" {
			if len(fallback) == 0 {
				continue
			}
			name = fallback[0]
		}
		if fieldErr.Tag() == "required" {
			required = appendUnique(required, name)
		} else {
			invalid = appendUnique(invalid, name)
		}
	}
	sort.Strings(required)
	sort.Strings(invalid)

	details := fiber.Map{}
	if len(required) > 0 {
		details["required"] = required
	}
	if len(invalid) > 0 {
		details["invalid"] = invalid
	}
	return details
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
