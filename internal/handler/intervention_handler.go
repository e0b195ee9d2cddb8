package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
	"github.com/noah-isme/gema-intervention-api/internal/middleware"
	"github.com/noah-isme/gema-intervention-api/internal/service"
	"github.com/noah-isme/gema-intervention-api/internal/utils"
)

// InterventionHandler exposes the intervention lifecycle over HTTP.
type InterventionHandler struct {
	service service.InterventionService
	logger  zerolog.Logger
}

// NewInterventionHandler constructs an intervention handler.
func NewInterventionHandler(service service.InterventionService, logger zerolog.Logger) *InterventionHandler {
	return &InterventionHandler{
		service: service,
		logger:  logger.With().Str("component", "intervention_handler").Logger(),
	}
}

// RegisterStudentRoutes wires the routes used by the student app. Guards run
// in front of the check-in endpoint only.
func (h *InterventionHandler) RegisterStudentRoutes(router fiber.Router, checkInGuards ...fiber.Handler) {
	checkIn := make([]fiber.Handler, 0, len(checkInGuards)+1)
	for _, guard := range checkInGuards {
		if guard != nil {
			checkIn = append(checkIn, guard)
		}
	}
	checkIn = append(checkIn, h.checkIn)

	router.Post("/daily-checkin", checkIn...)
	router.Get("/student-status/:student_id", h.status)
	router.Post("/complete-remedial", h.completeRemedial)
}

// RegisterMentorRoutes wires task assignment. The GET variant serves links
// embedded in mentor e-mails.
func (h *InterventionHandler) RegisterMentorRoutes(router fiber.Router) {
	router.Post("", h.assign)
	router.Get("", h.assignFromLink)
}

func (h *InterventionHandler) checkIn(c *fiber.Ctx) error {
	var payload dto.CheckInRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.RecordCheckIn(requestContext(c), payload)
	if err != nil {
		return h.handleError(c, err, "failed to record check-in")
	}

	message := response.Message
	if message == "" {
		message = "check-in recorded"
	}
	return utils.SendSuccess(c, message, response)
}

func (h *InterventionHandler) assign(c *fiber.Ctx) error {
	var payload dto.AssignTaskRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	return h.assignTask(c, payload)
}

func (h *InterventionHandler) assignFromLink(c *fiber.Ctx) error {
	var payload dto.AssignTaskRequest
	if err := c.QueryParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	return h.assignTask(c, payload)
}

func (h *InterventionHandler) assignTask(c *fiber.Ctx, payload dto.AssignTaskRequest) error {
	response, err := h.service.AssignTask(requestContext(c), payload)
	if err != nil {
		return h.handleError(c, err, "failed to assign remedial task")
	}

	requestLogger(h.logger, c).Info().
		Str("student_id", response.StudentID).
		Str("intervention_id", response.InterventionID).
		Str("mentor_id", middleware.MentorIDFromContext(c)).
		Msg("remedial task assigned")
	return utils.SendSuccess(c, "remedial task assigned", response)
}

func (h *InterventionHandler) status(c *fiber.Ctx) error {
	studentID := strings.TrimSpace(c.Params("student_id"))

	response, err := h.service.GetStatus(requestContext(c), studentID)
	if err != nil {
		return h.handleError(c, err, "failed to load student status", "student_id")
	}

	return utils.SendSuccess(c, "student status", response)
}

func (h *InterventionHandler) completeRemedial(c *fiber.Ctx) error {
	var payload dto.CompleteRemedialRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.CompleteRemedial(requestContext(c), payload)
	if err != nil {
		return h.handleError(c, err, "failed to complete remedial task")
	}

	return utils.SendSuccess(c, "remedial task completed", response)
}

func (h *InterventionHandler) handleError(c *fiber.Ctx, err error, failure string, fields ...string) error {
	switch {
	case isValidationError(err):
		details := validationDetails(err, fields...)
		message := "missing required fields"
		if _, missing := details["required"]; !missing {
			message = "invalid field values"
		}
		return utils.Fail(c, fiber.StatusBadRequest, message, details)
	case errors.Is(err, service.ErrStudentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "student not found")
	case errors.Is(err, service.ErrInterventionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "intervention not found")
	case errors.Is(err, service.ErrInterventionClosed):
		return utils.SendError(c, fiber.StatusConflict, "intervention already closed")
	case errors.Is(err, service.ErrStudentLockTimeout):
		return utils.SendError(c, fiber.StatusServiceUnavailable, "student is busy, retry shortly")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(failure)
		return utils.SendError(c, fiber.StatusInternalServerError, failure)
	}
}
