package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
	"github.com/noah-isme/gema-intervention-api/internal/middleware"
	"github.com/noah-isme/gema-intervention-api/internal/service"
)

const (
	defaultStreamRefresh = time.Minute
	streamWriteTimeout   = 5 * time.Second

	closeStudentNotFound = 4404
)

// StatusStreamHandler pushes student status changes over a websocket so the
// student app does not have to poll.
type StatusStreamHandler struct {
	service     service.InterventionService
	broadcaster *service.StatusBroadcaster
	refresh     time.Duration
	logger      zerolog.Logger
}

// NewStatusStreamHandler constructs a stream handler. The refresh interval
// re-reads the status so auto-unlock deadlines surface without a write.
func NewStatusStreamHandler(service service.InterventionService, broadcaster *service.StatusBroadcaster, refresh time.Duration, logger zerolog.Logger) *StatusStreamHandler {
	if refresh <= 0 {
		refresh = defaultStreamRefresh
	}

	return &StatusStreamHandler{
		service:     service,
		broadcaster: broadcaster,
		refresh:     refresh,
		logger:      logger.With().Str("component", "status_stream_handler").Logger(),
	}
}

// Register binds the websocket upgrade route.
func (h *StatusStreamHandler) Register(router fiber.Router) {
	router.Use("/student-status/:student_id/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/student-status/:student_id/ws", websocket.New(h.handleConnection))
}

func (h *StatusStreamHandler) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	studentID := utils.CopyString(strings.TrimSpace(conn.Params("student_id")))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	logger := h.logger.With().
		Str("student_id", studentID).
		Str("correlation_id", middleware.CorrelationIDFromContext(ctx)).
		Logger()

	updates, unsubscribe := h.broadcaster.Subscribe(studentID)
	defer unsubscribe()

	current, err := h.service.GetStatus(ctx, studentID)
	if err != nil {
		code, text := websocket.CloseInternalServerErr, "status unavailable"
		if errors.Is(err, service.ErrStudentNotFound) || isValidationError(err) {
			code, text = closeStudentNotFound, "student not found"
		} else {
			logger.Error().Err(err).Msg("failed to load initial status")
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
		return
	}
	if err := h.write(conn, current); err != nil {
		return
	}

	logger.Info().Msg("status stream connected")
	defer logger.Info().Msg("status stream disconnected")

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		_ = conn.Close()
		<-readerDone
	}()

	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()

	for {
		var next dto.StatusResponse
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			next = update
		case <-ticker.C:
			refreshed, err := h.service.GetStatus(ctx, studentID)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn().Err(err).Msg("failed to refresh status")
				}
				continue
			}
			next = refreshed
		}

		if sameStatus(current, next) {
			continue
		}
		if err := h.write(conn, next); err != nil {
			return
		}
		current = next
	}
}

func (h *StatusStreamHandler) write(conn *websocket.Conn, status dto.StatusResponse) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(status)
}

func sameStatus(a, b dto.StatusResponse) bool {
	if a.StudentID != b.StudentID || a.Status != b.Status || a.Task != b.Task || a.InterventionID != b.InterventionID {
		return false
	}
	switch {
	case a.AutoUnlockAt == nil && b.AutoUnlockAt == nil:
		return true
	case a.AutoUnlockAt == nil || b.AutoUnlockAt == nil:
		return false
	default:
		return a.AutoUnlockAt.Equal(*b.AutoUnlockAt)
	}
}
