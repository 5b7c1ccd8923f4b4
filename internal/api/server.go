// Package api is the HTTP control surface: it triggers sends and polls and
// serves read-only log queries. Callers get structured summaries, never raw
// transport errors.
package api

import (
	"context"
	"log/slog"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/bidflow/mailtrack/internal/logstore"
	"github.com/bidflow/mailtrack/internal/mailer"
	"github.com/bidflow/mailtrack/internal/sender"
	"github.com/bidflow/mailtrack/internal/services"
	"github.com/bidflow/mailtrack/internal/session"
	"github.com/bidflow/mailtrack/internal/telemetry"
)

const defaultLogLimit = 500

// Server wires the fiber app.
type Server struct {
	service *services.SessionService
	store   *logstore.Store
	logger  *slog.Logger
}

// NewServer builds the control-surface server.
func NewServer(service *services.SessionService, store *logstore.Store, logger *slog.Logger) *Server {
	return &Server{service: service, store: store, logger: logger}
}

// App assembles the fiber application.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	if telemetry.Enabled() {
		app.Use(otelfiber.Middleware())
	}

	api := app.Group("/api")
	api.Post("/send", s.handleSend)
	api.Post("/poll", s.handlePoll)
	api.Get("/logs/outbound", s.handleOutboundLogs)
	api.Get("/logs/replies", s.handleReplyLogs)
	api.Get("/logs/attachments", s.handleAttachmentLogs)

	return app
}

type sendRequest struct {
	Recipients []sender.Recipient `json:"recipients"`
}

func (s *Server) handleSend(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}
	if len(req.Recipients) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "recipients must not be empty"})
	}

	summary, err := s.service.SendBatch(c.UserContext(), req.Recipients)
	if err != nil {
		return s.operationError(c, "send", err)
	}
	return c.JSON(summary)
}

func (s *Server) handlePoll(c *fiber.Ctx) error {
	summary, err := s.service.PollNow(c.UserContext())
	if err != nil {
		return s.operationError(c, "poll", err)
	}
	return c.JSON(summary)
}

func (s *Server) handleOutboundLogs(c *fiber.Ctx) error {
	records, err := s.store.ListOutbound(c.UserContext(), logLimit(c))
	if err != nil {
		return s.queryError(c, err)
	}
	return c.JSON(fiber.Map{"records": records})
}

func (s *Server) handleReplyLogs(c *fiber.Ctx) error {
	records, err := s.store.ListReplies(c.UserContext(), logLimit(c))
	if err != nil {
		return s.queryError(c, err)
	}
	return c.JSON(fiber.Map{"records": records})
}

func (s *Server) handleAttachmentLogs(c *fiber.Ctx) error {
	records, err := s.store.ListAttachments(c.UserContext(), logLimit(c))
	if err != nil {
		return s.queryError(c, err)
	}
	return c.JSON(fiber.Map{"records": records})
}

// operationError maps engine errors onto the narrow surface callers see.
func (s *Server) operationError(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, session.ErrBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "another operation is in flight"})
	case errors.Is(err, mailer.ErrCapabilityUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "mail client unavailable"})
	case errors.Is(err, context.Canceled):
		return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{"error": "operation cancelled"})
	default:
		s.logger.Error("operation failed", "operation", op, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

func (s *Server) queryError(c *fiber.Ctx, err error) error {
	s.logger.Error("log query failed", "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func logLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultLogLimit)
	if limit <= 0 || limit > defaultLogLimit {
		limit = defaultLogLimit
	}
	return limit
}
