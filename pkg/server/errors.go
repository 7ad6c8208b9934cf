package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
	"github.com/teslashibe/go-tradeschool/pkg/room"
	"github.com/teslashibe/go-tradeschool/pkg/tools"
	"github.com/teslashibe/go-tradeschool/pkg/vision"
)

// NoPendingRequest is the error text for late or duplicate deliveries.
const NoPendingRequest = "No pending request"

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, tools.ErrValidation), errors.Is(err, tools.ErrUnknownTool):
		return fiber.StatusBadRequest
	case errors.Is(err, correlator.ErrNoSuchRequest), errors.Is(err, room.ErrParticipantNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, tools.ErrDuplicateToolCall):
		return fiber.StatusConflict
	case errors.Is(err, vision.ErrUnsupportedFormat), errors.Is(err, vision.ErrInvalidPayload):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, vision.ErrInference):
		return fiber.StatusBadGateway
	case errors.Is(err, correlator.ErrTimeout):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// fail writes err as {error} with its mapped status.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "status", code, "error", err)
	}
	return c.Status(code).JSON(protocol.ErrorResponse{Error: err.Error()})
}

// handleError is the fiber error handler for errors returned by handlers
// and middleware.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	return s.fail(c, err)
}
