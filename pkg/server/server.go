// Package server is the HTTP surface of the tool server: the agent
// platform webhook, the result submission endpoint, room and event feeds,
// health and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/segmentio/ksuid"

	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/correlator"
	"github.com/teslashibe/go-tradeschool/pkg/hub"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
	"github.com/teslashibe/go-tradeschool/pkg/room"
	"github.com/teslashibe/go-tradeschool/pkg/tools"
)

// DefaultBodyLimit fits a full-size screenshot after base64 expansion.
const DefaultBodyLimit = 32 * 1024 * 1024

// Forwarder hands a result that missed the local registry to the instance
// that owns it.
type Forwarder interface {
	Forward(ctx context.Context, res *protocol.ScreenshotResult) (bool, error)
}

// Config wires a Server. Router and Correlator are required.
type Config struct {
	Router     *tools.Router
	Correlator *correlator.Correlator

	// Rooms serves participant websockets and WebRTC offers. Optional.
	Rooms *room.Hub

	// Events serves /ws/events. Optional.
	Events *hub.Hub

	// Relay forwards results between instances. Optional.
	Relay Forwarder

	// VisionMode is reported by /health ("mock" or a provider name).
	VisionMode string

	Version   string
	Debug     bool
	BodyLimit int
	Logger    *slog.Logger
}

// Server is the fiber application and its counters.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	// Stats
	webhooks        atomic.Uint64
	webhookFailures atomic.Uint64
	submissions     atomic.Uint64
	stepAcks        atomic.Uint64
	notFound        atomic.Uint64
	forwarded       atomic.Uint64
}

// New builds the application and registers every route.
func New(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("server: router required")
	}
	if cfg.Correlator == nil {
		return nil, errors.New("server: correlator required")
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.VisionMode == "" {
		cfg.VisionMode = "mock"
	}

	s := &Server{cfg: cfg, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = log.Component("server")
	}

	app := fiber.New(fiber.Config{
		AppName:               "tradeschool",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Post("/tools/webhook", s.handleWebhook)
	api.Get("/tools", s.handleListTools)
	api.Post("/tools/:name", s.handleTriggerTool)
	api.Put("/tool-results", s.handleToolResult)
	api.Post("/tool-results", s.handleToolResult)
	api.Get("/requests/stats", s.handleRequestStats)

	if cfg.Rooms != nil {
		cfg.Rooms.RegisterRoutes(app)
		cfg.Rooms.RegisterAPIRoutes(api)
		cfg.Rooms.OnMessage(s.handleParticipantMessage)
	}
	if cfg.Events != nil {
		cfg.Events.RegisterRoutes(app)
	}

	s.app = app
	return s, nil
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// Stats are the server's request counters.
type Stats struct {
	Webhooks        uint64 `json:"webhooks"`
	WebhookFailures uint64 `json:"webhook_failures"`
	Submissions     uint64 `json:"submissions"`
	StepAcks        uint64 `json:"step_acks"`
	NotFound        uint64 `json:"not_found"`
	Forwarded       uint64 `json:"forwarded"`
}

// GetStats returns the request counters.
func (s *Server) GetStats() Stats {
	return Stats{
		Webhooks:        s.webhooks.Load(),
		WebhookFailures: s.webhookFailures.Load(),
		Submissions:     s.submissions.Load(),
		StepAcks:        s.stepAcks.Load(),
		NotFound:        s.notFound.Load(),
		Forwarded:       s.forwarded.Load(),
	}
}

func (s *Server) publish(ev protocol.Event) {
	if s.cfg.Events == nil {
		return
	}
	ev.ID = ksuid.New().String()
	ev.Time = time.Now()
	s.cfg.Events.Publish(ev)
}
