package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"webrag/app/api"
	"webrag/app/middleware"
)

const shutdownTimeout = 10 * time.Second

// Deps are the ports the HTTP layer is built from. Everything is constructed
// once in main and passed in here.
type Deps struct {
	DB             api.Pinger
	Queue          api.QueueInspector
	Submitter      api.Submitter
	Agent          api.Answerer
	MetricsHandler http.Handler
}

type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *slog.Logger
}

func NewServer(addr, appName string, deps Deps, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               appName,
		ErrorHandler:          api.NewErrorHandler(logger),
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		IdleTimeout:           60 * time.Second,
	})

	app.Use(middleware.RequestLogger(logger, "/metrics", "/check"))
	app.Use(recover.New())

	var (
		checkHandler  = api.NewCheckHandler(deps.DB, deps.Queue)
		ingestHandler = api.NewIngestHandler(deps.Submitter)
		queryHandler  = api.NewQueryHandler(deps.Agent, logger)
		check         = app.Group("/check")
		apiGroup      = app.Group("/api")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiGroup.Post("/ingest-url", ingestHandler.HandleIngest)
	apiGroup.Post("/query", queryHandler.HandleQuery)
	apiGroup.Post("/query/stream", queryHandler.HandleQueryStream)

	if deps.MetricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.MetricsHandler))
	}

	return &Server{
		listenAddr: addr,
		app:        app,
		logger:     logger,
	}
}

// App exposes the fiber app for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run blocks until the listener stops.
func (s *Server) Run() error {
	s.logger.Info("server listening", "addr", s.listenAddr)
	return s.app.Listen(s.listenAddr)
}

func (s *Server) Stop() {
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		s.logger.Error("error to stop server", "error", err)
	}
	s.logger.Info("server stopped")
}
