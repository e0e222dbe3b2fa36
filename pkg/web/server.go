package web

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/services"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// Server serves the drip HTTP API.
type Server struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *workflow.Engine
	publisher   eventbus.EventPublisher
	validate    *validator.Validate
	app         *fiber.App
}

func NewServer(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *workflow.Engine,
	publisher eventbus.EventPublisher,
) *Server {
	return &Server{
		logger:      logger.With("module", "api"),
		persistence: persistence,
		engine:      engine,
		publisher:   publisher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Server) App() *fiber.App {
	workflowService := services.NewWorkflow(s.persistence, s.engine, s.logger)
	executionService := services.NewExecution(s.persistence, s.engine, nil, s.logger)

	handlers := NewAPIHandlers(workflowService, executionService, s.publisher, s.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return s.persistence.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Drip API")
	})

	handlers.Register(app)

	return app
}

// Start blocks serving the API on port until Shutdown is called.
func (s *Server) Start(port int) error {
	s.app = s.App()

	s.logger.Info("Starting API server", "port", port)

	return s.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.app == nil {
		return nil
	}

	return s.app.ShutdownWithContext(ctx)
}
