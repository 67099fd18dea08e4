package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/ticketflow/realtime/internal/logging"
	"github.com/ticketflow/realtime/internal/metrics"
	"github.com/ticketflow/realtime/internal/store"
	"github.com/ticketflow/realtime/internal/telemetry"
	"github.com/ticketflow/realtime/internal/ws"
	"github.com/ticketflow/realtime/pkg/wire"
)

// Publisher hands events to the fan-out dispatcher. Publish is
// fire-and-forget; the mutation path never waits on delivery.
type Publisher interface {
	Publish(wire.Event)
}

// Config contains API configuration
type Config struct {
	Addr         string
	MaxBodySize  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		MaxBodySize:  1024 * 1024, // 1MB
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// API handles HTTP endpoints
type API struct {
	config    Config
	app       *fiber.App
	store     *store.Store
	publisher Publisher
	wsHandler *ws.Handler
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewAPI creates a new API instance
func NewAPI(config Config, st *store.Store, publisher Publisher, wsHandler *ws.Handler) *API {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultConfig().MaxBodySize
	}

	return &API{
		config:    config,
		store:     st,
		publisher: publisher,
		wsHandler: wsHandler,
		logger:    logging.Component("api"),
		metrics:   metrics.GetMetrics(),
	}
}

// Start initializes and runs the API server until ctx is canceled.
func (a *API) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server")

	app := fiber.New(fiber.Config{
		ReadTimeout:           a.config.ReadTimeout,
		WriteTimeout:          a.config.WriteTimeout,
		IdleTimeout:           a.config.IdleTimeout,
		BodyLimit:             a.config.MaxBodySize,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(telemetry.Middleware("ticketflow-api"))
	app.Use(a.requestMetrics)

	a.registerRoutes(app)
	a.wsHandler.Register(app)

	a.app = app

	errCh := make(chan error, 1)
	go func() {
		if err := app.Listen(a.config.Addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return app.ShutdownWithTimeout(5 * time.Second)
	}
}

// requestMetrics records per-request counters and durations.
func (a *API) requestMetrics(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	path := c.Route().Path
	method := c.Method()
	a.metrics.APIRequestsTotal.WithLabelValues(method, path, statusLabel(c, err)).Inc()
	a.metrics.APIRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	return err
}

func statusLabel(c *fiber.Ctx, err error) string {
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fiberStatusText(fe.Code)
		}
		return "5xx"
	}
	return fiberStatusText(c.Response().StatusCode())
}

func fiberStatusText(code int) string {
	// Small fixed label set keeps metric cardinality bounded.
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// registerRoutes sets up all API endpoints
func (a *API) registerRoutes(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	api := app.Group("/api")

	api.Post("/tickets", a.createTicket)
	api.Get("/tickets", a.listTickets)
	api.Get("/tickets/:id", a.getTicket)
	api.Patch("/tickets/:id", a.updateTicket)
	api.Post("/tickets/:id/comments", a.addComment)
	api.Get("/tickets/:id/comments", a.listComments)
	api.Post("/tickets/:id/suggestions", a.addSuggestion)

	api.Post("/articles", a.createArticle)
	api.Get("/articles/:id", a.getArticle)

	api.Put("/users/:id", a.putUser)
	api.Get("/users/:id", a.getUser)
	api.Put("/teams/:id", a.putTeam)
	api.Get("/teams/:id", a.getTeam)

	api.Get("/stats", a.stats)
	api.Post("/notifications", a.broadcastNotification)
}
