package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ticketflow/realtime/internal/api"
	"github.com/ticketflow/realtime/internal/config"
	"github.com/ticketflow/realtime/internal/dispatcher"
	"github.com/ticketflow/realtime/internal/logging"
	"github.com/ticketflow/realtime/internal/ops"
	"github.com/ticketflow/realtime/internal/registry"
	"github.com/ticketflow/realtime/internal/store"
	"github.com/ticketflow/realtime/internal/telemetry"
	"github.com/ticketflow/realtime/internal/webhook"
	"github.com/ticketflow/realtime/internal/ws"
	"github.com/ticketflow/realtime/pkg/wire"
)

// Engine is the main coordinator of all TicketFlow components
type Engine struct {
	config      *config.Config
	store       *store.Store
	registry    *registry.Registry
	dispatcher  *dispatcher.Dispatcher
	forwarder   *webhook.Forwarder
	api         *api.API
	ops         *ops.Server
	logger      zerolog.Logger
	telemetryFn func(context.Context) error
}

// publisher fans a published event to the WebSocket dispatcher and,
// when configured, the chat webhook forwarder.
type publisher struct {
	dispatcher *dispatcher.Dispatcher
	forwarder  *webhook.Forwarder
}

func (p publisher) Publish(event wire.Event) {
	p.dispatcher.Publish(event)
	if p.forwarder != nil {
		p.forwarder.Offer(event)
	}
}

// New creates an Engine with all components initialized from the config.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	logger := logging.Component("engine")

	st, err := store.NewStore(store.Config{
		DataDir:         cfg.Storage.DataDir,
		CacheEnabled:    cfg.Storage.CacheEnabled,
		TicketCacheSize: cfg.Storage.TicketCacheSize,
		UserCacheSize:   cfg.Storage.UserCacheSize,
		CacheExpiration: time.Duration(cfg.Storage.CacheExpirationSeconds) * time.Second,
		GCInterval:      time.Duration(cfg.Storage.GCIntervalMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	reg := registry.New(cfg.Realtime.SendBufferSize)
	disp := dispatcher.New(reg, st)

	var forwarder *webhook.Forwarder
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		forwarder = webhook.NewForwarder(webhook.Config{
			URL:        cfg.Webhook.URL,
			Timeout:    time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.Webhook.MaxRetries,
		})
	}

	wsHandler := ws.NewHandler(ws.Config{
		Path:              cfg.Realtime.Path,
		HeartbeatInterval: time.Duration(cfg.Realtime.HeartbeatIntervalSeconds) * time.Second,
		MaxIdleTime:       time.Duration(cfg.Realtime.MaxIdleSeconds) * time.Second,
		MaxConnections:    cfg.Realtime.MaxConnections,
	}, reg)

	apiServer := api.NewAPI(api.Config{
		Addr:         cfg.Server.Addr,
		MaxBodySize:  cfg.Server.MaxBodySize,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}, st, publisher{dispatcher: disp, forwarder: forwarder}, wsHandler)

	var opsServer *ops.Server
	if cfg.Ops.Enabled {
		opsServer = ops.NewServer(ops.Config{Addr: cfg.Ops.Addr}, func() bool { return true })
	}

	telemetryFn, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:       cfg.Telemetry.Enabled,
		ServiceName:   cfg.Telemetry.ServiceName,
		Endpoint:      cfg.Telemetry.Endpoint,
		SamplingRatio: cfg.Telemetry.SamplingRatio,
		Attributes:    cfg.Telemetry.Attributes,
	})
	if err != nil {
		st.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &Engine{
		config:      cfg,
		store:       st,
		registry:    reg,
		dispatcher:  disp,
		forwarder:   forwarder,
		api:         apiServer,
		ops:         opsServer,
		logger:      logger,
		telemetryFn: telemetryFn,
	}, nil
}

// Run starts all components and blocks until the context is canceled
// or a component fails.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Msg("Starting TicketFlow realtime engine")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.store.Start(ctx) })
	g.Go(func() error { return e.api.Start(ctx) })
	if e.ops != nil {
		g.Go(func() error { return e.ops.Start(ctx) })
	}
	if e.forwarder != nil {
		g.Go(func() error { return e.forwarder.Start(ctx) })
	}

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.registry.Shutdown()
	if storeErr := e.store.Shutdown(shutdownCtx); storeErr != nil {
		e.logger.Error().Err(storeErr).Msg("Store shutdown failed")
	}
	if telErr := e.telemetryFn(shutdownCtx); telErr != nil {
		e.logger.Error().Err(telErr).Msg("Telemetry shutdown failed")
	}

	e.logger.Info().Msg("Engine stopped")
	return err
}
