package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ticketflow/realtime/internal/config"
	"github.com/ticketflow/realtime/internal/engine"
	"github.com/ticketflow/realtime/internal/logging"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to YAML configuration file")
		dataDir    = flag.String("data", "", "data directory (overrides config)")
		serverAddr = flag.String("addr", "", "HTTP listen address (overrides config)")
		logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile, *dataDir, *serverAddr, *logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := logging.Setup(logging.Config{
		Level:         logging.LogLevel(cfg.Logging.Level),
		Format:        logging.LogFormat(cfg.Logging.Format),
		IncludeCaller: cfg.Logging.IncludeCaller,
		GlobalFields:  cfg.Logging.GlobalFields,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
	}

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Engine exited with error")
	}
}
