// Command savingsd serves the savings ledger over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/savings_layer/internal/app/runtime"
	"github.com/R3E-Network/savings_layer/internal/config"
	"github.com/R3E-Network/savings_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default $SAVINGS_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.NewDefault("savingsd").WithError(err).Warn("failed to load .env")
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.NewDefault("savingsd").WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Logging.Logger("savingsd"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("initialise application")
	}

	runErr := rt.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("server stopped")
	}

	log.Info("shutting down")
	if err := rt.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown")
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
