package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"carbonproof/internal/platform/config"
	"carbonproof/internal/platform/httpserver"
	"carbonproof/internal/platform/logger"
)

const shutdownGrace = 15 * time.Second

// main loads configuration, wires the validator service and runs it until
// SIGINT or SIGTERM.
func main() {
	configPath := flag.String("config", "", "optional config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Production: cfg.IsProduction(),
	})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("validator service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	app, err := wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	app.checkSignerRole(ctx)

	srv := httpserver.New(cfg.Addr, app.handler.Router())

	// The ledger worker stops only after the HTTP server has drained.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	var g errgroup.Group
	g.Go(func() error {
		return app.submitter.Run(workerCtx)
	})
	g.Go(func() error {
		defer stopWorker()
		log.Info("starting carbonproof validator",
			"addr", cfg.Addr,
			"environment", cfg.Environment,
			"signer", app.signer.Signer().Hex(),
		)
		return httpserver.Serve(ctx, srv, shutdownGrace)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("carbonproof validator stopped")
	return nil
}
