package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hybridbot/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// Pprof server, localhost only for security
	go func() {
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, *configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := bootstrap.Exchange.Start(ctx); err != nil {
		slog.Error("❌ Market streams failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Exchange.Close()

	slog.InfoContext(ctx, "✅ Engine starting")
	if err := bootstrap.Orchestrator.Run(ctx); err != nil {
		slog.Error("❌ Engine stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}
