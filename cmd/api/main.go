package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"unit_economics/pkg/api/unitecon"
	"unit_economics/pkg/core/config"
	"unit_economics/pkg/core/engine"
	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/store"
)

func main() {
	// Load environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[FATAL] config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "[WARNING] logger: %v\n", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, cfg)
	if err != nil {
		logging.Logger.Fatalw("[API] engine init failed", "error", err)
	}
	defer store.Close()

	srv := unitecon.NewServer(e, cfg.Server.Addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Logger.Infow("[API] server starting", "addr", cfg.Server.Addr)
	for _, route := range []string{"/api/canonicalize", "/api/unit-economics", "/api/kpi", "/api/screen", "/api/bundle"} {
		logging.Logger.Infow("[API] route", "method", "POST", "path", route)
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Logger.Errorw("[FATAL] server failed to start", "error", err)
		os.Exit(1)
	}
}
