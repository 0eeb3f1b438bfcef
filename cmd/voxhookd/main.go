package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/voxhook/voxhook/internal/config"
	"github.com/voxhook/voxhook/internal/httpapi"
	"github.com/voxhook/voxhook/internal/logger"
	"github.com/voxhook/voxhook/internal/observability"
	"github.com/voxhook/voxhook/internal/protocol"
	"github.com/voxhook/voxhook/internal/turnlog"
	"github.com/voxhook/voxhook/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Log.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	turns, err := turnlog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("turn log init failed: %v", err)
	}
	defer turns.Close()

	api := httpapi.New(cfg, demoDispatcher(), turns, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Log.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Log.Info("shutdown complete")
}

// demoDispatcher wires a small conversational flow so the binary is usable
// out of the box: a greeting, an echo loop that counts turns, and a
// permission-gated location report.
func demoDispatcher() *webhook.Dispatcher {
	return webhook.Handle(
		webhook.Intent(protocol.IntentMain, func(ctx context.Context, c *webhook.Conversation) error {
			c.SetState("echoing")
			c.Data()["turns"] = float64(0)
			return c.Ask("Hi, I repeat what you say. What should I repeat?")
		}),
		webhook.State("echoing",
			webhook.Intent(protocol.IntentText, func(ctx context.Context, c *webhook.Conversation) error {
				query := c.RawInput()
				if query == "goodbye" {
					return c.Tell("Goodbye.")
				}
				if query == "where am i" {
					c.SetState("locating")
					return c.AskForPermission("To find you", webhook.PermissionDevicePreciseLocation)
				}
				turns := turnCount(c) + 1
				c.Data()["turns"] = turns
				return c.Ask(fmt.Sprintf("Turn %.0f: you said %s", turns, query))
			}),
		),
		webhook.State("locating",
			webhook.Intent(protocol.IntentPermission, func(ctx context.Context, c *webhook.Conversation) error {
				loc := c.DeviceLocation()
				if loc == nil || loc.Coordinates == nil {
					return c.Tell("I could not get your location.")
				}
				return c.Tell(fmt.Sprintf("You are at latitude %.4f, longitude %.4f.",
					loc.Coordinates.Latitude, loc.Coordinates.Longitude))
			}),
		),
		webhook.NoState(
			webhook.Intent(protocol.IntentText, func(ctx context.Context, c *webhook.Conversation) error {
				c.SetState("echoing")
				return c.Ask("Let's start over. What should I repeat?")
			}),
		),
	)
}

func turnCount(c *webhook.Conversation) float64 {
	if n, ok := c.Data()["turns"].(float64); ok {
		return n
	}
	return 0
}
