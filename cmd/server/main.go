package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-analyzer-go/config"
	"media-analyzer-go/internal/analysis"
	"media-analyzer-go/internal/api/handlers"
	"media-analyzer-go/internal/core/models"
	"media-analyzer-go/internal/integrations/mqtt"
	"media-analyzer-go/internal/integrations/opencv"
	"media-analyzer-go/internal/integrations/registry"
	"media-analyzer-go/internal/logger"
	"media-analyzer-go/internal/overlay"
	"media-analyzer-go/internal/realtime"
	"media-analyzer-go/internal/server/sse"
	"media-analyzer-go/internal/session"
	"media-analyzer-go/internal/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	store, err := storage.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}

	registryClient := registry.NewClient(cfg.Backend)
	channel := realtime.NewChannel(cfg.WebSocket)
	aggregator := analysis.NewAggregator(channel, channel.Analyses())
	manager := session.NewManager(registryClient, aggregator, store, cfg.Backend, cfg.Session)

	// Overlay surface and renderer, repainting on every detection change.
	surface := opencv.NewMatSurface(cfg.Overlay.Width, cfg.Overlay.Height)
	defer surface.Close()
	renderer := overlay.NewRenderer(surface, cfg.Overlay.Visible)
	renderer.Attach(aggregator.Detections())

	// SSE hub pushing state to connected dashboards.
	hub := sse.NewHub()
	go hub.Run()
	aggregator.Accepted().Subscribe(hub.BroadcastAnalysis)
	manager.State().Subscribe(func(s session.State) {
		hub.BroadcastSession(s)
	})

	// Optional MQTT notifier.
	notifier, err := mqtt.NewNotifier(cfg.MQTT)
	if err != nil {
		log.Warnf("Failed to initialize MQTT notifier: %v. Continuing without MQTT.", err)
		notifier = nil
	}
	if notifier != nil {
		go func() {
			if err := notifier.Start(); err != nil {
				log.Errorf("MQTT notifier error: %v", err)
			}
		}()
		defer notifier.Stop()

		aggregator.Accepted().Subscribe(notifier.PublishAnalysis)
		var lastSession *models.StreamSession
		manager.State().Subscribe(func(s session.State) {
			switch {
			case s.Session != nil && (lastSession == nil || lastSession.ID != s.Session.ID):
				notifier.PublishSessionStarted(*s.Session)
			case s.Session == nil && lastSession != nil:
				notifier.PublishSessionStopped(lastSession.ID, lastSession.StreamKey)
			}
			lastSession = s.Session
		})
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	manager.Refresh(startupCtx)
	if err := manager.Restore(startupCtx); err != nil {
		log.Warnf("Failed to restore persisted session: %v", err)
	}
	cancel()

	// --- HTTP server ---
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = false
	if len(cfg.Server.AllowedOrigins) == 1 && cfg.Server.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api")
	dashboardHandler := handlers.NewDashboardHandler(manager, aggregator, renderer, surface, hub)
	dashboardHandler.RegisterRoutes(api)
	systemHandler := handlers.NewSystemHandler(channel.Status())
	systemHandler.RegisterRoutes(api)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Infof("Starting server on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	channel.Disconnect()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}

	log.Info("Server stopped.")
}
