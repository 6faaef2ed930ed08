package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/auth"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/config"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/database"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/handler"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/objectstore"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/router"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/service"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/store"
)

// API is the HTTP + WebSocket realtime coordination application.
type API struct {
	cfg *config.Config
	srv *http.Server
	db  *gorm.DB
	log *zap.Logger
}

// NewAPI creates the API application: validates config, runs migrations,
// opens the database, and wires the coordination core into the router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}

	st := store.NewGormStore(db)
	clock := service.NewClock()
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)

	registry := service.NewConnectionRegistry(logger)
	chat := service.NewChatService(registry, st, clock, cfg.TypingExpiry, cfg.SessionMaxObservers, logger)
	calls := service.NewCallService(st, registry, clock, service.CallConfig{
		LowTimeThreshold:     cfg.LowTimeThreshold,
		ExtensionMinInterval: cfg.ExtensionMinInterval,
		MaxExtensionMinutes:  cfg.MaxExtensionMinutes,
		MaxObservers:         cfg.SessionMaxObservers,
	}, logger)

	quality := service.NewQualityMonitor(st, clock, cfg.QualitySampleInterval,
		cfg.QualityLowScore, cfg.QualityDegradeStreak, calls.Broadcast, logger)
	calls.OnActive(quality.StartCall)
	calls.OnEnded(quality.StopCall)

	var uploader objectstore.Uploader
	if cfg.ObjectStoreBaseURL != "" {
		uploader = objectstore.NewClient(cfg.ObjectStoreBaseURL, cfg.ObjectStoreTimeout, logger)
	} else {
		log.Printf("warning: OBJECT_STORE_URL not set, recording handoff runs in trust mode")
	}
	recording := service.NewRecordingController(st, uploader, calls, clock, logger)

	callHandler := handler.NewCallHandler(calls, recording, logger)
	realtimeWS := handler.NewRealtimeWSHandler(verifier, registry, chat, calls, quality,
		cfg.WSReadBufferSize, cfg.WSWriteBufferSize, cfg.WSMaxMessageSize, logger)
	health := handler.NewHealthHandler()

	r := router.New(verifier, callHandler, realtimeWS, health)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{cfg: cfg, srv: srv, db: db, log: logger}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled; then shuts
// down gracefully.
func (a *API) Run(ctx context.Context) error {
	addr := a.srv.Addr
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	log.Printf("  Health:    %s/health", base)
	log.Printf("  Ready:     %s/ready", base)
	log.Printf("  Calls:     %s/calls", base)
	log.Printf("  WebSocket: ws://%s:%s/ws", host, a.cfg.HTTPPort)

	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	_ = a.log.Sync()
	return nil
}
