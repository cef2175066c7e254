package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/knock-portal/internal/config"
	"github.com/sdko-org/knock-portal/internal/database"
	"github.com/sdko-org/knock-portal/internal/engine"
	"github.com/sdko-org/knock-portal/internal/handlers"
	"github.com/sdko-org/knock-portal/internal/router"
	"github.com/sdko-org/knock-portal/internal/store"
	"github.com/sdko-org/knock-portal/internal/sweeper"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := database.Open(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Database initialization failed")
	}

	st := store.New(db)

	rc, err := router.New(logger, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Router client initialization failed")
	}

	eng := engine.New(logger, st, rc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := sweeper.New(logger, st, rc, cfg.SweepInterval)
	go sw.Start(ctx)

	portal := handlers.NewPortal(logger, cfg, eng)

	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger, db))
	handlers.RegisterRoutes(r, cfg, portal)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		<-sigint

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown error")
		}
	}()

	logger.WithField("addr", server.Addr).Info("Starting server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("Server failed")
	}
}
