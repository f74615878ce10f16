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

	"github.com/juan-silveira/clube-navi-sub004/internal/app"
	"github.com/juan-silveira/clube-navi-sub004/internal/config"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	container, err := app.NewContainer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build service container")
	}

	if err := container.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start background components")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: container.Router(),
	}

	go func() {
		logrus.WithField("addr", server.Addr).Info("🚀 HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown was not clean")
	}

	container.Shutdown()
	logrus.Info("Bye")
}
