// Package main provides the entry point for the agentcore server: the
// flag-based minimal entrypoint that builds internal/bootstrap's App and
// serves the RPC Router's HTTP binding (spec §6 "--server boundary mode").
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentcore-ai/agentcore/internal/bootstrap"
	"github.com/agentcore-ai/agentcore/internal/logging"
	"github.com/agentcore-ai/agentcore/internal/rpc"
)

var (
	port      = flag.Int("port", 8080, "Server port")
	directory = flag.String("directory", "", "Working directory")
	version   = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("agentcore-server %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	workDir := *directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
	}

	logging.Init(logging.DefaultConfig())
	logger := logging.Logger

	logger.Info().Str("version", Version).Str("directory", workDir).Msg("starting agentcore server")

	app, err := bootstrap.Build(context.Background(), workDir, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer app.Close()

	httpServer := rpc.NewServer(app.Router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      httpServer.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
	}

	go func() {
		logger.Info().Int("port", *port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	logger.Info().Msg("stopped")
}
