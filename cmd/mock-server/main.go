// Command mock-server runs an in-memory web-service site for trying the
// client and the CLI without a real site.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
)

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	log := logger.Component(logger.New(), "mock-server")

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", getEnvOrDefault("HTTP_PORT", "8080")))
	if err != nil {
		log.Error().Err(err).Msg("error creating tcp listener, exiting")
		os.Exit(1)
	}

	site := NewSite(getEnvOrDefault("MOCK_TOKEN", "secret"))
	s := NewHTTPServer(site, log)
	go func() {
		if err := s.Start(listener); err != nil {
			log.Error().Err(err).Msg("failed to start h2c server, exiting")
			os.Exit(1)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to shut down http server")
		os.Exit(1)
	}
	log.Info().Interface("calls", site.Calls()).Msg("shut down")
}
