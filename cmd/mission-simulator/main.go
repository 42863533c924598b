// Package main runs the mission execution simulator: a development stand-in
// for the real engine that serves the REST API, the WebSocket event stream
// and its SSE mirror.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/simulator"
)

var (
	addr        = flag.String("addr", "localhost:8089", "Address to listen on")
	missionsDir = flag.String("missions", "", "Directory of YAML mission definitions")
	stepDelay   = flag.Duration("step-delay", simulator.DefaultStepDelay, "Pacing for scripted node execution")
	logLevel    = flag.String("log-level", "info", "Minimum log level")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	logger := logging.New(os.Stderr, logging.ParseLevel(*logLevel))

	engine := simulator.NewEngine(logger)
	engine.SetStepDelay(*stepDelay)

	if *missionsDir != "" {
		if err := engine.LoadMissionDir(*missionsDir); err != nil {
			log.Fatalf("Failed to load missions: %v", err)
		}
	}

	server := &http.Server{
		Addr:         *addr,
		Handler:      engine.Router(),
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("simulator listening", logging.F("addr", *addr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
