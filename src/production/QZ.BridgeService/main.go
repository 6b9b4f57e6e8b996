package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	qzbridge "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.BridgeService/bridge"
	container "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Container"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewBridgeContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting Console Bridge Service")

	// Get configuration
	config := ctr.GetConfig()

	// Create and start the MQTT to websocket bridge
	bridge := qzbridge.New(config, logger)
	if err := bridge.Start(); err != nil {
		logger.FatalWithError(err, "Failed to start console bridge")
	}
	defer bridge.Stop()

	// Start health check server
	go startHealthServer(ctr, bridge)

	logger.Info("Console bridge running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
}

// startHealthServer starts a simple HTTP server for health checks
func startHealthServer(ctr *container.BridgeContainer, bridge *qzbridge.Bridge) {
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check MQTT connection
		mqttStatus := "disconnected"
		if bridge.IsConnected() {
			mqttStatus = "connected"
		}

		status := "healthy"
		if mqttStatus != "connected" {
			status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if status == "healthy" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		fmt.Fprintf(w, `{
			"status": "%s",
			"timestamp": "%s",
			"services": {
				"mqtt": "%s"
			},
			"console_sessions": %d
		}`, status, time.Now().UTC().Format(time.RFC3339), mqttStatus,
			bridge.SessionCount())
	})

	port := ctr.GetConfig().Server.Port
	logger := ctr.GetLogger()
	logger.Info("Health server starting on port " + port)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.FatalWithError(err, "Failed to start health server")
	}
}
