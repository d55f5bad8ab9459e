package main

import (
	"chat-relay/infrastructure/udp"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, serves until a signal arrives and returns the
// first fatal error, so deferred cleanups always run before exiting.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Transport
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server, err := udp.Listen(log, address, config.MaxDatagramSize)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	defer func() {
		_ = server.Close()
	}()

	// 3. Shared state and dispatcher
	registry := runtime.NewRegistry(config.MaxClients, config.MaxMutes)
	history := runtime.NewHistory(log, config.HistorySize)
	broadcaster := runtime.NewBroadcaster(log, registry, history, server)
	service := services.NewChatService(log, registry, history, broadcaster, server,
		uint16(config.AdminPort), config.MaxNameLength)
	if config.ModerationEnabled {
		moderator, err := runtime.LoadModerator(log, config.CharReplacement())
		if err != nil {
			return fmt.Errorf("moderation setup failed: %w", err)
		}
		service.WithModerator(moderator)
	}

	// 4. Supervision & Orchestration
	sup := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(
		log, sup, registry, history, broadcaster, server, service,
		config.NumberOfWorkers, config.QueueSize,
		runtime.LivenessSettings{
			Interval:    config.LivenessInterval,
			Threshold:   config.InactivityThreshold,
			PingTimeout: config.PingTimeout,
			Sweep:       workers.SweepMode(config.LivenessSweep),
		},
		config.MetricInterval,
	)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestratorDone := make(chan struct{})
	go func() {
		orchestrator.Start(ctx)
		close(orchestratorDone)
	}()

	// 6. Request loop, returns once the context is canceled
	if err := server.Serve(ctx, orchestrator); err != nil {
		orchestrator.Stop()
		<-orchestratorDone
		return fmt.Errorf("udp server error: %w", err)
	}

	log.Info("Shutting down gracefully...")
	orchestrator.Stop()
	<-orchestratorDone
	log.Info("Program stopped cleanly", "dropped", orchestrator.Dropped())
	return nil
}
