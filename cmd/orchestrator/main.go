// Command orchestrator runs ConversationCore behind the Kafka command-bus
// front door (internal/orchestrator), the async alternative to the
// synchronous HTTP surface in cmd/httpapi for deployments that drive
// sendMessage from a queue instead of a request/response call. The actual
// Kafka wiring lives behind the "enterprise" build tag (runKafkaConsumer in
// kafka_enterprise.go / kafka_stub.go), mirroring internal/orchestrator's own
// //go:build enterprise split on StartKafkaConsumer.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"clinicalcore/internal/config"
	"clinicalcore/internal/conversation"
	"clinicalcore/internal/observability"
	"clinicalcore/internal/wiring"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}
	observability.InitLogger("orchestrator.log", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if !cfg.Kafka.Enabled {
		log.Fatal().Msg("KAFKA_BROKERS (or KAFKA_BOOTSTRAP_SERVERS) is required to run the orchestrator")
	}

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	app, err := wiring.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire conversation core")
	}
	defer app.Close()

	runner := conversation.NewRunner(app.Core)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("brokers", cfg.Kafka.Brokers).Str("commandsTopic", cfg.Kafka.CommandsTopic).Msg("starting orchestrator kafka adapter")

	if err := runKafkaConsumer(ctx, cfg, runner); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("kafka consumer exited with error")
	}
	log.Info().Msg("orchestrator shut down")
}
