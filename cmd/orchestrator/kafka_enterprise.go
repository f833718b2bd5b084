//go:build enterprise
// +build enterprise

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"clinicalcore/internal/config"
	"clinicalcore/internal/orchestrator"
)

func runKafkaConsumer(ctx context.Context, cfg config.Config, runner orchestrator.Runner) error {
	brokers := splitBrokers(cfg.Kafka.Brokers)
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	redisAddr := cfg.Redis.Addr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	dedupe, err := orchestrator.NewRedisDedupeStore(redisAddr)
	if err != nil {
		return fmt.Errorf("init redis dedupe store: %w", err)
	}
	defer dedupe.Close()

	producer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.LeastBytes{},
	})
	defer producer.Close()

	return orchestrator.StartKafkaConsumer(
		ctx,
		brokers,
		"clinicalcore-orchestrator",
		cfg.Kafka.CommandsTopic,
		nil,
		producer,
		runner,
		dedupe,
		4,
		cfg.Kafka.ResponsesTopic,
		10*time.Minute,
		10*time.Minute,
	)
}

func splitBrokers(csv string) []string {
	var out []string
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
