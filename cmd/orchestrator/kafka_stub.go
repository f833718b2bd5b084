//go:build !enterprise
// +build !enterprise

package main

import (
	"context"
	"fmt"

	"clinicalcore/internal/config"
	"clinicalcore/internal/orchestrator"
)

// runKafkaConsumer without the enterprise build tag refuses to start: the
// worker-pool Kafka consumer (internal/orchestrator/kafka.go) is itself
// gated behind //go:build enterprise, so a non-enterprise build has no
// consumer loop to run.
func runKafkaConsumer(ctx context.Context, cfg config.Config, runner orchestrator.Runner) error {
	return fmt.Errorf("kafka command bus requires building with -tags enterprise")
}
