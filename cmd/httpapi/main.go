// Command httpapi serves ConversationCore over HTTP (§6): session
// lifecycle, message send (buffered JSON or SSE streaming), and explicit
// agent switch, following the teacher's cmd/agentd/main.go bootstrap shape
// (env load, logger, config, OTel, then one http.ListenAndServe).
package main

import (
	"context"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"clinicalcore/internal/config"
	"clinicalcore/internal/httpapi"
	"clinicalcore/internal/observability"
	"clinicalcore/internal/wiring"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}
	observability.InitLogger("clinicalcore.log", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
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

	api := httpapi.New(app.Core, app.Sessions)
	api.MarkReady()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("clinicalcore httpapi listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, api.Router()); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
