// Package wiring builds one fully-constructed ConversationCore from a
// config.Config, shared by every front door (HTTP, Kafka) so each cmd/ entry
// point stays a thin adapter over the same collaborator graph, the way the
// teacher's cmd/agentd/main.go assembles one Engine behind its mux.
package wiring

import (
	"context"

	"clinicalcore/internal/agentregistry"
	"clinicalcore/internal/clinical"
	"clinicalcore/internal/config"
	"clinicalcore/internal/contextwindow"
	"clinicalcore/internal/conversation"
	"clinicalcore/internal/llm/providers"
	"clinicalcore/internal/observability"
	"clinicalcore/internal/routing"
	"clinicalcore/internal/session"
	"clinicalcore/internal/sessionmgr"
)

// App bundles the wired Core and SessionManager plus anything a front door
// needs to shut down cleanly.
type App struct {
	Core     *conversation.Core
	Sessions *sessionmgr.Manager
	Close    func()
}

// Build constructs the full collaborator graph from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := session.Build(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	closeStore := func() {}
	if c, ok := store.(session.Closer); ok {
		closeStore = c.Close
	}

	httpClient := observability.NewHTTPClient(nil)
	agents, err := agentregistry.Build(cfg, httpClient)
	if err != nil {
		closeStore()
		return nil, err
	}

	classifier, err := providers.Build(cfg, httpClient)
	if err != nil {
		// The classifier only sharpens routing/summarization/entity
		// extraction (§4.5/§4.3/§4.4 all degrade gracefully without a
		// model); a misconfigured default provider should not stop the
		// process from serving keyword-level routing and verbatim context.
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("classifier_provider_unavailable_degrading_to_heuristics")
		classifier = nil
	}
	classifierModel := cfg.DefaultProvider

	var summaryCache contextwindow.SummaryCache
	if cache, ok := contextwindow.NewRedisSummaryCache(cfg.Redis); ok {
		summaryCache = cache
	}
	contextMgr := contextwindow.New(cfg.Context, classifier, classifierModel, summaryCache)

	metadata := clinical.NewMetadataCollector(nil)
	edgecase := clinical.NewEdgeCaseDetector(nil, nil, nil, cfg.Risk.SafeTurnsThreshold)

	var entities *clinical.EntityExtractor
	if classifier != nil {
		entities = clinical.NewEntityExtractor(classifier, classifierModel, nil)
	}

	router := routing.New(cfg.Routing, classifier, classifierModel)
	dynOrch := routing.NewDynamicOrchestrator(cfg.Routing, router)

	sessions := sessionmgr.New(store)
	core := conversation.New(cfg, store, sessions, nil, contextMgr, metadata, edgecase, entities, agents, router, dynOrch)

	return &App{Core: core, Sessions: sessions, Close: closeStore}, nil
}
