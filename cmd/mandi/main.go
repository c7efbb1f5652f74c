// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mandi starts the MandiBot API server.
//
// MandiBot answers free-text questions about Indian mandi (agricultural
// market) commodity prices:
//   - Tiered commodity extraction (exact, fuzzy, semantic)
//   - Conversational context carry-over across turns
//   - Day-by-day backward fallback against the data.gov.in price feed
//   - Crop discovery when a query cannot be resolved
//
// Usage:
//
//	go run ./cmd/mandi
//	go run ./cmd/mandi -port 9090
//
// With a custom embedding backend (semantic tier):
//
//	EMBEDDING_SERVICE_URL=http://localhost:11434/api/embed EMBEDDING_MODEL=nomic-embed-text-v2-moe go run ./cmd/mandi
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/mandi/health
//
//	# Ask a question (new session)
//	curl -X POST http://localhost:8080/v1/mandi/ask \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "tomato price in Pune today"}'
//
//	# Continue the conversation
//	curl -X POST http://localhost:8080/v1/mandi/ask \
//	  -H "Content-Type: application/json" \
//	  -d '{"session_id": "<id from previous response>", "query": "what about yesterday?"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/mandibot/services/mandi"
	"github.com/AleutianAI/mandibot/services/mandi/embedding"
	"github.com/AleutianAI/mandibot/services/mandi/lexicon"
	"github.com/AleutianAI/mandibot/services/mandi/market"
	"github.com/AleutianAI/mandibot/services/mandi/query"
	"github.com/AleutianAI/mandibot/services/mandi/retrieval"
	badgerstore "github.com/AleutianAI/mandibot/services/mandi/storage/badger"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagator so trace context flows from inbound
	// headers through every handler.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx := context.Background()
	lex, err := lexicon.Get(ctx)
	if err != nil {
		slog.Error("Failed to load lexicon", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Open the phrase cache BadgerDB. Graceful degradation: if the
	// directory is unavailable the phrase cache runs in-memory-only and
	// re-warms from Ollama on every start.
	var phraseStore embedding.PhraseStore
	cacheDir := os.Getenv("MANDI_CACHE_DIR")
	if cacheDir == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr == nil {
			cacheDir = filepath.Join(home, ".mandibot", "cache", "phrases")
		}
	}
	var phraseDB *badgerstore.DB
	if cacheDir != "" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = cacheDir
		db, dbErr := badgerstore.OpenDB(cfg)
		if dbErr != nil {
			slog.Warn("Phrase cache BadgerDB unavailable, vector persistence disabled",
				slog.String("path", cacheDir),
				slog.String("error", dbErr.Error()),
			)
		} else {
			phraseDB = db
			phraseStore = embedding.NewBadgerPhraseStore(db, slog.Default())
			slog.Info("Phrase cache BadgerDB opened", slog.String("path", cacheDir))
		}
	}

	phraseCache := embedding.NewPhraseCache(slog.Default(), phraseStore)

	// Warm the semantic tier in the background; the server answers in
	// degraded mode (exact + fuzzy only) until it completes.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				slog.Error("Panic in phrase warm-up goroutine recovered",
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)
			}
		}()

		warmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		start := time.Now()
		phrases := embedding.BuildPhrases(lex.Commodities)
		if warmErr := phraseCache.Warm(warmCtx, phrases); warmErr != nil {
			slog.Warn("Phrase warm-up failed, semantic tier disabled",
				slog.String("error", warmErr.Error()),
				slog.Duration("duration", time.Since(start)),
			)
			return
		}
		slog.Info("Phrase warm-up finished",
			slog.Bool("semantic_tier", phraseCache.IsWarmed()),
			slog.Duration("duration", time.Since(start)),
		)
	}()

	extractor := query.NewExtractor(lex, phraseCache, slog.Default())
	resolver := query.NewContextResolver(extractor, slog.Default())

	client := market.NewClient(market.LoadClientConfig(), slog.Default())
	svcCfg := mandi.LoadServiceConfig(slog.Default())
	engine := retrieval.NewEngine(client, slog.Default(),
		retrieval.WithMaxDaysBack(svcCfg.MaxDaysBack),
		retrieval.WithStopAfterFailures(svcCfg.StopAfterFailures),
	)

	svc := mandi.NewService(svcCfg, resolver, engine, phraseCache, slog.Default())
	handlers := mandi.NewHandlers(svc, slog.Default())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("mandibot"))
	if *debug {
		router.Use(gin.Logger())
	}
	mandi.RegisterRoutes(router, handlers)

	printBanner(*port)

	// Graceful shutdown: close the BadgerDB so its value log is flushed.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down MandiBot server")
		if phraseDB != nil {
			if closeErr := phraseDB.Close(); closeErr != nil {
				slog.Warn("Failed to close phrase cache BadgerDB", slog.String("error", closeErr.Error()))
			}
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting MandiBot server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func printBanner(port int) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                         MANDIBOT SERVER                           ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Mandi commodity price answers with conversational context.       ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/mandi/health               │  ║
║  │                                                             │  ║
║  │ # Ask a question                                            │  ║
║  │ curl -X POST http://localhost:%d/v1/mandi/ask \        │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"query": "tomato price in Pune today"}'              │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── POST /v1/mandi/ask          one conversational turn          ║
║  ├── GET  /v1/mandi/sessions/:id session history                  ║
║  ├── GET  /v1/mandi/health       liveness                         ║
║  └── GET  /v1/mandi/ready        semantic tier warm state         ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, port, port)
}
