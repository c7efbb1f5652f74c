// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mandi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/mandibot/services/mandi/embedding"
	"github.com/AleutianAI/mandibot/services/mandi/query"
	"github.com/AleutianAI/mandibot/services/mandi/retrieval"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	askTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Subsystem: "service",
		Name:      "ask_total",
		Help:      "Answers by kind: prices, suggestions, discovery, no_data",
	}, []string{"kind"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mandi",
		Subsystem: "service",
		Name:      "active_sessions",
		Help:      "Conversations currently held in memory",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var serviceTracer = otel.Tracer("mandibot.service")

// =============================================================================
// Suggester
// =============================================================================

// Suggester provides nearest-neighbour phrase suggestions for queries
// where no commodity resolved. Implemented by embedding.PhraseCache.
type Suggester interface {
	// TopK returns up to k best-matching template phrases, best first.
	// Nil when the backend cannot score; that is not an error.
	TopK(ctx context.Context, q string, k int) []embedding.PhraseScore

	// IsWarmed reports whether suggestions (and the semantic extraction
	// tier) are available.
	IsWarmed() bool
}

// =============================================================================
// Request / Response
// =============================================================================

// AskRequest is one user turn.
type AskRequest struct {
	// SessionID continues an existing conversation; "" starts a new one.
	SessionID string `json:"session_id"`

	// Query is the raw user text. Must be non-empty.
	Query string `json:"query"`

	// SidebarLocation is an out-of-band location preference. Applied
	// only when the turn and its history resolve no location.
	SidebarLocation string `json:"sidebar_location,omitempty"`

	// SidebarDate is an out-of-band date preference. Applied only when
	// the turn's text carried no date cue and the merge produced the
	// "Today" default.
	SidebarDate time.Time `json:"sidebar_date,omitempty"`
}

// AskResponse is the answer to one turn.
type AskResponse struct {
	// SessionID identifies the conversation; echo it back to continue.
	SessionID string `json:"session_id"`

	// Answer is the rendered response text.
	Answer string `json:"answer"`

	// Meta is what the engine understood and used for this turn.
	Meta query.Entities `json:"meta"`
}

// =============================================================================
// Service
// =============================================================================

// session wraps one conversation with its own lock. Only one turn is in
// flight per session; the lock enforces that against misbehaving clients.
type session struct {
	mu   sync.Mutex
	conv *query.Conversation
}

// Service orchestrates one turn end to end: resolve the query, retrieve
// records, format the answer, and update the conversation.
//
// Description:
//
//	Conversations live for the process lifetime only. The sessions map
//	is guarded by its own mutex because the HTTP server is concurrent
//	across different sessions; within a session, turns are serialized.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg       ServiceConfig
	resolver  *query.ContextResolver
	engine    *retrieval.Engine
	suggester Suggester
	clock     func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the service's notion of "now". Used in tests.
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService creates the orchestration façade.
//
// Inputs:
//
//	cfg       - Service configuration.
//	resolver  - Context resolver. Must not be nil.
//	engine    - Retrieval engine. Must not be nil.
//	suggester - Phrase suggester. Nil disables suggestions; unresolved
//	            commodities go straight to discovery.
//	logger    - Logger instance. Nil uses slog.Default().
//
// Outputs:
//
//	*Service - The constructed service. Never nil.
func NewService(cfg ServiceConfig, resolver *query.ContextResolver, engine *retrieval.Engine, suggester Suggester, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:       cfg,
		resolver:  resolver,
		engine:    engine,
		suggester: suggester,
		clock:     time.Now,
		logger:    logger,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether the semantic tier is available. The service
// answers (degraded) either way; readiness is informational.
func (s *Service) Ready() bool {
	return s.suggester != nil && s.suggester.IsWarmed()
}

// Ask answers one user turn.
//
// Description:
//
//	The full flow: resolve (extraction + history carry-over + sidebar
//	overrides), retrieve with backward fallback, then pick the answer
//	shape — prices, did-you-mean suggestions, discovery listing, or a
//	plain no-data message. A response is always produced; upstream
//	failures degrade the answer rather than erroring the turn.
//
// Inputs:
//
//	ctx - Context for retrieval and embedding calls.
//	req - The turn. Query must be non-empty.
//
// Outputs:
//
//	AskResponse - Answer text, session ID, and the resolved metadata.
//	error       - Non-nil only for an empty query or an unknown session.
//
// Thread Safety: Safe for concurrent use; turns within one session are
// serialized.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	ctx, span := serviceTracer.Start(ctx, "mandi.Service.Ask")
	defer span.End()

	if strings.TrimSpace(req.Query) == "" {
		return AskResponse{}, fmt.Errorf("mandi: empty query")
	}

	sess, created, err := s.getOrCreateSession(req.SessionID)
	if err != nil {
		return AskResponse{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	span.SetAttributes(
		attribute.String("session_id", sess.conv.ID()),
		attribute.Bool("session_created", created),
	)

	ref := s.clock()
	history := sess.conv.Turns()
	resolved := s.resolver.Resolve(ctx, req.Query, history, ref)
	s.applyOverrides(&resolved, req, ref)

	answer, kind, resolved := s.answer(ctx, req.Query, resolved)
	askTotal.WithLabelValues(kind).Inc()
	span.SetAttributes(
		attribute.String("answer_kind", kind),
		attribute.String("commodity", resolved.Commodity),
		attribute.String("date_label", resolved.DateLabel),
	)

	sess.conv.Append(query.Turn{Role: query.RoleUser, Content: req.Query})
	sess.conv.Append(query.Turn{Role: query.RoleAssistant, Content: answer, Meta: resolved})

	s.logger.Info("turn answered",
		slog.String("session_id", sess.conv.ID()),
		slog.String("kind", kind),
		slog.String("commodity", resolved.Commodity),
		slog.String("date_label", resolved.DateLabel),
	)

	return AskResponse{
		SessionID: sess.conv.ID(),
		Answer:    answer,
		Meta:      resolved,
	}, nil
}

// History returns the turns of an existing session.
func (s *Service) History(sessionID string) ([]query.Turn, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mandi: unknown session %q", sessionID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	turns := sess.conv.Turns()
	out := make([]query.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// getOrCreateSession looks up a session or starts a fresh conversation.
func (s *Service) getOrCreateSession(id string) (*session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		sess, ok := s.sessions[id]
		if !ok {
			return nil, false, fmt.Errorf("mandi: unknown session %q", id)
		}
		return sess, false, nil
	}

	conv := query.NewConversation()
	sess := &session{conv: conv}
	s.sessions[conv.ID()] = sess
	activeSessions.Set(float64(len(s.sessions)))
	return sess, true, nil
}

// applyOverrides folds the out-of-band sidebar preferences into the
// resolved entities. Location applies only when nothing resolved one;
// date applies only when the turn had no textual date cue and the merge
// fell through to the "Today" default.
func (s *Service) applyOverrides(resolved *query.Entities, req AskRequest, ref time.Time) {
	if req.SidebarLocation != "" && len(resolved.Locations) == 0 {
		resolved.Locations = []string{req.SidebarLocation}
	}

	if req.SidebarDate.IsZero() {
		return
	}
	if _, cue := query.ResolveDate(req.Query, ref); cue != "" {
		return
	}
	if resolved.DateLabel != "Today" {
		return
	}
	resolved.DateFilter = req.SidebarDate
	switch {
	case query.SameDay(req.SidebarDate, ref):
		resolved.DateLabel = "Today"
	case query.SameDay(req.SidebarDate, ref.AddDate(0, 0, -1)):
		resolved.DateLabel = "Yesterday"
	default:
		resolved.DateLabel = req.SidebarDate.Format(query.ExplicitDateLabel)
	}
}

// answer picks and renders the response shape for a resolved turn. It
// returns the (possibly updated) entities so the conversation records the
// date actually used, not just the one asked for.
func (s *Service) answer(ctx context.Context, rawQuery string, resolved query.Entities) (string, string, query.Entities) {
	if resolved.Commodity != "" {
		result, err := s.engine.Retrieve(ctx, resolved.Commodity, resolved.Locations, resolved.DateFilter)
		if err != nil {
			s.logger.Warn("retrieval aborted",
				slog.String("commodity", resolved.Commodity),
				slog.String("error", err.Error()),
			)
		}
		if len(result.Records) > 0 {
			resolved.DateFilter = result.DateUsed
			resolved.DateLabel = result.DateLabel
			return retrieval.FormatPriceResponse(resolved.Commodity, result.DateLabel, result.Records), "prices", resolved
		}
		return s.discover(ctx, resolved)
	}

	if s.suggester != nil {
		if suggestions := s.suggester.TopK(ctx, rawQuery, s.cfg.SuggestionCount); len(suggestions) > 0 {
			phrases := make([]string, 0, len(suggestions))
			for _, sg := range suggestions {
				phrases = append(phrases, sg.Phrase)
			}
			return retrieval.FormatSuggestions(phrases), "suggestions", resolved
		}
	}

	return s.discover(ctx, resolved)
}

// discover runs the commodity-agnostic fallback and renders either the
// crops-available listing or the plain no-data message.
func (s *Service) discover(ctx context.Context, resolved query.Entities) (string, string, query.Entities) {
	locLabel := retrieval.LocationLabel(resolved.Locations)

	result, err := s.engine.Retrieve(ctx, "", resolved.Locations, resolved.DateFilter)
	if err != nil {
		s.logger.Warn("discovery aborted", slog.String("error", err.Error()))
	}
	if len(result.Records) > 0 {
		resolved.DateFilter = result.DateUsed
		resolved.DateLabel = result.DateLabel
		listings := retrieval.DistinctCommodities(result.Records, s.cfg.DiscoveryLimit)
		return retrieval.FormatDiscovery(locLabel, listings), "discovery", resolved
	}
	return retrieval.FormatNoData(locLabel), "no_data", resolved
}
