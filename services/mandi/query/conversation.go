// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import "github.com/google/uuid"

// Role identifies who produced a conversation turn.
type Role string

const (
	// RoleUser marks a turn typed by the user.
	RoleUser Role = "user"

	// RoleAssistant marks a turn produced by the engine.
	RoleAssistant Role = "assistant"
)

// Turn is a single conversation turn with the entities resolved for it.
type Turn struct {
	// Role is who produced this turn.
	Role Role `json:"role"`

	// Content is the turn's text.
	Content string `json:"content"`

	// Meta holds the entities resolved for this turn. Zero value for
	// turns that carry no metadata (e.g. the greeting).
	Meta Entities `json:"meta"`
}

// Conversation is an append-only, ordered sequence of turns for one
// interactive session.
//
// Description:
//
//	Insertion order is chronological order; turns are never reordered or
//	deleted. Lifetime is one session — there is no durable persistence.
//
//	Only one turn is ever in flight per session, so the store carries no
//	lock of its own. Callers that multiplex sessions (the HTTP service)
//	serialize access per session.
type Conversation struct {
	id    string
	turns []Turn
}

// NewConversation creates an empty conversation with a fresh session ID.
func NewConversation() *Conversation {
	return &Conversation{id: uuid.NewString()}
}

// ID returns the session ID.
func (c *Conversation) ID() string { return c.id }

// Append adds a turn to the end of the conversation.
func (c *Conversation) Append(t Turn) {
	c.turns = append(c.turns, t)
}

// Turns returns the turns in chronological order. The returned slice is
// shared with the store; callers must not mutate it.
func (c *Conversation) Turns() []Turn { return c.turns }

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }
