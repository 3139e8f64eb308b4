// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package events provides the event sink the UI layer consumes. All core
// components publish state changes here; none of them own UI state.
package events

import (
	"context"
	"time"
)

// Event represents an immutable event record.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Project   string                 `json:"project"`
	Payload   map[string]interface{} `json:"payload"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter for querying event history.
type EventFilter struct {
	Types   []string  // Event types to match (supports wildcards)
	Project string    // Filter by project id
	Since   time.Time // Events after this time
	Until   time.Time // Events before this time
	Limit   int       // Maximum events to return
}

// EventBus is the core event pub/sub system.
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with a buffered channel.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// SetDefaultProject sets the default project id for events that don't
	// specify one.
	SetDefaultProject(project string)

	// Close shuts down the event bus gracefully.
	Close() error
}

// Common event types
const (
	// Instance lifecycle events
	EventInstanceState = "instance.state" // lifecycle state changed
	EventInstancePID   = "instance.pid"   // listener PID discovered or cleared
	EventInstanceLog   = "instance.log"   // single log line or batch

	// Health events
	EventHealthStatus = "health.status"

	// Stack-level orchestration events
	EventStackStarted = "stack.started"
	EventStackStopped = "stack.stopped"

	// Backup events
	EventBackupCreated  = "backup.created"
	EventBackupRestored = "backup.restored"
	EventBackupDeleted  = "backup.deleted"

	// Terminal events
	EventTerminalData    = "terminal.data"
	EventTerminalExit    = "terminal.exit"
	EventTerminalCleared = "terminal.cleared"

	// TLS front proxy events
	EventProxyStatus = "proxy.status"
)
