// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHistory_MaxEvents(t *testing.T) {
	h := NewEventHistory(EventHistoryConfig{MaxEvents: 3, MaxAge: time.Hour})

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Add(Event{
			ID:        fmt.Sprintf("ev-%d", i),
			Type:      EventInstanceLog,
			Timestamp: time.Now(),
		}))
	}

	got, err := h.Query(EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Oldest two were dropped.
	assert.Equal(t, "ev-2", got[0].ID)
	assert.Equal(t, "ev-4", got[2].ID)
}

func TestEventHistory_QueryFilters(t *testing.T) {
	h := NewEventHistory(EventHistoryConfig{})
	now := time.Now()

	require.NoError(t, h.Add(Event{ID: "a", Type: EventInstanceState, Project: "local", Timestamp: now.Add(-2 * time.Minute)}))
	require.NoError(t, h.Add(Event{ID: "b", Type: EventBackupCreated, Project: "local", Timestamp: now.Add(-time.Minute)}))
	require.NoError(t, h.Add(Event{ID: "c", Type: EventBackupCreated, Project: "other", Timestamp: now}))

	byType, err := h.Query(EventFilter{Types: []string{"backup.*"}})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byProject, err := h.Query(EventFilter{Project: "local"})
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	since, err := h.Query(EventFilter{Since: now.Add(-90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "b", since[0].ID)

	until, err := h.Query(EventFilter{Until: now.Add(-90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, until, 1)
	assert.Equal(t, "a", until[0].ID)
}

func TestEventHistory_QueryLimitKeepsNewest(t *testing.T) {
	h := NewEventHistory(EventHistoryConfig{})
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Add(Event{
			ID:        fmt.Sprintf("ev-%d", i),
			Type:      EventInstanceLog,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := h.Query(EventFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ev-3", got[0].ID)
	assert.Equal(t, "ev-4", got[1].ID)
}

func TestEventHistory_PruneDropsOldEvents(t *testing.T) {
	h := NewEventHistory(EventHistoryConfig{MaxAge: time.Minute})

	require.NoError(t, h.Add(Event{ID: "old", Type: EventInstanceLog, Timestamp: time.Now().Add(-time.Hour)}))
	require.NoError(t, h.Add(Event{ID: "new", Type: EventInstanceLog, Timestamp: time.Now()}))

	require.NoError(t, h.Prune())

	got, err := h.Query(EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}
