// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventBus_Publish(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	event := Event{
		Type:    EventInstanceState,
		Payload: map[string]interface{}{"instance": "author"},
	}

	err := bus.Publish(context.Background(), event)
	assert.NoError(t, err)
}

func TestMemoryEventBus_Publish_AssignsIDAndProject(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()
	bus.SetDefaultProject("local")

	var received Event
	_, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		received = e
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), Event{Type: EventInstanceState})
	require.NoError(t, err)

	assert.NotEmpty(t, received.ID)
	assert.Equal(t, "local", received.Project)
	assert.False(t, received.Timestamp.IsZero())
}

func TestMemoryEventBus_Publish_KeepsExplicitProject(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()
	bus.SetDefaultProject("local")

	var received Event
	_, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		received = e
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), Event{Type: EventInstanceState, Project: "other"})
	require.NoError(t, err)
	assert.Equal(t, "other", received.Project)
}

func TestMemoryEventBus_Subscribe(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	received := make(chan Event, 1)

	_, err := bus.Subscribe(EventBackupCreated, func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	event := Event{Type: EventBackupCreated, Payload: map[string]interface{}{"name": "nightly"}}
	err = bus.Publish(context.Background(), event)
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, EventBackupCreated, e.Type)
		assert.Equal(t, "nightly", e.Payload["name"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestMemoryEventBus_Subscribe_PatternMatching(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	var count int32
	_, err := bus.Subscribe("instance.*", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)

	for _, typ := range []string{
		EventInstanceState,
		EventInstancePID,
		EventInstanceLog,
		EventBackupCreated, // should not match
	} {
		require.NoError(t, bus.Publish(context.Background(), Event{Type: typ}))
	}

	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestMemoryEventBus_SubscribeAsync(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	received := make(chan Event, 10)
	_, err := bus.SubscribeAsync(EventTerminalData, func(ctx context.Context, e Event) error {
		received <- e
		return nil
	}, 10)
	require.NoError(t, err)

	err = bus.Publish(context.Background(), Event{Type: EventTerminalData})
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, EventTerminalData, e.Type)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async event")
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	var count int32
	id, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventInstanceState}))
	require.NoError(t, bus.Unsubscribe(id))
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventInstanceState}))

	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestMemoryEventBus_Unsubscribe_Unknown(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	err := bus.Unsubscribe(SubscriptionID("nope"))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestMemoryEventBus_HandlerPanicDoesNotKillBus(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	_, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		panic("handler exploded")
	})
	require.NoError(t, err)

	assert.NoError(t, bus.Publish(context.Background(), Event{Type: EventInstanceState}))
	assert.NoError(t, bus.Publish(context.Background(), Event{Type: EventInstanceState}))
}

func TestMemoryEventBus_History(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{HistoryMaxEvents: 100})
	defer bus.Close()

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventInstanceState}))
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventBackupCreated}))

	all, err := bus.History(EventFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	backups, err := bus.History(EventFilter{Types: []string{"backup.*"}})
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, EventBackupCreated, backups[0].Type)
}

func TestMemoryEventBus_ClosedBusRejectsOperations(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), Event{Type: EventInstanceState})
	assert.ErrorIs(t, err, ErrBusClosed)

	_, err = bus.Subscribe("*", func(ctx context.Context, e Event) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)

	// Double close is a no-op.
	assert.NoError(t, bus.Close())
}
