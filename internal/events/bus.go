/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Full device snapshot, published on every engine state mutation.
	EventDeviceState EventType = "device.state"

	// Connection lifecycle events published by the hub registry.
	EventDeviceConnected    EventType = "device.connected"
	EventDeviceDisconnected EventType = "device.disconnected"
	EventDeviceUnreachable  EventType = "device.unreachable"

	// Per-field update events mirrored from the agent.
	EventStatusUpdate        EventType = "device.status"
	EventStatusMessageUpdate EventType = "device.status_message"
	EventCurrentItemUpdate   EventType = "device.current_item"
	EventCurrentTimeUpdate   EventType = "device.current_time"
	EventStartTimeUpdate     EventType = "device.start_time"
	EventRepeatModeUpdate    EventType = "device.repeat_mode"
	EventVolumeUpdate        EventType = "device.volume"
	EventMutedUpdate         EventType = "device.muted"
	EventPlaybackRateUpdate  EventType = "device.playback_rate"

	// Queue edit events (incremental, unlike the snapshot events above).
	EventItemsAdded     EventType = "queue.items_added"
	EventItemsRemoved   EventType = "queue.items_removed"
	EventItemsMovedUp   EventType = "queue.items_moved_up"
	EventItemsMovedDown EventType = "queue.items_moved_down"
	EventItemsCleared   EventType = "queue.items_cleared"
	EventQueueReordered EventType = "queue.reordered"

	// Cache progress for a queue item.
	EventCacheStatus EventType = "cache.status"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop events rather
// than blocking the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber. The channel is left open: a Publish
// running from its pre-removal snapshot may still send, so closing here would
// panic the publisher. Readers exit through their own context instead.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
}
