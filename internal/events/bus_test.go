/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"testing"
)

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventDeviceState)

	bus.Publish(EventDeviceState, Payload{"n": 1})
	select {
	case <-sub:
	default:
		t.Fatal("expected a payload before unsubscribing")
	}

	bus.Unsubscribe(EventDeviceState, sub)
	bus.Publish(EventDeviceState, Payload{"n": 2})
	select {
	case payload := <-sub:
		t.Fatalf("received %v after unsubscribe", payload)
	default:
	}
}

func TestUnsubscribeDuringPublishDoesNotPanic(t *testing.T) {
	bus := NewBus()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				bus.Publish(EventDeviceState, Payload{})
			}
		}
	}()

	// Subscribers churn while the publisher runs; a close in Unsubscribe
	// would panic the publish goroutine.
	for i := 0; i < 1000; i++ {
		sub := bus.Subscribe(EventDeviceState)
		bus.Unsubscribe(EventDeviceState, sub)
	}

	close(done)
	wg.Wait()
}
