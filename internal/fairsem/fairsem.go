/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fairsem provides a counting semaphore with strict FIFO admission.
// The runtime's channel-based semaphores do not guarantee wakeup order across
// waiters; the media cache depends on arrival order to avoid starving queued
// downloads.
package fairsem

import (
	"context"
	"fmt"
	"sync"
)

// Semaphore admits up to a fixed number of concurrent holders and releases
// queued waiters strictly in arrival order.
type Semaphore struct {
	mu      sync.Mutex
	held    int
	cap     int
	waiters []chan struct{}
}

// New creates a semaphore with the given capacity.
func New(capacity int) *Semaphore {
	if capacity < 1 {
		panic(fmt.Sprintf("fairsem: capacity %d < 1", capacity))
	}
	return &Semaphore{cap: capacity}
}

// Acquire blocks until a slot is free or ctx is cancelled. Waiters are
// admitted in the order they called Acquire.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.held < s.cap && len(s.waiters) == 0 {
		s.held++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// Admitted between cancellation and lock; hand the slot on.
			s.releaseLocked()
			s.mu.Unlock()
			return ctx.Err()
		default:
		}
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// TryAcquire grabs a slot without waiting. It fails if the semaphore is full
// or anyone is already queued, preserving FIFO order.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held < s.cap && len(s.waiters) == 0 {
		s.held++
		return true
	}
	return false
}

// Release frees a slot, admitting the oldest waiter if any.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Semaphore) releaseLocked() {
	if s.held == 0 {
		panic("fairsem: release without acquire")
	}
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}
	s.held--
}
