/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/protocol"
)

// handleEvent applies one agent update event to the replica, republishes it
// on the hub bus, and mirrors progress to the catalog.
func (s *Session) handleEvent(ctx context.Context, frame protocol.Frame) {
	decode := func(dst any) bool {
		if err := json.Unmarshal(frame.Params, dst); err != nil {
			s.logger.Warn().Err(err).Str("method", frame.Method).Msg("bad event params")
			return false
		}
		return true
	}

	switch frame.Method {
	case protocol.EventStatus:
		var update protocol.StatusUpdate
		if !decode(&update) {
			return
		}
		s.applyStatus(ctx, update.Status)
		s.publishState(events.EventStatusUpdate)

	case protocol.EventStatusMessage:
		var update protocol.StatusMessageUpdate
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		s.dev.StatusMessage = update.Message
		s.mu.Unlock()
		s.publishState(events.EventStatusMessageUpdate)

	case protocol.EventCurrentItem:
		var update protocol.CurrentItemUpdate
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		s.dev.CurrentIndex = nil
		for i := range s.dev.Queue {
			if s.dev.Queue[i].ID == update.ID {
				idx := i
				s.dev.CurrentIndex = &idx
				break
			}
		}
		s.mu.Unlock()
		s.publishState(events.EventCurrentItemUpdate)

	case protocol.EventCurrentTime:
		var update protocol.TimeUpdate
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		s.dev.CurrentTime = update.Time
		status := s.dev.Status
		s.mu.Unlock()
		s.publishState(events.EventCurrentTimeUpdate)
		if status == models.StatusPlaying || status == models.StatusPaused {
			s.reportProgress(ctx, "TimeUpdate", false)
		}

	case protocol.EventStartTime:
		var update protocol.TimeUpdate
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		if item := s.dev.CurrentItem(); item != nil {
			item.StartTime = update.Time
		}
		s.mu.Unlock()
		s.publishState(events.EventStartTimeUpdate)

	case protocol.EventRepeatMode:
		var update protocol.RepeatModeParams
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		s.dev.Repeat = update.Mode
		s.mu.Unlock()
		s.publishState(events.EventRepeatModeUpdate)

	case protocol.EventVolume:
		var update protocol.VolumeParams
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		s.dev.Volume = update.Level
		s.mu.Unlock()
		s.publishState(events.EventVolumeUpdate)

	case protocol.EventMuted:
		var update protocol.MutedUpdate
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		s.dev.Muted = update.Muted
		s.mu.Unlock()
		s.publishState(events.EventMutedUpdate)

	case protocol.EventPlaybackRate:
		var update protocol.RateParams
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		s.dev.PlaybackRate = update.Rate
		s.mu.Unlock()
		s.publishState(events.EventPlaybackRateUpdate)

	case protocol.EventItemsAdded:
		var update protocol.ItemsAddedUpdate
		if !decode(&update) {
			return
		}
		s.applyItemsAdded(update)
		s.publishState(events.EventItemsAdded)

	case protocol.EventItemsRemoved:
		var update protocol.IDsParams
		if !decode(&update) {
			return
		}
		s.applyItemsRemoved(update.IDs)
		s.publishState(events.EventItemsRemoved)

	case protocol.EventItemsMovedUp:
		var update protocol.IDsParams
		if !decode(&update) {
			return
		}
		s.applyItemsMoved(update.IDs, -1)
		s.publishState(events.EventItemsMovedUp)

	case protocol.EventItemsMovedDown:
		var update protocol.IDsParams
		if !decode(&update) {
			return
		}
		s.applyItemsMoved(update.IDs, 1)
		s.publishState(events.EventItemsMovedDown)

	case protocol.EventItemsCleared:
		s.mu.Lock()
		s.dev.Queue = nil
		s.dev.CurrentIndex = nil
		s.mu.Unlock()
		s.publishState(events.EventItemsCleared)

	case protocol.EventQueueReordered:
		var update protocol.QueueUpdate
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		currentID := ""
		if item := s.dev.CurrentItem(); item != nil {
			currentID = item.ID
		}
		s.dev.Queue = update.Items
		s.dev.CurrentIndex = nil
		for i := range s.dev.Queue {
			if s.dev.Queue[i].ID == currentID {
				idx := i
				s.dev.CurrentIndex = &idx
				break
			}
		}
		s.mu.Unlock()
		s.publishState(events.EventQueueReordered)

	case protocol.EventCacheStatus:
		var update protocol.CacheStatusUpdate
		if !decode(&update) {
			return
		}
		s.mu.Lock()
		for i := range s.dev.Queue {
			if s.dev.Queue[i].ID == update.ID {
				s.dev.Queue[i].CachedRatio = update.Ratio
			}
		}
		s.mu.Unlock()
		s.bus.Publish(events.EventCacheStatus, events.Payload{
			"device": s.Name,
			"id":     update.ID,
			"status": update.Status,
			"ratio":  update.Ratio,
		})

	default:
		s.logger.Debug().Str("method", frame.Method).Msg("unknown agent event")
	}
}

// applyStatus updates the replica status and mirrors the transition to the
// catalog and the history store.
func (s *Session) applyStatus(ctx context.Context, status models.PlaybackStatus) {
	s.mu.Lock()
	s.dev.Status = status
	s.dev.LastStateUpdate = time.Now()
	item := s.dev.CurrentItem()
	var itemCopy *models.MediaItem
	if item != nil {
		copied := *item
		itemCopy = &copied
	}
	s.mu.Unlock()

	switch status {
	case models.StatusStarting:
		if s.history != nil && itemCopy != nil {
			if err := s.history.Started(ctx, s.Name, *itemCopy); err != nil {
				s.logger.Warn().Err(err).Msg("history start failed")
			}
		}
		// Starting maps to no catalog event.

	case models.StatusPlaying, models.StatusPaused:
		s.reportProgress(ctx, "TimeUpdate", false)

	case models.StatusPausing:
		s.reportProgress(ctx, "Pause", false)

	case models.StatusUnpausing:
		s.reportProgress(ctx, "Unpause", false)

	case models.StatusFinishing:
		// Position pinned to the full runtime for the final report.
		s.reportProgress(ctx, "TimeUpdate", true)
		if s.catalog != nil && itemCopy != nil {
			if err := s.catalog.MarkPlayed(ctx, itemCopy.ID, itemCopy.User); err != nil {
				s.logger.Warn().Err(err).Msg("mark played failed")
			}
		}
		if s.history != nil {
			if err := s.history.Finished(ctx, s.Name, true); err != nil {
				s.logger.Warn().Err(err).Msg("history finish failed")
			}
		}

	case models.StatusStopping:
		s.reportStopped(ctx)
		if s.history != nil {
			if err := s.history.Finished(ctx, s.Name, false); err != nil {
				s.logger.Warn().Err(err).Msg("history finish failed")
			}
		}
	}
}

// progressRecord builds the catalog progress record from the replica.
func (s *Session) progressRecord(pinToRuntime bool) (models.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.dev.CurrentItem()
	if item == nil {
		return models.Progress{}, false
	}

	position := s.dev.CurrentTime
	if pinToRuntime {
		position = item.Runtime
	}

	method := models.PlayMethodDirect
	if item.Cache && item.CachedRatio >= 1 {
		method = models.PlayMethodCached
	}

	return models.Progress{
		ItemID:        item.ID,
		PositionTicks: models.DurationToTicks(position),
		VolumeLevel:   int(s.dev.Volume * 100),
		IsMuted:       s.dev.Muted,
		IsPaused:      s.dev.Status == models.StatusPaused || s.dev.Status == models.StatusPausing,
		PlaybackRate:  s.dev.PlaybackRate,
		PlayMethod:    method,
	}, true
}

func (s *Session) reportProgress(ctx context.Context, eventName string, pinToRuntime bool) {
	if s.catalog == nil {
		return
	}
	progress, ok := s.progressRecord(pinToRuntime)
	if !ok {
		return
	}
	progress.EventName = eventName

	if s.history != nil {
		if err := s.history.Progress(ctx, s.Name, progress.PositionTicks); err != nil {
			s.logger.Debug().Err(err).Msg("history progress failed")
		}
	}
	if err := s.catalog.ReportProgress(ctx, progress); err != nil {
		s.logger.Warn().Err(err).Str("event", eventName).Msg("progress report failed")
	}
}

func (s *Session) reportStopped(ctx context.Context) {
	if s.catalog == nil {
		return
	}
	progress, ok := s.progressRecord(false)
	if !ok {
		return
	}
	if err := s.catalog.ReportStopped(ctx, progress); err != nil {
		s.logger.Warn().Err(err).Msg("stopped report failed")
	}
}

func (s *Session) applyItemsAdded(update protocol.ItemsAddedUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Launch {
		s.dev.Queue = update.Items
		idx := 0
		if len(update.Items) == 0 {
			s.dev.CurrentIndex = nil
		} else {
			s.dev.CurrentIndex = &idx
		}
		return
	}

	at := len(s.dev.Queue)
	if update.InsertBeforeID != nil {
		for i := range s.dev.Queue {
			if s.dev.Queue[i].ID == *update.InsertBeforeID {
				at = i
				break
			}
		}
	}
	s.dev.Queue = append(s.dev.Queue[:at], append(append([]models.MediaItem(nil), update.Items...), s.dev.Queue[at:]...)...)
	if s.dev.CurrentIndex != nil && at <= *s.dev.CurrentIndex {
		idx := *s.dev.CurrentIndex + len(update.Items)
		s.dev.CurrentIndex = &idx
	}
}

// applyItemsMoved replays a move event on the replica: one adjacent swap per
// moved item, blocked groups staying put, same pass the device runs.
func (s *Session) applyItemsMoved(ids []string, dir int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moving := make(map[string]bool, len(ids))
	for _, id := range ids {
		moving[id] = true
	}
	currentID := ""
	if item := s.dev.CurrentItem(); item != nil {
		currentID = item.ID
	}

	q := s.dev.Queue
	if dir < 0 {
		for i := 1; i < len(q); i++ {
			if moving[q[i].ID] && !moving[q[i-1].ID] {
				q[i], q[i-1] = q[i-1], q[i]
			}
		}
	} else {
		for i := len(q) - 2; i >= 0; i-- {
			if moving[q[i].ID] && !moving[q[i+1].ID] {
				q[i], q[i+1] = q[i+1], q[i]
			}
		}
	}

	s.dev.CurrentIndex = nil
	for i := range s.dev.Queue {
		if s.dev.Queue[i].ID == currentID {
			idx := i
			s.dev.CurrentIndex = &idx
			break
		}
	}
}

func (s *Session) applyItemsRemoved(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	currentID := ""
	if item := s.dev.CurrentItem(); item != nil {
		currentID = item.ID
	}

	kept := s.dev.Queue[:0]
	for _, item := range s.dev.Queue {
		if !drop[item.ID] {
			kept = append(kept, item)
		}
	}
	s.dev.Queue = kept

	s.dev.CurrentIndex = nil
	for i := range s.dev.Queue {
		if s.dev.Queue[i].ID == currentID {
			idx := i
			s.dev.CurrentIndex = &idx
			break
		}
	}
}

// publishState fans the updated replica out on the hub bus.
func (s *Session) publishState(eventType events.EventType) {
	snapshot := s.Device()
	payload := events.Payload{"device": snapshot}
	s.bus.Publish(events.EventDeviceState, payload)
	if eventType != events.EventDeviceState {
		s.bus.Publish(eventType, payload)
	}
}
