/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine owns the authoritative playback state of one device: the
// media queue, the current item, and the state machine driving the external
// player process.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/mediacache"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/player"
)

// Player is the control surface of the external player process.
type Player interface {
	Start(ctx context.Context, location string, offset time.Duration, hooks player.Hooks) error
	Alive() bool
	TogglePause() error
	Seek(target time.Duration) error
	SetRate(rate float64) error
	SetVolume(percent int) error
	RequestPosition() error
	Stop() error
}

// Cache is the subset of the media cache the engine drives.
type Cache interface {
	GetCacheItem(ctx context.Context, item models.MediaItem, format models.CacheFormat) (mediacache.ItemInfo, models.CacheStatus)
	CancelCaching(mediaID string, format models.CacheFormat)
}

// Config configures an Engine.
type Config struct {
	DeviceName string
	Version    int
	Player     Player
	Cache      Cache // optional
	Bus        *events.Bus
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Engine is the per-device playback state machine. All mutating methods take
// the single device lock so the queue and current index are always observed
// consistently together.
type Engine struct {
	player Player
	cache  Cache
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time

	ctx context.Context

	mu  sync.Mutex
	dev *models.Device
	// gen invalidates player hooks from an earlier launch after a relaunch.
	gen int
}

// New constructs the engine with an empty queue and stopped player.
func New(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		player: cfg.Player,
		cache:  cfg.Cache,
		bus:    cfg.Bus,
		logger: cfg.Logger.With().Str("component", "engine").Logger(),
		now:    cfg.Now,
		ctx:    context.Background(),
		dev: &models.Device{
			Name:         cfg.DeviceName,
			Version:      cfg.Version,
			Volume:       1,
			PlaybackRate: 1,
			Status:       models.StatusStopped,
			Repeat:       models.RepeatOff,
		},
	}
}

// Run drives the periodic ticks until ctx is cancelled: a fast tick advancing
// the shadow position while playing and a slow tick reconciling against the
// player's authoritative position.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	shadow := time.NewTicker(time.Second)
	reconcile := time.NewTicker(10 * time.Second)
	defer shadow.Stop()
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return
		case <-shadow.C:
			e.advanceShadowTime()
		case <-reconcile.C:
			if e.player.Alive() {
				if err := e.player.RequestPosition(); err != nil {
					e.logger.Debug().Err(err).Msg("position request failed")
				}
			}
		}
	}
}

// Snapshot returns a deep copy of the device state.
func (e *Engine) Snapshot() *models.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev.Clone()
}

// Play resumes a paused item in-process when possible, otherwise launches the
// current item from scratch.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if (e.dev.Status == models.StatusPaused || e.dev.Status == models.StatusPausing) && e.player.Alive() {
		e.setStatusLocked(models.StatusUnpausing)
		if err := e.player.TogglePause(); err != nil {
			e.logger.Error().Err(err).Msg("unpause failed")
			return e.startLocked()
		}
		e.setStatusLocked(models.StatusPlaying)
		return nil
	}

	if e.dev.CurrentItem() == nil {
		if len(e.dev.Queue) == 0 {
			return fmt.Errorf("queue is empty")
		}
		idx := 0
		e.dev.CurrentIndex = &idx
	}
	return e.startLocked()
}

// Stop stops playback and resets the position.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() error {
	if e.dev.Status == models.StatusStopped {
		return nil
	}
	e.setStatusLocked(models.StatusStopping)
	e.gen++
	if e.player.Alive() {
		if err := e.player.Stop(); err != nil {
			e.logger.Error().Err(err).Msg("player stop failed")
		}
	}
	e.dev.CurrentTime = 0
	e.setStatusLocked(models.StatusStopped)
	return nil
}

// Pause pauses playback. Only valid while playing.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dev.Status != models.StatusPlaying {
		return fmt.Errorf("cannot pause from %q", e.dev.Status)
	}
	e.setStatusLocked(models.StatusPausing)
	if err := e.player.TogglePause(); err != nil {
		e.logger.Error().Err(err).Msg("pause failed")
		return err
	}
	e.setStatusLocked(models.StatusPaused)
	return nil
}

// Next advances to the following queue item and relaunches playback.
func (e *Engine) Next() error {
	return e.jump(1)
}

// Previous steps back one queue item and relaunches playback.
func (e *Engine) Previous() error {
	return e.jump(-1)
}

func (e *Engine) jump(delta int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.dev.Queue) == 0 {
		return fmt.Errorf("queue is empty")
	}
	idx := 0
	if e.dev.CurrentIndex != nil {
		idx = *e.dev.CurrentIndex + delta
	}
	idx = clampIndex(idx, len(e.dev.Queue))
	e.dev.CurrentIndex = &idx
	return e.startLocked()
}

// Seek jumps to an absolute position, clamped into the current item's runtime.
func (e *Engine) Seek(target time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekLocked(target)
}

// SeekRelative moves the position by delta, clamped into the item's runtime.
func (e *Engine) SeekRelative(delta time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekLocked(e.dev.CurrentTime + delta)
}

func (e *Engine) seekLocked(target time.Duration) error {
	item := e.dev.CurrentItem()
	if item == nil {
		return fmt.Errorf("no current item")
	}
	if target < 0 {
		target = 0
	}
	if target > item.Runtime {
		target = item.Runtime
	}

	if e.player.Alive() {
		if err := e.player.Seek(target); err != nil {
			e.logger.Error().Err(err).Msg("seek failed")
		}
	}
	e.dev.CurrentTime = target
	e.broadcastLocked(events.EventCurrentTimeUpdate)
	return nil
}

// ChangeCurrentMedia selects the queue item with the given id and relaunches.
func (e *Engine) ChangeCurrentMedia(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.dev.Queue {
		if e.dev.Queue[i].ID == id {
			idx := i
			e.dev.CurrentIndex = &idx
			return e.startLocked()
		}
	}
	return fmt.Errorf("item %q not in queue", id)
}

// ChangeRepeatMode switches the repeat mode. Selecting shuffle reshuffles the
// queue, keeping the current item selected.
func (e *Engine) ChangeRepeatMode(mode models.RepeatMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !models.ValidRepeatMode(mode) {
		return fmt.Errorf("unknown repeat mode %q", mode)
	}
	e.dev.Repeat = mode
	if mode == models.RepeatShuffle {
		e.shuffleLocked()
		e.broadcastLocked(events.EventRepeatModeUpdate, events.EventQueueReordered)
		return nil
	}
	e.broadcastLocked(events.EventRepeatModeUpdate)
	return nil
}

func (e *Engine) shuffleLocked() {
	currentID := ""
	if item := e.dev.CurrentItem(); item != nil {
		currentID = item.ID
	}
	rand.Shuffle(len(e.dev.Queue), func(i, j int) {
		e.dev.Queue[i], e.dev.Queue[j] = e.dev.Queue[j], e.dev.Queue[i]
	})
	e.reindexLocked(currentID)
}

// SetPlaybackRate changes the playback speed.
func (e *Engine) SetPlaybackRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rate <= 0 {
		return fmt.Errorf("playback rate must be positive")
	}
	e.dev.PlaybackRate = rate
	if e.player.Alive() {
		if err := e.player.SetRate(rate); err != nil {
			e.logger.Error().Err(err).Msg("rate change failed")
		}
	}
	e.broadcastLocked(events.EventPlaybackRateUpdate)
	return nil
}

// SetVolume sets the volume level in [0,1].
func (e *Engine) SetVolume(level float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	e.dev.Volume = level
	e.applyVolumeLocked()
	e.broadcastLocked(events.EventVolumeUpdate)
	return nil
}

// ToggleMute flips the muted flag.
func (e *Engine) ToggleMute() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dev.Muted = !e.dev.Muted
	e.applyVolumeLocked()
	e.broadcastLocked(events.EventMutedUpdate)
	return nil
}

func (e *Engine) applyVolumeLocked() {
	if !e.player.Alive() {
		return
	}
	percent := int(e.dev.Volume * 100)
	if e.dev.Muted {
		percent = 0
	}
	if err := e.player.SetVolume(percent); err != nil {
		e.logger.Error().Err(err).Msg("volume change failed")
	}
}

// LaunchQueue replaces the queue with items and starts playback at index 0.
func (e *Engine) LaunchQueue(items []models.MediaItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dev.Queue = append([]models.MediaItem(nil), items...)
	if len(items) == 0 {
		e.dev.CurrentIndex = nil
		e.publish(events.EventItemsCleared, events.Payload{})
		e.broadcastLocked()
		return e.stopLocked()
	}

	idx := 0
	e.dev.CurrentIndex = &idx
	if e.dev.Repeat == models.RepeatShuffle {
		e.shuffleLocked()
	}
	e.prefetchLocked()
	e.publish(events.EventItemsAdded, events.Payload{"items": e.dev.Queue, "launch": true})
	return e.startLocked()
}

// InsertQueue adds items at the end, or before the item with insertBeforeID.
func (e *Engine) InsertQueue(items []models.MediaItem, insertBeforeID *string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	at := len(e.dev.Queue)
	if insertBeforeID != nil {
		for i := range e.dev.Queue {
			if e.dev.Queue[i].ID == *insertBeforeID {
				at = i
				break
			}
		}
	}

	e.dev.Queue = append(e.dev.Queue[:at], append(append([]models.MediaItem(nil), items...), e.dev.Queue[at:]...)...)
	if e.dev.CurrentIndex != nil && at <= *e.dev.CurrentIndex {
		idx := *e.dev.CurrentIndex + len(items)
		e.dev.CurrentIndex = &idx
	}
	e.prefetchLocked()

	payload := events.Payload{"items": items}
	if insertBeforeID != nil {
		payload["insertBeforeId"] = *insertBeforeID
	}
	e.publish(events.EventItemsAdded, payload)
	e.broadcastLocked()
	return nil
}

// UpdateQueue replaces the queue wholesale. The current item stays selected
// when it survives the replacement; otherwise playback stops.
func (e *Engine) UpdateQueue(items []models.MediaItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	currentID := ""
	if item := e.dev.CurrentItem(); item != nil {
		currentID = item.ID
	}
	e.dev.Queue = append([]models.MediaItem(nil), items...)
	e.reindexLocked(currentID)

	if len(items) == 0 {
		e.publish(events.EventItemsCleared, events.Payload{})
	} else {
		e.publish(events.EventQueueReordered, events.Payload{"items": e.dev.Queue})
	}
	e.broadcastLocked()

	if currentID != "" && e.dev.CurrentIndex == nil {
		return e.stopLocked()
	}
	return nil
}

// RemoveQueue deletes the items with the given ids. Removing the playing item
// stops playback.
func (e *Engine) RemoveQueue(ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	currentID := ""
	currentRemoved := false
	if item := e.dev.CurrentItem(); item != nil {
		currentID = item.ID
		currentRemoved = drop[item.ID]
	}

	kept := e.dev.Queue[:0]
	for _, item := range e.dev.Queue {
		if drop[item.ID] {
			if e.cache != nil && item.Cache {
				e.cache.CancelCaching(item.ID, formatFor(item.Kind))
			}
			continue
		}
		kept = append(kept, item)
	}
	e.dev.Queue = kept
	e.reindexLocked(currentID)

	if len(e.dev.Queue) == 0 {
		e.publish(events.EventItemsCleared, events.Payload{})
	} else {
		e.publish(events.EventItemsRemoved, events.Payload{"ids": ids})
	}
	e.broadcastLocked()

	if currentRemoved {
		return e.stopLocked()
	}
	return nil
}

// UpQueue moves the items with the given ids one position toward the front.
func (e *Engine) UpQueue(ids []string) error {
	return e.move(ids, -1, events.EventItemsMovedUp)
}

// DownQueue moves the items with the given ids one position toward the back.
func (e *Engine) DownQueue(ids []string) error {
	return e.move(ids, 1, events.EventItemsMovedDown)
}

func (e *Engine) move(ids []string, dir int, event events.EventType) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	moving := make(map[string]bool, len(ids))
	for _, id := range ids {
		moving[id] = true
	}
	currentID := ""
	if item := e.dev.CurrentItem(); item != nil {
		currentID = item.ID
	}

	q := e.dev.Queue
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
	e.reindexLocked(currentID)

	e.publish(event, events.Payload{"ids": ids})
	e.broadcastLocked()
	return nil
}

// reindexLocked points CurrentIndex at the item with currentID, or nil when it
// is gone. Maintains the invariant that the index is nil or in bounds.
func (e *Engine) reindexLocked(currentID string) {
	if currentID == "" {
		if e.dev.CurrentIndex != nil && *e.dev.CurrentIndex >= len(e.dev.Queue) {
			e.dev.CurrentIndex = nil
		}
		return
	}
	for i := range e.dev.Queue {
		if e.dev.Queue[i].ID == currentID {
			idx := i
			e.dev.CurrentIndex = &idx
			return
		}
	}
	e.dev.CurrentIndex = nil
}

// startLocked launches the external player for the current item.
func (e *Engine) startLocked() error {
	item := e.dev.CurrentItem()
	if item == nil {
		return fmt.Errorf("no current item")
	}

	e.gen++
	gen := e.gen
	if e.player.Alive() {
		if err := e.player.Stop(); err != nil {
			e.logger.Error().Err(err).Msg("stopping previous playback failed")
		}
	}

	e.dev.StatusMessage = ""
	e.setStatusLocked(models.StatusStarting)

	location := item.Location
	if e.cache != nil && item.Cache {
		info, status := e.cache.GetCacheItem(e.ctx, *item, formatFor(item.Kind))
		if status == models.CacheStatusCached {
			location = info.Path
		}
	}

	err := e.player.Start(e.ctx, location, item.StartTime, player.Hooks{
		OnStarted:  func() { e.playbackStarted(gen) },
		OnPosition: func(seconds float64) { e.reconcilePosition(gen, seconds) },
		OnExit:     func(code int) { e.playerExited(gen, code) },
	})
	if err != nil {
		e.logger.Error().Err(err).Str("item", item.ID).Msg("failed to launch player")
		e.dev.StatusMessage = fmt.Sprintf("failed to play %s: %v", item.Title, err)
		e.setStatusLocked(models.StatusStopped)
		e.broadcastLocked(events.EventStatusMessageUpdate)
		return nil
	}

	e.dev.CurrentTime = item.StartTime
	e.broadcastLocked(events.EventCurrentItemUpdate, events.EventStartTimeUpdate)
	return nil
}

func (e *Engine) playbackStarted(gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.dev.Status != models.StatusStarting {
		return
	}
	e.setStatusLocked(models.StatusPlaying)
}

func (e *Engine) reconcilePosition(gen int, seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.dev.CurrentTime = time.Duration(seconds * float64(time.Second))
	e.broadcastLocked(events.EventCurrentTimeUpdate)
}

// playerExited dispatches the end-of-media transition by repeat mode.
func (e *Engine) playerExited(gen int, code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}

	if code != 0 {
		e.logger.Error().Int("code", code).Msg("player exited abnormally")
		e.dev.StatusMessage = fmt.Sprintf("player exited with code %d", code)
		e.dev.CurrentTime = 0
		e.setStatusLocked(models.StatusStopped)
		e.broadcastLocked(events.EventStatusMessageUpdate)
		return
	}

	e.setStatusLocked(models.StatusFinishing)

	if len(e.dev.Queue) == 0 || e.dev.CurrentIndex == nil {
		e.dev.CurrentTime = 0
		e.setStatusLocked(models.StatusStopped)
		return
	}

	idx := *e.dev.CurrentIndex
	last := len(e.dev.Queue) - 1

	switch e.dev.Repeat {
	case models.RepeatOne:
		// replay the same item
	case models.RepeatAll, models.RepeatShuffle:
		if idx == last {
			idx = 0
		} else {
			idx++
		}
	default: // RepeatOff
		if idx == last {
			zero := 0
			e.dev.CurrentIndex = &zero
			e.dev.CurrentTime = 0
			e.setStatusLocked(models.StatusStopped)
			return
		}
		idx++
	}

	e.dev.CurrentIndex = &idx
	if err := e.startLocked(); err != nil {
		e.logger.Error().Err(err).Msg("failed to start next item")
		e.setStatusLocked(models.StatusStopped)
	}
}

// advanceShadowTime moves the shadow position forward one tick while playing.
func (e *Engine) advanceShadowTime() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dev.Status != models.StatusPlaying {
		return
	}
	e.dev.CurrentTime += time.Duration(float64(time.Second) * e.dev.PlaybackRate)
	if item := e.dev.CurrentItem(); item != nil && e.dev.CurrentTime > item.Runtime {
		e.dev.CurrentTime = item.Runtime
	}
	e.broadcastLocked(events.EventCurrentTimeUpdate)
}

// prefetchLocked kicks background caching for queue items that want it.
func (e *Engine) prefetchLocked() {
	if e.cache == nil {
		return
	}
	for i := range e.dev.Queue {
		item := &e.dev.Queue[i]
		if !item.Cache {
			continue
		}
		_, status := e.cache.GetCacheItem(e.ctx, *item, formatFor(item.Kind))
		if status == models.CacheStatusCached {
			item.CachedRatio = 1
		}
	}
}

// SetCachedRatio records download progress for a queue item.
func (e *Engine) SetCachedRatio(mediaID string, ratio float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.dev.Queue {
		if e.dev.Queue[i].ID == mediaID {
			e.dev.Queue[i].CachedRatio = ratio
		}
	}
}

func (e *Engine) setStatusLocked(status models.PlaybackStatus) {
	if e.dev.Status == status {
		return
	}
	e.dev.Status = status
	e.broadcastLocked(events.EventStatusUpdate)
}

// broadcastLocked publishes the full device snapshot, plus any per-field
// events for mirrors that consume increments.
func (e *Engine) broadcastLocked(fields ...events.EventType) {
	e.dev.LastStateUpdate = e.now()
	snapshot := e.dev.Clone()
	e.publish(events.EventDeviceState, events.Payload{"device": snapshot})
	for _, field := range fields {
		e.publish(field, events.Payload{"device": snapshot})
	}
}

func (e *Engine) publish(event events.EventType, payload events.Payload) {
	if e.bus != nil {
		e.bus.Publish(event, payload)
	}
}

func formatFor(kind models.MediaKind) models.CacheFormat {
	switch kind {
	case models.KindSong:
		return models.CacheFormatAudio
	default:
		return models.CacheFormatVideo
	}
}

func clampIndex(idx, length int) int {
	if idx < 0 {
		return 0
	}
	if idx >= length {
		return length - 1
	}
	return idx
}
