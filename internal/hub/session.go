/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hub maintains the control connections to device agents: one session
// per device, recovered automatically, with a read-mostly replica of each
// device's state.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/protocol"
	"github.com/hearthlabs/hearth/internal/store"
)

const rpcTimeout = 10 * time.Second

// Session is the typed facade over one agent connection. Command methods are
// one-way calls; state flows back through the agent's update events, which
// keep the local replica current.
type Session struct {
	Name    string
	Address string

	conn    *ws.Conn
	logger  zerolog.Logger
	bus     *events.Bus
	catalog *catalog.Client // optional
	history *store.History  // optional

	writeMu sync.Mutex

	mu      sync.Mutex
	dev     *models.Device
	pending map[string]chan protocol.Frame
}

func newSession(name, address string, conn *ws.Conn, bus *events.Bus, cat *catalog.Client, hist *store.History, logger zerolog.Logger) *Session {
	return &Session{
		Name:    name,
		Address: address,
		conn:    conn,
		logger:  logger.With().Str("component", "session").Str("device", name).Logger(),
		bus:     bus,
		catalog: cat,
		history: hist,
		pending: make(map[string]chan protocol.Frame),
		dev:     &models.Device{Name: name, Address: address},
	}
}

// Device returns a copy of the state replica.
func (s *Session) Device() *models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Clone()
}

// Run reads frames until the connection dies, advancing the shadow clock in
// the background. It returns the read error that ended the connection.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.shadowClock(ctx)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.failPending(err)
			return err
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("invalid frame from agent")
			continue
		}

		if frame.Method == "" && frame.ID != "" {
			s.resolvePending(frame)
			continue
		}
		s.handleEvent(ctx, frame)
	}
}

// Close tears the connection down.
func (s *Session) Close() error {
	return s.conn.Close(ws.StatusNormalClosure, "session closed")
}

// shadowClock advances the replica's position once per second while the
// device reports itself playing. Authoritative time updates overwrite it.
func (s *Session) shadowClock(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.dev.Status == models.StatusPlaying {
				s.dev.CurrentTime += time.Duration(float64(time.Second) * s.dev.PlaybackRate)
				if item := s.dev.CurrentItem(); item != nil && s.dev.CurrentTime > item.Runtime {
					s.dev.CurrentTime = item.Runtime
				}
			}
			s.mu.Unlock()
		}
	}
}

// fetchSnapshot seeds the replica with the agent's full device state.
func (s *Session) fetchSnapshot(ctx context.Context) error {
	result, err := s.call(ctx, protocol.MethodGetDevice, nil)
	if err != nil {
		return fmt.Errorf("fetch device snapshot: %w", err)
	}
	var dev models.Device
	if err := json.Unmarshal(result, &dev); err != nil {
		return fmt.Errorf("decode device snapshot: %w", err)
	}
	s.mu.Lock()
	dev.Address = s.Address
	s.dev = &dev
	s.mu.Unlock()
	return nil
}

// call performs a round-trip RPC; only GetDevice uses this.
func (s *Session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan protocol.Frame, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(ctx, protocol.NewRequest(id, method, params)); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	select {
	case <-callCtx.Done():
		return nil, fmt.Errorf("%s: %w", method, callCtx.Err())
	case frame := <-ch:
		if frame.Error != "" {
			return nil, fmt.Errorf("%s: %s", method, frame.Error)
		}
		return frame.Result, nil
	}
}

func (s *Session) resolvePending(frame protocol.Frame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.ID]
	s.mu.Unlock()
	if ok {
		ch <- frame
	}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		select {
		case ch <- protocol.Frame{ID: id, Error: err.Error()}:
		default:
		}
	}
}

// send issues a one-way command; the agent acknowledges through state events,
// not a response payload.
func (s *Session) send(ctx context.Context, method string, params any) error {
	return s.write(ctx, protocol.NewEvent(method, params))
}

func (s *Session) write(ctx context.Context, frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(writeCtx, ws.MessageText, data)
}

// Typed remote operations.

func (s *Session) Play(ctx context.Context) error  { return s.send(ctx, protocol.MethodPlay, nil) }
func (s *Session) Stop(ctx context.Context) error  { return s.send(ctx, protocol.MethodStop, nil) }
func (s *Session) Pause(ctx context.Context) error { return s.send(ctx, protocol.MethodPause, nil) }
func (s *Session) Next(ctx context.Context) error  { return s.send(ctx, protocol.MethodNext, nil) }
func (s *Session) Previous(ctx context.Context) error {
	return s.send(ctx, protocol.MethodPrevious, nil)
}

func (s *Session) Seek(ctx context.Context, target time.Duration) error {
	return s.send(ctx, protocol.MethodSeek, protocol.SeekParams{Time: target})
}

func (s *Session) SeekRelative(ctx context.Context, delta time.Duration) error {
	return s.send(ctx, protocol.MethodSeekRelative, protocol.SeekRelativeParams{Delta: delta})
}

func (s *Session) ChangeCurrentMedia(ctx context.Context, id string) error {
	return s.send(ctx, protocol.MethodChangeCurrentMedia, protocol.ChangeMediaParams{ID: id})
}

func (s *Session) ChangeRepeatMode(ctx context.Context, mode models.RepeatMode) error {
	return s.send(ctx, protocol.MethodChangeRepeatMode, protocol.RepeatModeParams{Mode: mode})
}

func (s *Session) SetPlaybackRate(ctx context.Context, rate float64) error {
	return s.send(ctx, protocol.MethodSetPlaybackRate, protocol.RateParams{Rate: rate})
}

func (s *Session) LaunchQueue(ctx context.Context, items []models.MediaItem) error {
	return s.send(ctx, protocol.MethodLaunchQueue, protocol.QueueParams{Items: items})
}

func (s *Session) InsertQueue(ctx context.Context, items []models.MediaItem, insertBeforeID *string) error {
	return s.send(ctx, protocol.MethodInsertQueue, protocol.InsertQueueParams{Items: items, InsertBeforeID: insertBeforeID})
}

func (s *Session) UpdateQueue(ctx context.Context, items []models.MediaItem) error {
	return s.send(ctx, protocol.MethodUpdateQueue, protocol.QueueParams{Items: items})
}

func (s *Session) RemoveQueue(ctx context.Context, ids []string) error {
	return s.send(ctx, protocol.MethodRemoveQueue, protocol.IDsParams{IDs: ids})
}

func (s *Session) UpQueue(ctx context.Context, ids []string) error {
	return s.send(ctx, protocol.MethodUpQueue, protocol.IDsParams{IDs: ids})
}

func (s *Session) DownQueue(ctx context.Context, ids []string) error {
	return s.send(ctx, protocol.MethodDownQueue, protocol.IDsParams{IDs: ids})
}

func (s *Session) SetVolume(ctx context.Context, level float64) error {
	return s.send(ctx, protocol.MethodSetVolume, protocol.VolumeParams{Level: level})
}

func (s *Session) ToggleMute(ctx context.Context) error {
	return s.send(ctx, protocol.MethodToggleMute, nil)
}
