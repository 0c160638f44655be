/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package agent exposes one device's playback engine to the hub over an
// authenticated websocket control channel.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/hearthlabs/hearth/internal/auth"
	"github.com/hearthlabs/hearth/internal/engine"
	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/protocol"
)

// forwardedEvents are the bus events mirrored to the hub as control frames.
var forwardedEvents = []events.EventType{
	events.EventStatusUpdate,
	events.EventStatusMessageUpdate,
	events.EventCurrentItemUpdate,
	events.EventCurrentTimeUpdate,
	events.EventStartTimeUpdate,
	events.EventRepeatModeUpdate,
	events.EventVolumeUpdate,
	events.EventMutedUpdate,
	events.EventPlaybackRateUpdate,
	events.EventItemsAdded,
	events.EventItemsRemoved,
	events.EventItemsMovedUp,
	events.EventItemsMovedDown,
	events.EventItemsCleared,
	events.EventQueueReordered,
	events.EventCacheStatus,
}

// Server is the agent's HTTP surface: the websocket control endpoint plus a
// health probe.
type Server struct {
	engine   *engine.Engine
	bus      *events.Bus
	verifier *auth.Verifier
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewServer wires the control channel around an engine.
func NewServer(eng *engine.Engine, bus *events.Bus, verifier *auth.Verifier, timeout time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		engine:   eng,
		bus:      bus,
		verifier: verifier,
		logger:   logger.With().Str("component", "agent").Logger(),
		timeout:  timeout,
	}
}

// Routes returns the agent router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleControl)
	return r
}

// handleControl runs one hub connection: a read loop feeding the command
// queue, and a write loop mirroring engine events back to the hub.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if err := s.verifier.VerifyRequest(r); err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("control channel auth failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("hub connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan protocol.Frame, 32)

	queue := NewCommandQueue(64, s.timeout, s.logger)
	go queue.Drain(ctx, func(ctx context.Context, cmd *protocol.Command) error {
		return s.execute(ctx, cmd, out)
	})

	merged := s.subscribeEvents(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) == ws.StatusNormalClosure {
					return
				}
				s.logger.Debug().Err(err).Msg("websocket read error")
				return
			}

			var frame protocol.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				s.logger.Warn().Err(err).Msg("invalid control frame")
				continue
			}
			cmd, err := protocol.DecodeCommand(frame)
			if err != nil {
				s.logger.Warn().Err(err).Msg("rejected control frame")
				s.reply(out, protocol.Frame{ID: frame.ID, Error: err.Error()})
				continue
			}
			if err := queue.Submit(cmd); err != nil {
				s.logger.Warn().Err(err).Msg("command dropped")
				s.reply(out, protocol.Frame{ID: frame.ID, Error: err.Error()})
			}
		}
	}()

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "shutting down")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "hub disconnected")
			return

		case <-pingTicker.C:
			if err := conn.Ping(ctx); err != nil {
				s.logger.Debug().Err(err).Msg("ping failed")
				return
			}

		case frame := <-out:
			if err := s.write(ctx, conn, frame); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				return
			}

		case ev := <-merged:
			frame, ok := frameForEvent(ev.eventType, ev.payload)
			if !ok {
				continue
			}
			if err := s.write(ctx, conn, frame); err != nil {
				s.logger.Debug().Err(err).Msg("event write failed")
				return
			}
		}
	}
}

type busEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// subscribeEvents fans all forwarded bus subscriptions into one channel for
// the connection's write loop. Subscriptions end when ctx does.
func (s *Server) subscribeEvents(ctx context.Context) <-chan busEvent {
	merged := make(chan busEvent, 64)
	for _, eventType := range forwardedEvents {
		sub := s.bus.Subscribe(eventType)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer s.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- busEvent{eventType: eventType, payload: payload}:
					default:
					}
				}
			}
		}(eventType, sub)
	}
	return merged
}

func (s *Server) reply(out chan<- protocol.Frame, frame protocol.Frame) {
	select {
	case out <- frame:
	default:
		s.logger.Warn().Msg("outbound channel full, dropping reply")
	}
}

func (s *Server) write(ctx context.Context, conn *ws.Conn, frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, data)
}

// execute dispatches one command to the engine and queues the response when
// the hub asked for one.
func (s *Server) execute(_ context.Context, cmd *protocol.Command, out chan<- protocol.Frame) error {
	var result any
	var err error

	switch cmd.Method {
	case protocol.MethodGetDevice:
		result = s.engine.Snapshot()
	case protocol.MethodPlay:
		err = s.engine.Play()
	case protocol.MethodStop:
		err = s.engine.Stop()
	case protocol.MethodPause:
		err = s.engine.Pause()
	case protocol.MethodNext:
		err = s.engine.Next()
	case protocol.MethodPrevious:
		err = s.engine.Previous()
	case protocol.MethodSeek:
		err = s.engine.Seek(cmd.Seek.Time)
	case protocol.MethodSeekRelative:
		err = s.engine.SeekRelative(cmd.SeekRelative.Delta)
	case protocol.MethodChangeCurrentMedia:
		err = s.engine.ChangeCurrentMedia(cmd.ChangeMedia.ID)
	case protocol.MethodChangeRepeatMode:
		err = s.engine.ChangeRepeatMode(cmd.RepeatMode.Mode)
	case protocol.MethodSetPlaybackRate:
		err = s.engine.SetPlaybackRate(cmd.Rate.Rate)
	case protocol.MethodLaunchQueue:
		err = s.engine.LaunchQueue(cmd.Queue.Items)
	case protocol.MethodInsertQueue:
		err = s.engine.InsertQueue(cmd.InsertQueue.Items, cmd.InsertQueue.InsertBeforeID)
	case protocol.MethodUpdateQueue:
		err = s.engine.UpdateQueue(cmd.Queue.Items)
	case protocol.MethodRemoveQueue:
		err = s.engine.RemoveQueue(cmd.IDs.IDs)
	case protocol.MethodUpQueue:
		err = s.engine.UpQueue(cmd.IDs.IDs)
	case protocol.MethodDownQueue:
		err = s.engine.DownQueue(cmd.IDs.IDs)
	case protocol.MethodSetVolume:
		err = s.engine.SetVolume(cmd.Volume.Level)
	case protocol.MethodToggleMute:
		err = s.engine.ToggleMute()
	default:
		err = fmt.Errorf("unhandled method %q", cmd.Method)
	}

	if cmd.ID == "" {
		return err
	}

	response := protocol.Frame{ID: cmd.ID}
	if err != nil {
		response.Error = err.Error()
	} else if result != nil {
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return marshalErr
		}
		response.Result = raw
	}
	s.reply(out, response)
	return err
}

// frameForEvent maps one bus event onto its control-channel frame.
func frameForEvent(eventType events.EventType, payload events.Payload) (protocol.Frame, bool) {
	dev, _ := payload["device"].(*models.Device)

	switch eventType {
	case events.EventStatusUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		return protocol.NewEvent(protocol.EventStatus, protocol.StatusUpdate{Status: dev.Status}), true

	case events.EventStatusMessageUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		return protocol.NewEvent(protocol.EventStatusMessage, protocol.StatusMessageUpdate{Message: dev.StatusMessage}), true

	case events.EventCurrentItemUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		id := ""
		if item := dev.CurrentItem(); item != nil {
			id = item.ID
		}
		return protocol.NewEvent(protocol.EventCurrentItem, protocol.CurrentItemUpdate{ID: id}), true

	case events.EventCurrentTimeUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		return protocol.NewEvent(protocol.EventCurrentTime, protocol.TimeUpdate{Time: dev.CurrentTime}), true

	case events.EventStartTimeUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		start := time.Duration(0)
		if item := dev.CurrentItem(); item != nil {
			start = item.StartTime
		}
		return protocol.NewEvent(protocol.EventStartTime, protocol.TimeUpdate{Time: start}), true

	case events.EventRepeatModeUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		return protocol.NewEvent(protocol.EventRepeatMode, protocol.RepeatModeParams{Mode: dev.Repeat}), true

	case events.EventVolumeUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		return protocol.NewEvent(protocol.EventVolume, protocol.VolumeParams{Level: dev.Volume}), true

	case events.EventMutedUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		return protocol.NewEvent(protocol.EventMuted, protocol.MutedUpdate{Muted: dev.Muted}), true

	case events.EventPlaybackRateUpdate:
		if dev == nil {
			return protocol.Frame{}, false
		}
		return protocol.NewEvent(protocol.EventPlaybackRate, protocol.RateParams{Rate: dev.PlaybackRate}), true

	case events.EventItemsAdded:
		items, _ := payload["items"].([]models.MediaItem)
		update := protocol.ItemsAddedUpdate{Items: items}
		if launch, _ := payload["launch"].(bool); launch {
			update.Launch = true
		}
		if before, ok := payload["insertBeforeId"].(string); ok {
			update.InsertBeforeID = &before
		}
		return protocol.NewEvent(protocol.EventItemsAdded, update), true

	case events.EventItemsRemoved:
		ids, _ := payload["ids"].([]string)
		return protocol.NewEvent(protocol.EventItemsRemoved, protocol.IDsParams{IDs: ids}), true

	case events.EventItemsMovedUp:
		ids, _ := payload["ids"].([]string)
		return protocol.NewEvent(protocol.EventItemsMovedUp, protocol.IDsParams{IDs: ids}), true

	case events.EventItemsMovedDown:
		ids, _ := payload["ids"].([]string)
		return protocol.NewEvent(protocol.EventItemsMovedDown, protocol.IDsParams{IDs: ids}), true

	case events.EventItemsCleared:
		return protocol.NewEvent(protocol.EventItemsCleared, nil), true

	case events.EventQueueReordered:
		items, ok := payload["items"].([]models.MediaItem)
		if !ok && dev != nil {
			items = dev.Queue
		}
		return protocol.NewEvent(protocol.EventQueueReordered, protocol.QueueUpdate{Items: items}), true

	case events.EventCacheStatus:
		id, _ := payload["id"].(string)
		status, _ := payload["status"].(models.CacheStatus)
		ratio, _ := payload["ratio"].(float64)
		return protocol.NewEvent(protocol.EventCacheStatus, protocol.CacheStatusUpdate{ID: id, Status: status, Ratio: ratio}), true
	}

	return protocol.Frame{}, false
}
