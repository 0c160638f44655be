/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus republishes hub device events onto NATS so other home
// automation consumers can react to playback state without talking to the
// hub's HTTP API.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/events"
)

// republishedEvents are the bus events mirrored onto NATS subjects.
var republishedEvents = []events.EventType{
	events.EventDeviceState,
	events.EventDeviceConnected,
	events.EventDeviceDisconnected,
	events.EventDeviceUnreachable,
	events.EventCacheStatus,
}

// Config contains NATS connection configuration.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns default NATS configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "hearth.devices",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = def.SubjectPrefix
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = def.MaxReconnects
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = def.ReconnectWait
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// message is the wire form of one republished event.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// Republisher forwards hub bus events to NATS.
type Republisher struct {
	conn   *nats.Conn
	cfg    Config
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string
}

// New connects to NATS and subscribes to the hub bus. A NATS that is down at
// startup is an error; reconnects after that are handled by the client. Unset
// config fields fall back to DefaultConfig values.
func New(cfg Config, bus *events.Bus, logger zerolog.Logger) (*Republisher, error) {
	cfg = cfg.withDefaults()
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}

	r := &Republisher{
		conn:   conn,
		cfg:    cfg,
		bus:    bus,
		logger: logger.With().Str("component", "eventbus").Logger(),
		nodeID: uuid.NewString(),
	}
	r.logger.Info().Str("url", cfg.URL).Msg("NATS event republisher connected")
	return r, nil
}

// Run mirrors bus events onto NATS until ctx is cancelled.
func (r *Republisher) Run(ctx context.Context) {
	for _, eventType := range republishedEvents {
		sub := r.bus.Subscribe(eventType)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer r.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					r.publish(eventType, payload)
				}
			}
		}(eventType, sub)
	}
	<-ctx.Done()
}

func (r *Republisher) publish(eventType events.EventType, payload events.Payload) {
	data, err := json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    r.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		r.logger.Debug().Err(err).Str("event", string(eventType)).Msg("marshal event failed")
		return
	}

	subject := r.subjectFor(eventType)
	if err := r.conn.Publish(subject, data); err != nil {
		r.logger.Debug().Err(err).Str("subject", subject).Msg("NATS publish failed")
	}
}

func (r *Republisher) subjectFor(eventType events.EventType) string {
	return r.cfg.SubjectPrefix + "." + string(eventType)
}

// Close drains and closes the NATS connection.
func (r *Republisher) Close() error {
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return err
	}
	return nil
}
