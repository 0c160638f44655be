/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hub

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/config"
	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/store"
	"github.com/hearthlabs/hearth/internal/telemetry"
)

// ConnState is the lifecycle state of a managed device connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "closed"
	}
}

// reconnectDelays are the waits before each of the three connection attempts.
var reconnectDelays = []time.Duration{0, 3 * time.Second, 5 * time.Second}

// DialFunc opens the control websocket to an agent.
type DialFunc func(ctx context.Context, address, token string) (*ws.Conn, error)

func defaultDial(ctx context.Context, address, token string) (*ws.Conn, error) {
	url := strings.TrimRight(address, "/") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := ws.Dial(ctx, url, &ws.DialOptions{HTTPHeader: header})
	return conn, err
}

// RegistryConfig configures the connection registry.
type RegistryConfig struct {
	DevicesFile  string
	Token        string
	ScanInterval time.Duration
	LookupWait   time.Duration
}

// Registry keeps exactly one live session per configured device, recovering
// connections with a bounded retry policy. Entries are replaced atomically;
// losing a race between a scan and a background reconnect still converges to
// one session per name.
type Registry struct {
	cfg     RegistryConfig
	logger  zerolog.Logger
	bus     *events.Bus
	catalog *catalog.Client
	history *store.History
	dial    DialFunc

	devices sync.Map // name -> *managedDevice
}

type managedDevice struct {
	name    string
	address string
	state   atomic.Int32
	session atomic.Pointer[Session]
	cancel  context.CancelFunc
}

func (m *managedDevice) connState() ConnState {
	return ConnState(m.state.Load())
}

// NewRegistry builds the registry. catalog and history may be nil.
func NewRegistry(cfg RegistryConfig, bus *events.Bus, cat *catalog.Client, hist *store.History, logger zerolog.Logger) *Registry {
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	if cfg.LookupWait == 0 {
		cfg.LookupWait = 10 * time.Second
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger.With().Str("component", "registry").Logger(),
		bus:     bus,
		catalog: cat,
		history: hist,
		dial:    defaultDial,
	}
}

// Run scans the device list until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	r.scan(ctx)

	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

// scan reloads the device file and reconciles the managed set against it.
// Invalid entries are configuration errors: logged and skipped, never fatal.
func (r *Registry) scan(ctx context.Context) {
	entries, err := config.LoadDevices(r.cfg.DevicesFile)
	if err != nil {
		r.logger.Error().Err(err).Str("file", r.cfg.DevicesFile).Msg("cannot load device list")
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if err := models.ValidateDeviceName(entry.Name); err != nil {
			r.logger.Error().Err(err).Str("device", entry.Name).Msg("invalid device name, skipping")
			continue
		}
		if err := models.ValidateDeviceAddress(entry.Address); err != nil {
			r.logger.Error().Err(err).Str("device", entry.Name).Str("address", entry.Address).Msg("invalid device address, skipping")
			continue
		}
		seen[entry.Name] = true

		if existing, ok := r.devices.Load(entry.Name); ok {
			md := existing.(*managedDevice)
			if md.address == entry.Address {
				continue
			}
			// Address changed: tear down and rebuild below.
			md.cancel()
			r.devices.Delete(entry.Name)
		}

		r.startManaging(ctx, entry.Name, entry.Address)
	}

	// Devices removed from configuration are torn down.
	r.devices.Range(func(key, value any) bool {
		name := key.(string)
		if !seen[name] {
			md := value.(*managedDevice)
			md.cancel()
			r.devices.Delete(name)
			r.logger.Info().Str("device", name).Msg("device removed from configuration")
		}
		return true
	})
}

func (r *Registry) startManaging(ctx context.Context, name, address string) {
	devCtx, cancel := context.WithCancel(ctx)
	md := &managedDevice{name: name, address: address, cancel: cancel}
	md.state.Store(int32(StateConnecting))

	if _, raced := r.devices.LoadOrStore(name, md); raced {
		// A concurrent probe won the slot; this one stands down.
		cancel()
		return
	}
	go r.manage(devCtx, md)
}

// manage owns one device's connection lifecycle: three bounded attempts per
// round, a fresh round after every disconnect, permanent failure after a
// round with no success.
func (r *Registry) manage(ctx context.Context, md *managedDevice) {
	for {
		sess, runErr := r.establish(ctx, md)
		if sess == nil {
			if ctx.Err() != nil {
				md.state.Store(int32(StateClosed))
				return
			}
			md.state.Store(int32(StateFailed))
			telemetry.DevicesUnreachable.WithLabelValues(md.name).Inc()
			r.logger.Error().
				Str("device", md.name).
				Str("address", md.address).
				Msg("giving up on device after 3 failed attempts; check that the agent is running, the address is reachable, and the control token matches")
			r.bus.Publish(events.EventDeviceUnreachable, events.Payload{"device": md.name, "address": md.address})
			return
		}

		md.session.Store(sess)
		md.state.Store(int32(StateConnected))
		telemetry.DevicesConnected.Inc()
		r.bus.Publish(events.EventDeviceConnected, events.Payload{"device": md.name})
		r.logger.Info().Str("device", md.name).Str("address", md.address).Msg("device connected")
		r.touchDevice(ctx, md)

		err := <-runErr
		md.session.Store(nil)
		telemetry.DevicesConnected.Dec()
		r.bus.Publish(events.EventDeviceDisconnected, events.Payload{"device": md.name})
		r.touchDevice(context.WithoutCancel(ctx), md)

		if ctx.Err() != nil {
			md.state.Store(int32(StateClosed))
			return
		}
		md.state.Store(int32(StateReconnecting))
		r.logger.Warn().Err(err).Str("device", md.name).Msg("device disconnected, reconnecting")
	}
}

func (r *Registry) touchDevice(ctx context.Context, md *managedDevice) {
	if r.history == nil {
		return
	}
	if err := r.history.TouchDevice(ctx, md.name, md.address); err != nil {
		r.logger.Warn().Err(err).Str("device", md.name).Msg("failed to record device last-seen")
	}
}

// establish runs one round of bounded connection attempts. It returns the
// live session plus a channel delivering its eventual read-loop error, or nil
// after the round is exhausted.
func (r *Registry) establish(ctx context.Context, md *managedDevice) (*Session, <-chan error) {
	for attempt := 0; attempt < len(reconnectDelays); attempt++ {
		if !sleepCtx(ctx, reconnectDelays[attempt]) {
			return nil, nil
		}
		telemetry.ReconnectAttempts.WithLabelValues(md.name).Inc()

		sess, runErr, err := r.connectOnce(ctx, md)
		if err == nil {
			return sess, runErr
		}
		r.logger.Warn().Err(err).
			Str("device", md.name).
			Int("attempt", attempt+1).
			Msg("connection attempt failed")
	}
	return nil, nil
}

func (r *Registry) connectOnce(ctx context.Context, md *managedDevice) (*Session, <-chan error, error) {
	dialCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	conn, err := r.dial(dialCtx, md.address, r.cfg.Token)
	if err != nil {
		return nil, nil, err
	}

	sess := newSession(md.name, md.address, conn, r.bus, r.catalog, r.history, r.logger)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	if err := sess.fetchSnapshot(ctx); err != nil {
		_ = sess.Close()
		<-runErr
		return nil, nil, err
	}
	return sess, runErr, nil
}

// Lookup returns the live session for a device. When the connection is still
// being (re)established it waits up to the configured lookup timeout for the
// transition to resolve before reporting not connected.
func (r *Registry) Lookup(ctx context.Context, name string) (*Session, bool) {
	value, ok := r.devices.Load(name)
	if !ok {
		return nil, false
	}
	md := value.(*managedDevice)

	deadline := time.Now().Add(r.cfg.LookupWait)
	for {
		switch md.connState() {
		case StateConnected:
			if sess := md.session.Load(); sess != nil {
				return sess, true
			}
		case StateFailed, StateClosed:
			return nil, false
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		if !sleepCtx(ctx, 100*time.Millisecond) {
			return nil, false
		}
	}
}

// DeviceInfo is the registry's view of one configured device.
type DeviceInfo struct {
	Name    string         `json:"name"`
	Address string         `json:"address"`
	State   string         `json:"state"`
	Device  *models.Device `json:"device,omitempty"`
}

// Devices lists all managed devices with their replicas where connected.
func (r *Registry) Devices() []DeviceInfo {
	var infos []DeviceInfo
	r.devices.Range(func(_, value any) bool {
		md := value.(*managedDevice)
		info := DeviceInfo{Name: md.name, Address: md.address, State: md.connState().String()}
		if sess := md.session.Load(); sess != nil {
			info.Device = sess.Device()
		}
		infos = append(infos, info)
		return true
	})
	return infos
}

// Close tears down all sessions.
func (r *Registry) Close() {
	r.devices.Range(func(_, value any) bool {
		md := value.(*managedDevice)
		md.cancel()
		if sess := md.session.Load(); sess != nil {
			_ = sess.Close()
		}
		return true
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
