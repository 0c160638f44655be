/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hub

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/hearthlabs/hearth/internal/agent"
	"github.com/hearthlabs/hearth/internal/auth"
	"github.com/hearthlabs/hearth/internal/engine"
	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/player"
)

type nopPlayer struct{}

func (nopPlayer) Start(context.Context, string, time.Duration, player.Hooks) error { return nil }
func (nopPlayer) Alive() bool                                                      { return false }
func (nopPlayer) TogglePause() error                                               { return nil }
func (nopPlayer) Seek(time.Duration) error                                         { return nil }
func (nopPlayer) SetRate(float64) error                                            { return nil }
func (nopPlayer) SetVolume(int) error                                              { return nil }
func (nopPlayer) RequestPosition() error                                           { return nil }
func (nopPlayer) Stop() error                                                      { return nil }

func writeDevicesFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fastDelays(t *testing.T) {
	t.Helper()
	saved := reconnectDelays
	reconnectDelays = []time.Duration{0, time.Millisecond, time.Millisecond}
	t.Cleanup(func() { reconnectDelays = saved })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegistryGivesUpAfterThreeFailures(t *testing.T) {
	fastDelays(t)
	path := writeDevicesFile(t, "devices:\n  - name: den\n    address: ws://127.0.0.1:1\n")

	r := NewRegistry(RegistryConfig{
		DevicesFile:  path,
		ScanInterval: time.Hour,
		LookupWait:   50 * time.Millisecond,
	}, events.NewBus(), nil, nil, zerolog.Nop())

	var attempts atomic.Int32
	r.dial = func(context.Context, string, string) (*ws.Conn, error) {
		attempts.Add(1)
		return nil, fmt.Errorf("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.scan(ctx)

	waitFor(t, "device marked failed", func() bool {
		value, ok := r.devices.Load("den")
		return ok && value.(*managedDevice).connState() == StateFailed
	})

	if got := attempts.Load(); got != 3 {
		t.Errorf("dial attempts = %d, want exactly 3", got)
	}
	if _, ok := r.Lookup(ctx, "den"); ok {
		t.Error("lookup of failed device should report not connected")
	}

	// no further attempts once failed
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Errorf("dial attempts after failure = %d, want 3", got)
	}
}

func TestRegistryRecoversWithinAttemptBudget(t *testing.T) {
	fastDelays(t)
	ts, _ := startAgent(t, "den")
	path := writeDevicesFile(t, "devices:\n  - name: den\n    address: "+ts.URL+"\n")

	r := NewRegistry(RegistryConfig{
		DevicesFile:  path,
		Token:        "tok",
		ScanInterval: time.Hour,
		LookupWait:   5 * time.Second,
	}, events.NewBus(), nil, nil, zerolog.Nop())

	// first two attempts fail, third succeeds
	var attempts atomic.Int32
	realDial := defaultDial
	r.dial = func(ctx context.Context, address, token string) (*ws.Conn, error) {
		if attempts.Add(1) < 3 {
			return nil, fmt.Errorf("transient failure")
		}
		return realDial(ctx, address, token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.scan(ctx)
	defer r.Close()

	sess, ok := r.Lookup(ctx, "den")
	if !ok {
		t.Fatal("device did not connect within the attempt budget")
	}
	if got := sess.Device().Name; got != "den" {
		t.Errorf("device name = %q, want den", got)
	}
}

func TestRegistrySkipsInvalidEntries(t *testing.T) {
	path := writeDevicesFile(t, `devices:
  - name: den9
    address: ws://host:1
  - name: kitchen
    address: "not a url"
  - name: den
    address: ws://127.0.0.1:1
`)

	r := NewRegistry(RegistryConfig{DevicesFile: path, ScanInterval: time.Hour}, events.NewBus(), nil, nil, zerolog.Nop())
	r.dial = func(context.Context, string, string) (*ws.Conn, error) {
		return nil, fmt.Errorf("refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.scan(ctx)

	count := 0
	r.devices.Range(func(key, _ any) bool {
		if key.(string) != "den" {
			t.Errorf("unexpected managed device %v", key)
		}
		count++
		return true
	})
	if count != 1 {
		t.Errorf("managed devices = %d, want 1 (invalid entries skipped)", count)
	}
}

// startAgent runs a real agent server for one device named name.
func startAgent(t *testing.T, name string) (*httptest.Server, *engine.Engine) {
	t.Helper()
	bus := events.NewBus()
	eng := engine.New(engine.Config{
		DeviceName: name,
		Player:     nopPlayer{},
		Bus:        bus,
		Logger:     zerolog.Nop(),
	})
	hash, err := auth.HashToken("tok")
	if err != nil {
		t.Fatal(err)
	}
	srv := agent.NewServer(eng, bus, &auth.Verifier{TokenHash: hash}, time.Second, zerolog.Nop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, eng
}

func TestSessionMirrorsAgentState(t *testing.T) {
	fastDelays(t)
	ts, _ := startAgent(t, "den")
	path := writeDevicesFile(t, "devices:\n  - name: den\n    address: "+ts.URL+"\n")

	r := NewRegistry(RegistryConfig{
		DevicesFile:  path,
		Token:        "tok",
		ScanInterval: time.Hour,
		LookupWait:   5 * time.Second,
	}, events.NewBus(), nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.scan(ctx)
	defer r.Close()

	sess, ok := r.Lookup(ctx, "den")
	if !ok {
		t.Fatal("device did not connect")
	}

	items := []models.MediaItem{{ID: "m1", Location: "http://x/m1", Title: "M1", Runtime: time.Minute}}
	if err := sess.LaunchQueue(ctx, items); err != nil {
		t.Fatalf("LaunchQueue: %v", err)
	}

	waitFor(t, "queue to mirror", func() bool {
		dev := sess.Device()
		return len(dev.Queue) == 1 && dev.Queue[0].ID == "m1"
	})
}

func TestSessionMirrorsQueueMoves(t *testing.T) {
	fastDelays(t)
	ts, eng := startAgent(t, "den")
	path := writeDevicesFile(t, "devices:\n  - name: den\n    address: "+ts.URL+"\n")

	r := NewRegistry(RegistryConfig{
		DevicesFile:  path,
		Token:        "tok",
		ScanInterval: time.Hour,
		LookupWait:   5 * time.Second,
	}, events.NewBus(), nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.scan(ctx)
	defer r.Close()

	sess, ok := r.Lookup(ctx, "den")
	if !ok {
		t.Fatal("device did not connect")
	}

	items := []models.MediaItem{
		{ID: "m1", Location: "http://x/m1", Title: "M1", Runtime: time.Minute},
		{ID: "m2", Location: "http://x/m2", Title: "M2", Runtime: time.Minute},
		{ID: "m3", Location: "http://x/m3", Title: "M3", Runtime: time.Minute},
	}
	if err := sess.LaunchQueue(ctx, items); err != nil {
		t.Fatalf("LaunchQueue: %v", err)
	}
	waitFor(t, "launch to mirror", func() bool {
		return len(sess.Device().Queue) == 3
	})

	if err := sess.UpQueue(ctx, []string{"m2"}); err != nil {
		t.Fatalf("UpQueue: %v", err)
	}
	waitFor(t, "move up to mirror", func() bool {
		q := sess.Device().Queue
		return len(q) == 3 && q[0].ID == "m2" && q[1].ID == "m1"
	})

	if err := sess.DownQueue(ctx, []string{"m1"}); err != nil {
		t.Fatalf("DownQueue: %v", err)
	}
	waitFor(t, "move down to mirror", func() bool {
		q := sess.Device().Queue
		return len(q) == 3 && q[1].ID == "m3" && q[2].ID == "m1"
	})

	// The replica must agree with the device, current index included.
	agentDev := eng.Snapshot()
	hubDev := sess.Device()
	for i := range agentDev.Queue {
		if agentDev.Queue[i].ID != hubDev.Queue[i].ID {
			t.Fatalf("queue diverged at %d: agent=%s hub=%s", i, agentDev.Queue[i].ID, hubDev.Queue[i].ID)
		}
	}
	if agentDev.CurrentIndex == nil || hubDev.CurrentIndex == nil || *agentDev.CurrentIndex != *hubDev.CurrentIndex {
		t.Fatalf("current index diverged: agent=%v hub=%v", agentDev.CurrentIndex, hubDev.CurrentIndex)
	}
}
