/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/hearthlabs/hearth/internal/auth"
	"github.com/hearthlabs/hearth/internal/engine"
	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/player"
	"github.com/hearthlabs/hearth/internal/protocol"
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

func testServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	bus := events.NewBus()
	eng := engine.New(engine.Config{
		DeviceName: "den",
		Player:     nopPlayer{},
		Bus:        bus,
		Logger:     zerolog.Nop(),
	})
	hash, err := auth.HashToken("tok")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	srv := NewServer(eng, bus, &auth.Verifier{TokenHash: hash}, time.Second, zerolog.Nop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestControlChannelRejectsBadToken(t *testing.T) {
	_, wsURL := testServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := ws.Dial(ctx, wsURL, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer wrong"}},
	})
	if err == nil {
		t.Fatal("dial with wrong token should fail")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGetDeviceRoundTrip(t *testing.T) {
	_, wsURL := testServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, wsURL, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer tok"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "test done")

	request := protocol.NewRequest("req-1", protocol.MethodGetDevice, nil)
	data, err := json.Marshal(request)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, ws.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if frame.ID != "req-1" {
			continue
		}
		if frame.Error != "" {
			t.Fatalf("GetDevice returned error: %s", frame.Error)
		}
		var dev models.Device
		if err := json.Unmarshal(frame.Result, &dev); err != nil {
			t.Fatalf("unmarshal device: %v", err)
		}
		if dev.Name != "den" {
			t.Errorf("device name = %q, want den", dev.Name)
		}
		if dev.Status != models.StatusStopped {
			t.Errorf("status = %q, want stopped", dev.Status)
		}
		return
	}
}

func TestLaunchQueueEmitsEvents(t *testing.T) {
	_, wsURL := testServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, wsURL, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer tok"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "test done")

	launch := protocol.NewRequest("", protocol.MethodLaunchQueue, protocol.QueueParams{
		Items: []models.MediaItem{{ID: "m1", Location: "http://x/m1", Title: "M1"}},
	})
	data, err := json.Marshal(launch)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, ws.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatal(err)
		}
		if frame.Method != protocol.EventItemsAdded {
			continue
		}
		var update protocol.ItemsAddedUpdate
		if err := json.Unmarshal(frame.Params, &update); err != nil {
			t.Fatalf("unmarshal items added: %v", err)
		}
		if !update.Launch || len(update.Items) != 1 || update.Items[0].ID != "m1" {
			t.Errorf("items added = %+v, want launch of m1", update)
		}
		return
	}
}
