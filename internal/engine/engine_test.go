/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/events"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/player"
)

type fakePlayer struct {
	mu        sync.Mutex
	alive     bool
	failStart bool
	hooks     player.Hooks
	starts    []string
	paused    int
	seeks     []time.Duration
}

func (f *fakePlayer) Start(_ context.Context, location string, _ time.Duration, hooks player.Hooks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return fmt.Errorf("launch refused")
	}
	f.alive = true
	f.hooks = hooks
	f.starts = append(f.starts, location)
	return nil
}

func (f *fakePlayer) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakePlayer) TogglePause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused++
	return nil
}

func (f *fakePlayer) Seek(target time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, target)
	return nil
}

func (f *fakePlayer) SetRate(float64) error  { return nil }
func (f *fakePlayer) SetVolume(int) error    { return nil }
func (f *fakePlayer) RequestPosition() error { return nil }

func (f *fakePlayer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

// exit simulates the external process ending with the given code.
func (f *fakePlayer) exit(code int) {
	f.mu.Lock()
	f.alive = false
	onExit := f.hooks.OnExit
	f.mu.Unlock()
	if onExit != nil {
		onExit(code)
	}
}

// started simulates the process reporting playback has begun.
func (f *fakePlayer) started() {
	f.mu.Lock()
	onStarted := f.hooks.OnStarted
	f.mu.Unlock()
	if onStarted != nil {
		onStarted()
	}
}

func testEngine(t *testing.T) (*Engine, *fakePlayer) {
	t.Helper()
	fp := &fakePlayer{}
	e := New(Config{
		DeviceName: "livingroom",
		Player:     fp,
		Bus:        events.NewBus(),
		Logger:     zerolog.Nop(),
	})
	return e, fp
}

func threeItems() []models.MediaItem {
	return []models.MediaItem{
		{ID: "a", Location: "http://x/a", Runtime: 100 * time.Second, Title: "A"},
		{ID: "b", Location: "http://x/b", Runtime: 100 * time.Second, Title: "B"},
		{ID: "c", Location: "http://x/c", Runtime: 100 * time.Second, Title: "C"},
	}
}

func currentIndex(t *testing.T, e *Engine) int {
	t.Helper()
	dev := e.Snapshot()
	if dev.CurrentIndex == nil {
		t.Fatal("current index is nil")
	}
	return *dev.CurrentIndex
}

func assertInvariant(t *testing.T, e *Engine, op string) {
	t.Helper()
	dev := e.Snapshot()
	if dev.CurrentIndex == nil {
		return
	}
	if idx := *dev.CurrentIndex; idx < 0 || idx >= len(dev.Queue) {
		t.Fatalf("after %s: index %d out of bounds for queue of %d", op, idx, len(dev.Queue))
	}
}

func TestQueueInvariantAcrossEdits(t *testing.T) {
	e, _ := testEngine(t)

	if err := e.LaunchQueue(threeItems()); err != nil {
		t.Fatalf("LaunchQueue: %v", err)
	}
	assertInvariant(t, e, "launch")

	before := "b"
	ops := []struct {
		name string
		run  func() error
	}{
		{"insert before b", func() error {
			return e.InsertQueue([]models.MediaItem{{ID: "d"}, {ID: "e"}}, &before)
		}},
		{"move b,c up", func() error { return e.UpQueue([]string{"b", "c"}) }},
		{"move a down", func() error { return e.DownQueue([]string{"a"}) }},
		{"remove d,e", func() error { return e.RemoveQueue([]string{"d", "e"}) }},
		{"remove current a", func() error { return e.RemoveQueue([]string{"a"}) }},
		{"replace queue", func() error { return e.UpdateQueue([]models.MediaItem{{ID: "z"}}) }},
		{"remove all", func() error { return e.RemoveQueue([]string{"z"}) }},
	}
	for _, op := range ops {
		if err := op.run(); err != nil {
			t.Fatalf("%s: %v", op.name, err)
		}
		assertInvariant(t, e, op.name)
	}

	if dev := e.Snapshot(); dev.CurrentIndex != nil {
		t.Errorf("index after emptying queue = %d, want nil", *dev.CurrentIndex)
	}
}

func TestInsertBeforeCurrentShiftsIndex(t *testing.T) {
	e, fp := testEngine(t)
	if err := e.LaunchQueue(threeItems()); err != nil {
		t.Fatal(err)
	}
	if err := e.ChangeCurrentMedia("b"); err != nil {
		t.Fatal(err)
	}
	fp.started()

	before := "a"
	if err := e.InsertQueue([]models.MediaItem{{ID: "x"}, {ID: "y"}}, &before); err != nil {
		t.Fatal(err)
	}

	if idx := currentIndex(t, e); idx != 3 {
		t.Errorf("current index = %d, want 3 (shifted by insertion)", idx)
	}
	if item := e.Snapshot().CurrentItem(); item == nil || item.ID != "b" {
		t.Errorf("current item = %+v, want b", item)
	}
}

func TestRepeatModeEndOfQueue(t *testing.T) {
	tests := []struct {
		mode       models.RepeatMode
		wantIndex  int
		wantStatus models.PlaybackStatus
	}{
		{models.RepeatOff, 0, models.StatusStopped},
		{models.RepeatOne, 2, models.StatusStarting},
		{models.RepeatAll, 0, models.StatusStarting},
		{models.RepeatShuffle, 0, models.StatusStarting},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			e, fp := testEngine(t)
			if err := e.LaunchQueue(threeItems()); err != nil {
				t.Fatal(err)
			}
			if err := e.ChangeRepeatMode(tt.mode); err != nil {
				t.Fatal(err)
			}
			// select the last queue entry, whatever shuffling did to the order
			last := e.Snapshot().Queue[2].ID
			if err := e.ChangeCurrentMedia(last); err != nil {
				t.Fatal(err)
			}
			fp.started()

			fp.exit(0)

			dev := e.Snapshot()
			if dev.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", dev.Status, tt.wantStatus)
			}
			if dev.CurrentIndex == nil || *dev.CurrentIndex != tt.wantIndex {
				t.Errorf("index = %v, want %d", dev.CurrentIndex, tt.wantIndex)
			}
		})
	}
}

func TestRepeatOffMidQueueAdvances(t *testing.T) {
	e, fp := testEngine(t)
	if err := e.LaunchQueue(threeItems()); err != nil {
		t.Fatal(err)
	}
	fp.started()

	fp.exit(0)

	if idx := currentIndex(t, e); idx != 1 {
		t.Errorf("index after natural end = %d, want 1", idx)
	}
	if got := len(fp.starts); got != 2 {
		t.Errorf("player launches = %d, want 2", got)
	}
}

func TestSeekClampsToRuntime(t *testing.T) {
	e, fp := testEngine(t)
	if err := e.LaunchQueue([]models.MediaItem{{ID: "m", Runtime: 300 * time.Second}}); err != nil {
		t.Fatal(err)
	}
	fp.started()

	if err := e.Seek(500 * time.Second); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := e.Snapshot().CurrentTime; got != 300*time.Second {
		t.Errorf("current time = %v, want 300s", got)
	}
	if got := fp.seeks[len(fp.seeks)-1]; got != 300*time.Second {
		t.Errorf("seek sent to player = %v, want 300s", got)
	}

	if err := e.SeekRelative(-10 * time.Minute); err != nil {
		t.Fatalf("SeekRelative: %v", err)
	}
	if got := e.Snapshot().CurrentTime; got != 0 {
		t.Errorf("current time after large rewind = %v, want 0", got)
	}
}

func TestPauseOnlyFromPlaying(t *testing.T) {
	e, fp := testEngine(t)
	if err := e.Pause(); err == nil {
		t.Error("pause from stopped should fail")
	}

	if err := e.LaunchQueue(threeItems()); err != nil {
		t.Fatal(err)
	}
	fp.started()

	if err := e.Pause(); err != nil {
		t.Fatalf("pause from playing: %v", err)
	}
	if got := e.Snapshot().Status; got != models.StatusPaused {
		t.Errorf("status = %q, want paused", got)
	}
}

func TestPlayResumesPausedInProcess(t *testing.T) {
	e, fp := testEngine(t)
	if err := e.LaunchQueue(threeItems()); err != nil {
		t.Fatal(err)
	}
	fp.started()
	if err := e.Pause(); err != nil {
		t.Fatal(err)
	}

	launches := len(fp.starts)
	if err := e.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if got := e.Snapshot().Status; got != models.StatusPlaying {
		t.Errorf("status = %q, want playing", got)
	}
	if len(fp.starts) != launches {
		t.Error("resume relaunched the player instead of unpausing in-process")
	}
	if fp.paused != 2 {
		t.Errorf("pause toggles = %d, want 2", fp.paused)
	}
}

func TestLaunchFailureSetsStatusMessage(t *testing.T) {
	e, fp := testEngine(t)
	fp.failStart = true

	if err := e.LaunchQueue(threeItems()); err != nil {
		t.Fatalf("LaunchQueue: %v", err)
	}

	dev := e.Snapshot()
	if dev.Status != models.StatusStopped {
		t.Errorf("status = %q, want stopped", dev.Status)
	}
	if dev.StatusMessage == "" {
		t.Error("expected a user-visible status message after launch failure")
	}
}

func TestAbnormalExitStops(t *testing.T) {
	e, fp := testEngine(t)
	if err := e.LaunchQueue(threeItems()); err != nil {
		t.Fatal(err)
	}
	fp.started()

	fp.exit(1)

	dev := e.Snapshot()
	if dev.Status != models.StatusStopped {
		t.Errorf("status = %q, want stopped", dev.Status)
	}
	if dev.StatusMessage == "" {
		t.Error("expected status message after abnormal exit")
	}
	if len(fp.starts) != 1 {
		t.Errorf("abnormal exit should not advance: launches = %d", len(fp.starts))
	}
}

func TestNextPreviousClamp(t *testing.T) {
	e, fp := testEngine(t)
	if err := e.LaunchQueue(threeItems()); err != nil {
		t.Fatal(err)
	}
	fp.started()

	if err := e.Previous(); err != nil {
		t.Fatal(err)
	}
	if idx := currentIndex(t, e); idx != 0 {
		t.Errorf("previous at head = %d, want 0", idx)
	}

	for i := 0; i < 5; i++ {
		if err := e.Next(); err != nil {
			t.Fatal(err)
		}
	}
	if idx := currentIndex(t, e); idx != 2 {
		t.Errorf("next past tail = %d, want 2", idx)
	}
}
