/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediacache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/models"
)

func testStore(t *testing.T, budget int64) *Store {
	t.Helper()
	s, err := New(Config{
		Dir:           t.TempDir(),
		BudgetBytes:   budget,
		RecencyWeight: 0.5,
		MaxDownloads:  2,
		FreeDisk:      func(string) (int64, error) { return 1 << 40, nil },
		Now:           func() time.Time { return time.Unix(1000, 0) },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// seed installs a ready entry backed by a real file of the given size.
func seed(t *testing.T, s *Store, mediaID string, size int64, lastAccess time.Time) Key {
	t.Helper()
	key := Key{MediaID: mediaID, Format: models.CacheFormatAudio}
	path := filepath.Join(s.cfg.Dir, cacheFilename(key, "mp3"))
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("seed %s: %v", mediaID, err)
	}
	s.items[key] = &entry{
		key:        key,
		path:       path,
		size:       size,
		ready:      true,
		ratio:      1,
		lastAccess: lastAccess,
	}
	return key
}

func TestParseCacheFilename(t *testing.T) {
	tests := []struct {
		name string
		want Key
		ok   bool
	}{
		{"abc123-audio.mp3", Key{MediaID: "abc123", Format: models.CacheFormatAudio}, true},
		{"show-s01e02-video.mkv", Key{MediaID: "show-s01e02", Format: models.CacheFormatVideo}, true},
		{"noformat.mp3", Key{}, false},
		{"-audio.mp3", Key{}, false},
		{"abc-flac.mp3", Key{}, false},
	}
	for _, tt := range tests {
		got, ok := parseCacheFilename(tt.name)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseCacheFilename(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRescanAdoptsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	for name, size := range map[string]int{
		"m1-audio.mp3": 100,
		"m2-video.mkv": 200,
		"junk.txt":     50,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s, err := New(Config{Dir: dir, BudgetBytes: 1 << 20, RecencyWeight: 0.5}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if len(s.items) != 2 {
		t.Fatalf("adopted %d entries, want 2", len(s.items))
	}
	info, ok := s.Lookup("m1", models.CacheFormatAudio)
	if !ok || !info.Ready || info.Size != 100 {
		t.Errorf("m1 lookup = %+v, %v", info, ok)
	}
}

func TestEvictionMakesExactlyEnoughRoom(t *testing.T) {
	s := testStore(t, 700)
	now := time.Unix(1000, 0)
	seed(t, s, "small", 100, now)
	seed(t, s, "mid", 200, now)
	big := seed(t, s, "big", 300, now)

	// used = 600, headroom = 100. 250 bytes requires one eviction; with
	// identical recency the largest entry scores highest.
	s.mu.Lock()
	err := s.ensureSpaceLocked(250)
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("ensureSpaceLocked: %v", err)
	}

	if _, ok := s.items[big]; ok {
		t.Error("largest entry should have been evicted")
	}
	if len(s.items) != 2 {
		t.Errorf("evicted more than necessary: %d entries remain, want 2", len(s.items))
	}
	if _, err := os.Stat(filepath.Join(s.cfg.Dir, "big-audio.mp3")); !os.IsNotExist(err) {
		t.Error("evicted file still on disk")
	}
}

func TestEvictionPrefersStale(t *testing.T) {
	s := testStore(t, 300)
	now := time.Unix(1000, 0)
	stale := seed(t, s, "stale", 100, now.Add(-time.Hour))
	seed(t, s, "fresh", 100, now)

	s.mu.Lock()
	err := s.ensureSpaceLocked(150)
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("ensureSpaceLocked: %v", err)
	}

	if _, ok := s.items[stale]; ok {
		t.Error("stale entry should have been evicted before fresh one")
	}
}

func TestEvictionFailsWhenBudgetTooSmall(t *testing.T) {
	s := testStore(t, 500)
	seed(t, s, "a", 100, time.Unix(1000, 0))
	seed(t, s, "b", 200, time.Unix(1000, 0))

	s.mu.Lock()
	err := s.ensureSpaceLocked(600)
	s.mu.Unlock()
	if err == nil {
		t.Fatal("expected deterministic failure for item over budget")
	}
	if len(s.items) != 2 {
		t.Errorf("failed eviction deleted entries: %d remain, want 2", len(s.items))
	}
}

func TestEvictionSkipsInFlightDownloads(t *testing.T) {
	s := testStore(t, 500)
	key := Key{MediaID: "dl", Format: models.CacheFormatAudio}
	s.items[key] = &entry{key: key, path: filepath.Join(s.cfg.Dir, "dl-audio.mp3"), size: 400}

	s.mu.Lock()
	err := s.ensureSpaceLocked(300)
	s.mu.Unlock()
	if err == nil {
		t.Fatal("expected failure when only in-flight entries hold the space")
	}
	if _, ok := s.items[key]; !ok {
		t.Error("in-flight entry was evicted")
	}
}

type fakeSource struct {
	data []byte
	// block, when set, makes the reader wait for ctx cancellation after the
	// first chunk.
	block bool
}

type fakeBody struct {
	ctx   context.Context
	data  []byte
	off   int
	block bool
	sent  bool
}

func (f *fakeSource) Fetch(ctx context.Context, _ string) (io.ReadCloser, int64, error) {
	return &fakeBody{ctx: ctx, data: f.data, block: f.block}, int64(len(f.data)), nil
}

func (b *fakeBody) Read(p []byte) (int, error) {
	if b.block && b.sent {
		<-b.ctx.Done()
		return 0, b.ctx.Err()
	}
	if b.off >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.off:b.off+min(16, len(b.data)-b.off)])
	b.off += n
	b.sent = true
	return n, nil
}

func (b *fakeBody) Close() error { return nil }

func waitStatus(t *testing.T, ch <-chan models.CacheStatus, want models.CacheStatus) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

func TestDownloadCompletes(t *testing.T) {
	statuses := make(chan models.CacheStatus, 64)
	s, err := New(Config{
		Dir:           t.TempDir(),
		BudgetBytes:   1 << 20,
		RecencyWeight: 0.5,
		Sources: map[models.MediaSourceKind]Source{
			models.SourceHTTP: &fakeSource{data: make([]byte, 1024)},
		},
		OnStatus: func(_ string, st models.CacheStatus, _ float64) { statuses <- st },
		FreeDisk: func(string) (int64, error) { return 1 << 40, nil },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	item := models.MediaItem{ID: "song", Location: "http://x/song", SourceKind: models.SourceHTTP, Container: "mp3", Size: 1024}
	_, status := s.GetCacheItem(context.Background(), item, models.CacheFormatAudio)
	if status != models.CacheStatusCaching {
		t.Fatalf("status = %q, want caching", status)
	}

	waitStatus(t, statuses, models.CacheStatusCached)

	info, ok := s.Lookup("song", models.CacheFormatAudio)
	if !ok || !info.Ready || info.Size != 1024 {
		t.Fatalf("lookup after download = %+v, %v", info, ok)
	}
	if _, err := os.Stat(info.Path); err != nil {
		t.Errorf("cache file missing: %v", err)
	}
}

func TestCancelCachingRemovesPartial(t *testing.T) {
	statuses := make(chan models.CacheStatus, 64)
	s, err := New(Config{
		Dir:           t.TempDir(),
		BudgetBytes:   1 << 20,
		RecencyWeight: 0.5,
		Sources: map[models.MediaSourceKind]Source{
			models.SourceHTTP: &fakeSource{data: make([]byte, 1024), block: true},
		},
		OnStatus: func(_ string, st models.CacheStatus, _ float64) { statuses <- st },
		FreeDisk: func(string) (int64, error) { return 1 << 40, nil },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	item := models.MediaItem{ID: "movie", Location: "http://x/movie", SourceKind: models.SourceHTTP, Container: "mkv", Size: 1024}
	info, status := s.GetCacheItem(context.Background(), item, models.CacheFormatVideo)
	if status != models.CacheStatusCaching {
		t.Fatalf("status = %q, want caching", status)
	}

	s.CancelCaching("movie", models.CacheFormatVideo)
	waitStatus(t, statuses, models.CacheStatusUncached)

	if _, ok := s.Lookup("movie", models.CacheFormatVideo); ok {
		t.Error("cancelled entry still present")
	}
	if _, err := os.Stat(info.Path); !os.IsNotExist(err) {
		t.Error("partial file not removed after cancellation")
	}
}

func TestGetCacheItemReturnsExisting(t *testing.T) {
	s := testStore(t, 1000)
	seed(t, s, "hit", 100, time.Unix(500, 0))

	item := models.MediaItem{ID: "hit", SourceKind: models.SourceHTTP, Size: 100}
	info, status := s.GetCacheItem(context.Background(), item, models.CacheFormatAudio)
	if status != models.CacheStatusCached || !info.Ready {
		t.Fatalf("existing entry: status %q, info %+v", status, info)
	}

	// the hit must refresh recency
	if got := s.items[info.Key].lastAccess; !got.Equal(time.Unix(1000, 0)) {
		t.Errorf("lastAccess = %v, want refreshed", got)
	}
}
