/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediacache maintains a bounded on-disk cache of remote media,
// evicting the least valuable entries to make room for new downloads.
package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/hearthlabs/hearth/internal/fairsem"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/telemetry"
)

// Key identifies one cache entry.
type Key struct {
	MediaID string
	Format  models.CacheFormat
}

// ItemInfo is a point-in-time view of a cache entry.
type ItemInfo struct {
	Key   Key
	Path  string
	Size  int64
	Ready bool
	Ratio float64
}

type entry struct {
	key        Key
	path       string
	size       int64 // expected size while downloading, file size when ready
	ready      bool
	ratio      float64
	lastAccess time.Time
	cancel     context.CancelFunc
}

// StatusFunc receives caching progress. Called outside the store lock.
type StatusFunc func(mediaID string, status models.CacheStatus, ratio float64)

// Config configures the cache store.
type Config struct {
	Dir           string
	BudgetBytes   int64
	RecencyWeight float64 // weight of the recency term in eviction scoring, [0,1]
	MaxDownloads  int

	Sources  map[models.MediaSourceKind]Source
	OnStatus StatusFunc

	// FreeDisk and Now are injectable for tests.
	FreeDisk func(dir string) (int64, error)
	Now      func() time.Time
}

// Store is the disk-backed media cache.
type Store struct {
	cfg    Config
	sem    *fairsem.Semaphore
	logger zerolog.Logger

	mu    sync.Mutex
	items map[Key]*entry
}

// New creates the store, adopting any cache files already on disk.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.RecencyWeight < 0 || cfg.RecencyWeight > 1 {
		return nil, fmt.Errorf("recency weight %v outside [0,1]", cfg.RecencyWeight)
	}
	if cfg.MaxDownloads < 1 {
		cfg.MaxDownloads = 1
	}
	if cfg.FreeDisk == nil {
		cfg.FreeDisk = diskFree
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		sem:    fairsem.New(cfg.MaxDownloads),
		logger: logger.With().Str("component", "mediacache").Logger(),
		items:  make(map[Key]*entry),
	}

	if err := s.rescan(); err != nil {
		return nil, err
	}
	return s, nil
}

// rescan adopts existing cache files by filename parsing.
func (s *Store) rescan() error {
	dirents, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}

	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		key, ok := parseCacheFilename(de.Name())
		if !ok {
			s.logger.Debug().Str("file", de.Name()).Msg("skipping unrecognized cache file")
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		s.items[key] = &entry{
			key:        key,
			path:       filepath.Join(s.cfg.Dir, de.Name()),
			size:       info.Size(),
			ready:      true,
			ratio:      1,
			lastAccess: info.ModTime(),
		}
	}

	s.logger.Info().Int("entries", len(s.items)).Msg("cache rescan complete")
	s.publishBytesMetric()
	return nil
}

// parseCacheFilename splits "<mediaId>-<format><ext>" into a key.
func parseCacheFilename(name string) (Key, bool) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	idx := strings.LastIndex(base, "-")
	if idx <= 0 {
		return Key{}, false
	}
	format := models.CacheFormat(base[idx+1:])
	if format != models.CacheFormatAudio && format != models.CacheFormatVideo {
		return Key{}, false
	}
	return Key{MediaID: base[:idx], Format: format}, true
}

// GetCacheItem returns the entry for (item id, format), starting a background
// download when none exists. The returned status is Cached when the file is
// ready, Caching when a download is running, and Unavailable when space could
// not be made. It never returns an error to the caller.
func (s *Store) GetCacheItem(ctx context.Context, item models.MediaItem, format models.CacheFormat) (ItemInfo, models.CacheStatus) {
	key := Key{MediaID: item.ID, Format: format}

	s.mu.Lock()
	if e, ok := s.items[key]; ok {
		e.lastAccess = s.cfg.Now()
		info := e.info()
		s.mu.Unlock()
		if info.Ready {
			return info, models.CacheStatusCached
		}
		return info, models.CacheStatusCaching
	}

	if err := s.ensureSpaceLocked(item.Size); err != nil {
		s.mu.Unlock()
		s.logger.Warn().Err(err).
			Str("media_id", item.ID).
			Int64("needed", item.Size).
			Msg("cannot make room for cache item")
		return ItemInfo{}, models.CacheStatusUnavailable
	}

	dlCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{
		key:        key,
		path:       filepath.Join(s.cfg.Dir, cacheFilename(key, item.Container)),
		size:       item.Size,
		lastAccess: s.cfg.Now(),
		cancel:     cancel,
	}
	s.items[key] = e
	info := e.info()
	s.mu.Unlock()

	go s.download(dlCtx, e, item)

	return info, models.CacheStatusCaching
}

func cacheFilename(key Key, container string) string {
	ext := container
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s-%s%s", key.MediaID, key.Format, ext)
}

// Lookup returns the current view of an entry without side effects.
func (s *Store) Lookup(mediaID string, format models.CacheFormat) (ItemInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[Key{MediaID: mediaID, Format: format}]
	if !ok {
		return ItemInfo{}, false
	}
	return e.info(), true
}

// CancelCaching cancels an in-flight download for the item. Ready entries are
// untouched.
func (s *Store) CancelCaching(mediaID string, format models.CacheFormat) {
	s.mu.Lock()
	e, ok := s.items[Key{MediaID: mediaID, Format: format}]
	var cancel context.CancelFunc
	if ok && !e.ready && e.cancel != nil {
		cancel = e.cancel
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close cancels all in-flight downloads.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if !e.ready && e.cancel != nil {
			e.cancel()
		}
	}
	return nil
}

func (e *entry) info() ItemInfo {
	return ItemInfo{Key: e.key, Path: e.path, Size: e.size, Ready: e.ready, Ratio: e.ratio}
}

// ensureSpaceLocked runs the eviction algorithm until free space covers
// needed bytes. Entries still downloading are never eviction candidates.
func (s *Store) ensureSpaceLocked(needed int64) error {
	if needed <= 0 {
		return nil
	}
	if needed > s.cfg.BudgetBytes {
		return fmt.Errorf("item of %d bytes exceeds cache budget of %d bytes", needed, s.cfg.BudgetBytes)
	}

	free, err := s.freeLocked()
	if err != nil {
		return err
	}
	if free >= needed {
		return nil
	}

	for _, key := range s.evictionOrderLocked() {
		e := s.items[key]
		s.deleteLocked(e)
		telemetry.CacheEvictions.Inc()
		s.logger.Info().
			Str("media_id", e.key.MediaID).
			Str("format", string(e.key.Format)).
			Int64("size", e.size).
			Msg("evicted cache entry")

		free, err = s.freeLocked()
		if err != nil {
			return err
		}
		if free >= needed {
			s.publishBytesMetric()
			return nil
		}
	}

	s.publishBytesMetric()
	return fmt.Errorf("eviction exhausted with %d bytes still short", needed-max(free, 0))
}

// freeLocked returns the usable headroom: the smaller of disk free space and
// the remaining cache budget.
func (s *Store) freeLocked() (int64, error) {
	diskAvail, err := s.cfg.FreeDisk(s.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("probe disk space: %w", err)
	}

	var used int64
	for _, e := range s.items {
		used += e.size
	}
	headroom := s.cfg.BudgetBytes - used
	if diskAvail < headroom {
		return diskAvail, nil
	}
	return headroom, nil
}

// evictionOrderLocked scores ready entries by a weighted blend of normalized
// recency and normalized size and returns keys in descending score order.
func (s *Store) evictionOrderLocked() []Key {
	now := s.cfg.Now()

	var candidates []*entry
	var maxAge float64
	var maxSize int64
	for _, e := range s.items {
		if !e.ready {
			continue
		}
		candidates = append(candidates, e)
		if age := now.Sub(e.lastAccess).Seconds(); age > maxAge {
			maxAge = age
		}
		if e.size > maxSize {
			maxSize = e.size
		}
	}

	score := func(e *entry) float64 {
		var recency, size float64
		if maxAge > 0 {
			recency = now.Sub(e.lastAccess).Seconds() / maxAge
		}
		if maxSize > 0 {
			size = float64(e.size) / float64(maxSize)
		}
		w := s.cfg.RecencyWeight
		return w*recency + (1-w)*size
	}

	sort.Slice(candidates, func(i, j int) bool {
		return score(candidates[i]) > score(candidates[j])
	})

	keys := make([]Key, len(candidates))
	for i, e := range candidates {
		keys[i] = e.key
	}
	return keys
}

func (s *Store) deleteLocked(e *entry) {
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", e.path).Msg("failed to delete cache file")
	}
	delete(s.items, e.key)
}

// download runs in the background, gated by the fair semaphore.
func (s *Store) download(ctx context.Context, e *entry, item models.MediaItem) {
	if err := s.sem.Acquire(ctx); err != nil {
		s.finishCancelled(e, item)
		return
	}
	defer s.sem.Release()

	telemetry.CacheDownloadsActive.Inc()
	defer telemetry.CacheDownloadsActive.Dec()

	source, ok := s.cfg.Sources[item.SourceKind]
	if !ok {
		s.finishFailed(e, item, fmt.Errorf("no source for kind %q", item.SourceKind))
		return
	}

	body, total, err := source.Fetch(ctx, item.Location)
	if err != nil {
		if ctx.Err() != nil {
			s.finishCancelled(e, item)
			return
		}
		s.finishFailed(e, item, err)
		return
	}
	defer body.Close()

	if total <= 0 {
		total = item.Size
	}

	file, err := os.Create(e.path)
	if err != nil {
		s.finishFailed(e, item, fmt.Errorf("create cache file: %w", err))
		return
	}

	written, err := s.copyWithProgress(ctx, file, body, total, e, item)
	closeErr := file.Close()
	if err != nil {
		if ctx.Err() != nil {
			s.finishCancelled(e, item)
			return
		}
		s.finishFailed(e, item, err)
		return
	}
	if closeErr != nil {
		s.finishFailed(e, item, closeErr)
		return
	}

	s.mu.Lock()
	e.ready = true
	e.ratio = 1
	e.size = written
	e.lastAccess = s.cfg.Now()
	s.mu.Unlock()
	s.publishBytesMetric()

	s.logger.Info().
		Str("media_id", item.ID).
		Int64("bytes", written).
		Msg("cache download complete")
	s.notify(item.ID, models.CacheStatusCached, 1)
}

// copyWithProgress copies body to file, honoring cancellation and reporting
// ratio changes of at least one percent.
func (s *Store) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, e *entry, item models.MediaItem) (int64, error) {
	buf := make([]byte, 64*1024)
	var written int64
	var lastReported float64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write cache file: %w", err)
			}
			written += int64(n)

			if total > 0 {
				ratio := float64(written) / float64(total)
				if ratio > 1 {
					ratio = 1
				}
				if ratio-lastReported >= 0.01 {
					lastReported = ratio
					s.mu.Lock()
					e.ratio = ratio
					s.mu.Unlock()
					s.notify(item.ID, models.CacheStatusCaching, ratio)
				}
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read media: %w", readErr)
		}
	}
}

func (s *Store) finishCancelled(e *entry, item models.MediaItem) {
	s.mu.Lock()
	s.deleteLocked(e)
	s.mu.Unlock()

	s.logger.Info().Str("media_id", item.ID).Msg("cache download cancelled")
	s.notify(item.ID, models.CacheStatusUncached, 0)
}

func (s *Store) finishFailed(e *entry, item models.MediaItem, err error) {
	s.mu.Lock()
	s.deleteLocked(e)
	s.mu.Unlock()

	telemetry.CacheDownloadFailures.Inc()
	s.logger.Error().Err(err).Str("media_id", item.ID).Msg("cache download failed")
	s.notify(item.ID, models.CacheStatusUnavailable, 0)
}

func (s *Store) notify(mediaID string, status models.CacheStatus, ratio float64) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(mediaID, status, ratio)
	}
}

func (s *Store) publishBytesMetric() {
	var ready int64
	for _, e := range s.items {
		if e.ready {
			ready += e.size
		}
	}
	telemetry.CacheBytes.Set(float64(ready))
}

func diskFree(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
