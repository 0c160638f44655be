/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the shared playback domain types exchanged between
// the hub and device agents.
package models

import (
	"fmt"
	"net/url"
	"time"
	"unicode"
)

// PlaybackStatus enumerates the playback engine states.
type PlaybackStatus string

const (
	StatusStopped   PlaybackStatus = "stopped"
	StatusStarting  PlaybackStatus = "starting"
	StatusPlaying   PlaybackStatus = "playing"
	StatusPausing   PlaybackStatus = "pausing"
	StatusPaused    PlaybackStatus = "paused"
	StatusUnpausing PlaybackStatus = "unpausing"
	StatusFinishing PlaybackStatus = "finishing"
	StatusStopping  PlaybackStatus = "stopping"
)

// RepeatMode enumerates queue repeat behaviors.
type RepeatMode string

const (
	RepeatOff     RepeatMode = "off"
	RepeatOne     RepeatMode = "one"
	RepeatAll     RepeatMode = "all"
	RepeatShuffle RepeatMode = "shuffle"
)

// ValidRepeatMode reports whether mode is one of the known repeat modes.
func ValidRepeatMode(mode RepeatMode) bool {
	switch mode {
	case RepeatOff, RepeatOne, RepeatAll, RepeatShuffle:
		return true
	}
	return false
}

// MediaKind enumerates the metadata flavors a media item can carry.
type MediaKind string

const (
	KindMovie   MediaKind = "movie"
	KindEpisode MediaKind = "episode"
	KindSong    MediaKind = "song"
	KindPhoto   MediaKind = "photo"
	KindVideo   MediaKind = "video"
)

// MediaSourceKind identifies where a media item's bytes come from.
type MediaSourceKind string

const (
	SourceHTTP  MediaSourceKind = "http"
	SourceS3    MediaSourceKind = "s3"
	SourceLocal MediaSourceKind = "local"
)

// CacheFormat selects which rendition of an item is cached.
type CacheFormat string

const (
	CacheFormatAudio CacheFormat = "audio"
	CacheFormatVideo CacheFormat = "video"
)

// CacheStatus describes the lifecycle of a cache entry from the consumer's view.
type CacheStatus string

const (
	CacheStatusUncached    CacheStatus = "uncached"
	CacheStatusCaching     CacheStatus = "caching"
	CacheStatusCached      CacheStatus = "cached"
	CacheStatusUnavailable CacheStatus = "unavailable"
)

// MediaItem is one entry of a device's media queue. Items are immutable after
// creation except for CachedRatio and StartTime.
type MediaItem struct {
	ID          string          `json:"id"`
	Location    string          `json:"location"`
	SourceKind  MediaSourceKind `json:"sourceKind"`
	Container   string          `json:"container"`
	Size        int64           `json:"size"`
	StartTime   time.Duration   `json:"startTime"`
	Runtime     time.Duration   `json:"runtime"`
	Cache       bool            `json:"cache"`
	User        string          `json:"user"`
	Kind        MediaKind       `json:"kind"`
	Title       string          `json:"title"`
	Series      string          `json:"series,omitempty"`
	Season      int             `json:"season,omitempty"`
	Episode     int             `json:"episode,omitempty"`
	Artist      string          `json:"artist,omitempty"`
	Album       string          `json:"album,omitempty"`
	CachedRatio float64         `json:"cachedRatio"`
}

// Device is the full mutable playback state of one endpoint. The agent's
// playback engine owns the authoritative copy; the hub holds a read-mostly
// replica updated by inbound events only.
type Device struct {
	Name            string         `json:"name"`
	Address         string         `json:"address"`
	Version         int            `json:"version"`
	Volume          float64        `json:"volume"`
	Muted           bool           `json:"muted"`
	PlaybackRate    float64        `json:"playbackRate"`
	StatusMessage   string         `json:"statusMessage,omitempty"`
	Status          PlaybackStatus `json:"status"`
	Repeat          RepeatMode     `json:"repeat"`
	CurrentIndex    *int           `json:"currentIndex"`
	Queue           []MediaItem    `json:"queue"`
	CurrentTime     time.Duration  `json:"currentTime"`
	LastStateUpdate time.Time      `json:"lastStateUpdate,omitempty"`
}

// CurrentItem returns the queue entry at CurrentIndex, or nil when no item is
// selected or the index is stale.
func (d *Device) CurrentItem() *MediaItem {
	if d.CurrentIndex == nil {
		return nil
	}
	idx := *d.CurrentIndex
	if idx < 0 || idx >= len(d.Queue) {
		return nil
	}
	return &d.Queue[idx]
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d *Device) Clone() *Device {
	out := *d
	if d.CurrentIndex != nil {
		idx := *d.CurrentIndex
		out.CurrentIndex = &idx
	}
	out.Queue = append([]MediaItem(nil), d.Queue...)
	return &out
}

// PlayMethod describes how media reaches the player for progress reporting.
type PlayMethod string

const (
	PlayMethodDirect PlayMethod = "DirectPlay"
	PlayMethodCached PlayMethod = "DirectStream"
)

// Progress is the playback progress record forwarded to the media catalog.
type Progress struct {
	EventName     string     `json:"eventName,omitempty"`
	ItemID        string     `json:"itemId"`
	PositionTicks int64      `json:"positionTicks"`
	VolumeLevel   int        `json:"volumeLevel"`
	IsMuted       bool       `json:"isMuted"`
	IsPaused      bool       `json:"isPaused"`
	PlaybackRate  float64    `json:"playbackRate"`
	PlayMethod    PlayMethod `json:"playMethod"`
}

// TicksPerSecond is the resolution of catalog position reports (100ns ticks).
const TicksPerSecond = 10_000_000

// DurationToTicks converts a duration to catalog 100ns ticks.
func DurationToTicks(d time.Duration) int64 {
	return d.Nanoseconds() / 100
}

// ValidateDeviceName rejects names containing anything but letters. Device
// names key the connection registry and the cache file layout, so they stay
// deliberately strict.
func ValidateDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	for _, r := range name {
		if !unicode.IsLetter(r) {
			return fmt.Errorf("device name %q contains non-letter character %q", name, r)
		}
	}
	return nil
}

// ValidateDeviceAddress checks that addr parses as an absolute ws/wss/http URL
// with a host.
func ValidateDeviceAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("device address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("device address %q: unsupported scheme %q", addr, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("device address %q: missing host", addr)
	}
	return nil
}
