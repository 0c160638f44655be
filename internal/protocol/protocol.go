/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package protocol defines the fixed command and event set carried over the
// hub/agent control channel as JSON frames.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/hearthlabs/hearth/internal/models"
)

// Hub to agent methods.
const (
	MethodGetDevice          = "GetDevice"
	MethodPlay               = "Play"
	MethodStop               = "Stop"
	MethodPause              = "Pause"
	MethodNext               = "Next"
	MethodPrevious           = "Previous"
	MethodSeek               = "Seek"
	MethodSeekRelative       = "SeekRelative"
	MethodChangeCurrentMedia = "ChangeCurrentMedia"
	MethodChangeRepeatMode   = "ChangeRepeatMode"
	MethodSetPlaybackRate    = "SetPlaybackRate"
	MethodLaunchQueue        = "LaunchQueue"
	MethodInsertQueue        = "InsertQueue"
	MethodUpdateQueue        = "UpdateQueue"
	MethodRemoveQueue        = "RemoveQueue"
	MethodUpQueue            = "UpQueue"
	MethodDownQueue          = "DownQueue"
	MethodSetVolume          = "SetVolume"
	MethodToggleMute         = "ToggleMute"
)

// Agent to hub event methods.
const (
	EventStatus        = "UpdateStatus"
	EventStatusMessage = "UpdateStatusMessage"
	EventCurrentItem   = "UpdateCurrentItem"
	EventCurrentTime   = "UpdateCurrentTime"
	EventStartTime     = "UpdateStartTime"
	EventRepeatMode    = "UpdateRepeatMode"
	EventVolume        = "UpdateVolume"
	EventMuted         = "UpdateMuted"
	EventPlaybackRate  = "UpdatePlaybackRate"

	EventItemsAdded     = "ItemsAdded"
	EventItemsRemoved   = "ItemsRemoved"
	EventItemsMovedUp   = "ItemsMovedUp"
	EventItemsMovedDown = "ItemsMovedDown"
	EventItemsCleared   = "ItemsCleared"
	EventQueueReordered = "QueueReordered"

	EventCacheStatus = "CacheStatusUpdate"
)

// Frame is one message on the control channel. Requests set Method and
// optionally ID when a response is expected; responses echo the ID and carry
// Result or Error.
type Frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SeekParams carries an absolute seek target.
type SeekParams struct {
	Time time.Duration `json:"time"`
}

// SeekRelativeParams carries a signed seek delta.
type SeekRelativeParams struct {
	Delta time.Duration `json:"delta"`
}

// ChangeMediaParams selects a queue item by id.
type ChangeMediaParams struct {
	ID string `json:"id"`
}

// RepeatModeParams sets the repeat mode.
type RepeatModeParams struct {
	Mode models.RepeatMode `json:"mode"`
}

// RateParams sets the playback rate.
type RateParams struct {
	Rate float64 `json:"rate"`
}

// VolumeParams sets the volume level (0-1).
type VolumeParams struct {
	Level float64 `json:"level"`
}

// QueueParams carries media items for launch and update operations.
type QueueParams struct {
	Items []models.MediaItem `json:"items"`
}

// InsertQueueParams carries items plus an optional insertion anchor. A nil
// InsertBeforeID appends.
type InsertQueueParams struct {
	Items          []models.MediaItem `json:"items"`
	InsertBeforeID *string            `json:"insertBeforeId,omitempty"`
}

// IDsParams carries item ids for remove and move operations.
type IDsParams struct {
	IDs []string `json:"ids"`
}

// Event payloads (agent to hub).

// StatusUpdate announces a playback status change.
type StatusUpdate struct {
	Status models.PlaybackStatus `json:"status"`
}

// StatusMessageUpdate announces a user-visible status message change.
type StatusMessageUpdate struct {
	Message string `json:"message"`
}

// CurrentItemUpdate announces the id of the current queue item; empty means
// no item is selected.
type CurrentItemUpdate struct {
	ID string `json:"id"`
}

// TimeUpdate carries an authoritative position or start-offset change.
type TimeUpdate struct {
	Time time.Duration `json:"time"`
}

// MutedUpdate announces the mute flag.
type MutedUpdate struct {
	Muted bool `json:"muted"`
}

// ItemsAddedUpdate carries queue additions with their placement semantics.
// Launch means the queue was replaced and playback started from the front.
type ItemsAddedUpdate struct {
	Items          []models.MediaItem `json:"items"`
	InsertBeforeID *string            `json:"insertBeforeId,omitempty"`
	Launch         bool               `json:"launch,omitempty"`
}

// QueueUpdate carries the full reordered queue.
type QueueUpdate struct {
	Items []models.MediaItem `json:"items"`
}

// CacheStatusUpdate reports caching progress for one queue item.
type CacheStatusUpdate struct {
	ID     string             `json:"id"`
	Status models.CacheStatus `json:"status"`
	Ratio  float64            `json:"ratio"`
}

// NewRequest builds a frame for a method with marshalled params. Marshalling
// of the fixed param types cannot fail, so errors are swallowed here and
// caught by decode on the far side.
func NewRequest(id, method string, params any) Frame {
	frame := Frame{ID: id, Method: method}
	if params != nil {
		raw, _ := json.Marshal(params)
		frame.Params = raw
	}
	return frame
}

// NewEvent builds a one-way event frame.
func NewEvent(method string, params any) Frame {
	return NewRequest("", method, params)
}
