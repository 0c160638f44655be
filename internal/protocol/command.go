/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package protocol

import (
	"encoding/json"
	"fmt"
)

// Command is a decoded inbound request: the method tag plus exactly one
// populated payload field matching it. Decoding up front keeps the execution
// queue's dispatch a plain switch with no reflection.
type Command struct {
	ID     string
	Method string

	Seek         *SeekParams
	SeekRelative *SeekRelativeParams
	ChangeMedia  *ChangeMediaParams
	RepeatMode   *RepeatModeParams
	Rate         *RateParams
	Volume       *VolumeParams
	Queue        *QueueParams
	InsertQueue  *InsertQueueParams
	IDs          *IDsParams
}

// DecodeCommand parses a frame into a typed command, rejecting unknown
// methods and malformed params.
func DecodeCommand(frame Frame) (*Command, error) {
	cmd := &Command{ID: frame.ID, Method: frame.Method}

	decode := func(dst any) error {
		if len(frame.Params) == 0 {
			return fmt.Errorf("%s: missing params", frame.Method)
		}
		if err := json.Unmarshal(frame.Params, dst); err != nil {
			return fmt.Errorf("%s: bad params: %w", frame.Method, err)
		}
		return nil
	}

	switch frame.Method {
	case MethodGetDevice, MethodPlay, MethodStop, MethodPause,
		MethodNext, MethodPrevious, MethodToggleMute:
		// No payload.

	case MethodSeek:
		cmd.Seek = &SeekParams{}
		if err := decode(cmd.Seek); err != nil {
			return nil, err
		}

	case MethodSeekRelative:
		cmd.SeekRelative = &SeekRelativeParams{}
		if err := decode(cmd.SeekRelative); err != nil {
			return nil, err
		}

	case MethodChangeCurrentMedia:
		cmd.ChangeMedia = &ChangeMediaParams{}
		if err := decode(cmd.ChangeMedia); err != nil {
			return nil, err
		}

	case MethodChangeRepeatMode:
		cmd.RepeatMode = &RepeatModeParams{}
		if err := decode(cmd.RepeatMode); err != nil {
			return nil, err
		}

	case MethodSetPlaybackRate:
		cmd.Rate = &RateParams{}
		if err := decode(cmd.Rate); err != nil {
			return nil, err
		}

	case MethodSetVolume:
		cmd.Volume = &VolumeParams{}
		if err := decode(cmd.Volume); err != nil {
			return nil, err
		}

	case MethodLaunchQueue, MethodUpdateQueue:
		cmd.Queue = &QueueParams{}
		if err := decode(cmd.Queue); err != nil {
			return nil, err
		}

	case MethodInsertQueue:
		cmd.InsertQueue = &InsertQueueParams{}
		if err := decode(cmd.InsertQueue); err != nil {
			return nil, err
		}

	case MethodRemoveQueue, MethodUpQueue, MethodDownQueue:
		cmd.IDs = &IDsParams{}
		if err := decode(cmd.IDs); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown method %q", frame.Method)
	}

	return cmd, nil
}
