/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/protocol"
	"github.com/hearthlabs/hearth/internal/telemetry"
)

// ExecFunc runs one decoded command to completion.
type ExecFunc func(ctx context.Context, cmd *protocol.Command) error

// CommandQueue serializes inbound commands: submissions are buffered FIFO and
// a single drain loop executes them one at a time. A command that exceeds the
// timeout is logged and abandoned; its action may still finish later but the
// queue moves on, so one stuck command cannot wedge the connection.
type CommandQueue struct {
	logger  zerolog.Logger
	timeout time.Duration
	ch      chan *protocol.Command
}

// NewCommandQueue creates a queue holding up to size pending commands.
func NewCommandQueue(size int, timeout time.Duration, logger zerolog.Logger) *CommandQueue {
	return &CommandQueue{
		logger:  logger.With().Str("component", "command_queue").Logger(),
		timeout: timeout,
		ch:      make(chan *protocol.Command, size),
	}
}

// Submit enqueues a command. It fails when the queue is full rather than
// blocking the connection's read loop.
func (q *CommandQueue) Submit(cmd *protocol.Command) error {
	select {
	case q.ch <- cmd:
		telemetry.CommandQueueDepth.Inc()
		return nil
	default:
		return fmt.Errorf("command queue full, dropping %s", cmd.Method)
	}
}

// Drain executes queued commands in submission order until ctx is cancelled.
func (q *CommandQueue) Drain(ctx context.Context, exec ExecFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-q.ch:
			telemetry.CommandQueueDepth.Dec()
			q.run(ctx, cmd, exec)
		}
	}
}

func (q *CommandQueue) run(ctx context.Context, cmd *protocol.Command, exec ExecFunc) {
	cmdCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- exec(cmdCtx, cmd)
	}()

	select {
	case err := <-done:
		telemetry.CommandsExecuted.WithLabelValues(cmd.Method).Inc()
		if err != nil {
			q.logger.Warn().Err(err).Str("method", cmd.Method).Msg("command failed")
		}
	case <-cmdCtx.Done():
		if ctx.Err() != nil {
			return
		}
		telemetry.CommandTimeouts.WithLabelValues(cmd.Method).Inc()
		q.logger.Error().
			Str("method", cmd.Method).
			Dur("timeout", q.timeout).
			Msg("command timed out, abandoning")
	}
}
