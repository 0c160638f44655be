/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player wraps one external line-driven media player process per
// device agent.
package player

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	positionPrefix = "ANS_TIME_POSITION="
	startedMarker  = "Starting playback"
)

// Hooks receive asynchronous player output. All callbacks run on the stdout
// reader or waiter goroutine; implementations must not block.
type Hooks struct {
	// OnStarted fires when the process reports playback has begun.
	OnStarted func()
	// OnPosition fires for every authoritative position report, in seconds.
	OnPosition func(seconds float64)
	// OnExit fires exactly once when the process ends. code is the process
	// exit code; launch failures surface through Start instead.
	OnExit func(code int)
}

// Process manages a single external player process.
type Process struct {
	bin    string
	logger zerolog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
}

// New constructs a player around the given binary.
func New(bin string, logger zerolog.Logger) *Process {
	return &Process{bin: bin, logger: logger.With().Str("component", "player").Logger()}
}

// Start launches the player for one media location, beginning at offset.
// A previous process must have exited before a new one can start.
func (p *Process) Start(ctx context.Context, location string, offset time.Duration, hooks Hooks) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.done != nil {
		select {
		case <-p.done:
			// Previous process has exited, ok to start a new one.
		default:
			return fmt.Errorf("player already running")
		}
	}

	args := []string{"-slave", "-quiet"}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64))
	}
	args = append(args, location)

	cmd := exec.CommandContext(ctx, p.bin, args...)
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch player: %w", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.done = make(chan struct{})

	go p.readOutput(stdout, hooks)

	go func(done chan struct{}, c *exec.Cmd) {
		err := c.Wait()
		close(done)
		code := 0
		if err != nil {
			code = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
			p.logger.Debug().Err(err).Int("code", code).Msg("player process exited")
		} else {
			p.logger.Debug().Msg("player process finished")
		}
		if hooks.OnExit != nil {
			hooks.OnExit(code)
		}
	}(p.done, cmd)

	return nil
}

// readOutput parses stdout lines for position reports and the playback
// started marker. Parse failures are logged per line and never propagate.
func (p *Process) readOutput(r io.Reader, hooks Hooks) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, positionPrefix):
			value := strings.TrimPrefix(line, positionPrefix)
			seconds, err := strconv.ParseFloat(value, 64)
			if err != nil {
				p.logger.Debug().Str("line", line).Msg("unparseable position report")
				continue
			}
			if hooks.OnPosition != nil {
				hooks.OnPosition(seconds)
			}
		case strings.HasPrefix(line, startedMarker):
			if hooks.OnStarted != nil {
				hooks.OnStarted()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug().Err(err).Msg("player stdout closed")
	}
}

// Alive reports whether the player process is running.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// send writes one control line to the player's stdin.
func (p *Process) send(line string) error {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()

	if stdin == nil {
		return fmt.Errorf("player not running")
	}
	if _, err := io.WriteString(stdin, line+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", line, err)
	}
	return nil
}

// TogglePause toggles the pause state in the running process.
func (p *Process) TogglePause() error {
	return p.send("pause")
}

// Seek jumps to an absolute position.
func (p *Process) Seek(target time.Duration) error {
	return p.send(fmt.Sprintf("seek %.3f 2", target.Seconds()))
}

// SetRate changes the playback speed.
func (p *Process) SetRate(rate float64) error {
	return p.send(fmt.Sprintf("speed_set %.3f", rate))
}

// SetVolume sets the absolute volume percentage (0-100).
func (p *Process) SetVolume(percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return p.send(fmt.Sprintf("volume %d 1", percent))
}

// RequestPosition asks the process to print its current position; the answer
// arrives through Hooks.OnPosition.
func (p *Process) RequestPosition() error {
	return p.send("get_time_pos")
}

// Stop asks the process to quit, escalating to a kill after a grace period.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	done := p.done
	p.mu.Unlock()

	if cmd == nil || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	if err := p.send("quit 1"); err != nil {
		p.logger.Debug().Err(err).Msg("quit command failed, signalling process")
		if cmd.Process != nil {
			_ = cmd.Process.Signal(os.Interrupt)
		}
	}

	select {
	case <-time.After(5 * time.Second):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	case <-done:
	}
	return nil
}
