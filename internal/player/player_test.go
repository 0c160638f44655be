package player

import (
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestReadOutputParsesPositionAndStartMarker(t *testing.T) {
	p := New("mplayer", zerolog.Nop())

	var mu sync.Mutex
	var positions []float64
	started := false

	output := strings.Join([]string{
		"MPlayer interface noise",
		"Starting playback...",
		"ANS_TIME_POSITION=12.5",
		"ANS_TIME_POSITION=garbage",
		"ANS_TIME_POSITION=13.0",
		"",
	}, "\n")

	p.readOutput(strings.NewReader(output), Hooks{
		OnStarted: func() {
			mu.Lock()
			started = true
			mu.Unlock()
		},
		OnPosition: func(seconds float64) {
			mu.Lock()
			positions = append(positions, seconds)
			mu.Unlock()
		},
	})

	mu.Lock()
	defer mu.Unlock()
	if !started {
		t.Error("start marker not detected")
	}
	if len(positions) != 2 || positions[0] != 12.5 || positions[1] != 13.0 {
		t.Errorf("positions = %v, want [12.5 13.0]", positions)
	}
}

func TestControlsRequireRunningProcess(t *testing.T) {
	p := New("mplayer", zerolog.Nop())

	if err := p.TogglePause(); err == nil {
		t.Error("TogglePause on stopped player should fail")
	}
	if err := p.RequestPosition(); err == nil {
		t.Error("RequestPosition on stopped player should fail")
	}
	if p.Alive() {
		t.Error("new player should not report alive")
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop on stopped player should be a no-op, got %v", err)
	}
}
