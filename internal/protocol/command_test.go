package protocol

import (
	"testing"
	"time"

	"github.com/hearthlabs/hearth/internal/models"
)

func TestDecodeCommandRoundTrips(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
		check func(t *testing.T, cmd *Command)
	}{
		{
			name:  "no payload",
			frame: NewRequest("1", MethodPlay, nil),
			check: func(t *testing.T, cmd *Command) {
				if cmd.Method != MethodPlay {
					t.Errorf("method = %q", cmd.Method)
				}
			},
		},
		{
			name:  "seek",
			frame: NewRequest("2", MethodSeek, SeekParams{Time: 90 * time.Second}),
			check: func(t *testing.T, cmd *Command) {
				if cmd.Seek == nil || cmd.Seek.Time != 90*time.Second {
					t.Errorf("seek params = %+v", cmd.Seek)
				}
			},
		},
		{
			name:  "repeat mode",
			frame: NewRequest("3", MethodChangeRepeatMode, RepeatModeParams{Mode: models.RepeatShuffle}),
			check: func(t *testing.T, cmd *Command) {
				if cmd.RepeatMode == nil || cmd.RepeatMode.Mode != models.RepeatShuffle {
					t.Errorf("repeat params = %+v", cmd.RepeatMode)
				}
			},
		},
		{
			name: "insert queue with anchor",
			frame: func() Frame {
				anchor := "item-b"
				return NewRequest("4", MethodInsertQueue, InsertQueueParams{
					Items:          []models.MediaItem{{ID: "item-x"}},
					InsertBeforeID: &anchor,
				})
			}(),
			check: func(t *testing.T, cmd *Command) {
				p := cmd.InsertQueue
				if p == nil || len(p.Items) != 1 || p.InsertBeforeID == nil || *p.InsertBeforeID != "item-b" {
					t.Errorf("insert params = %+v", p)
				}
			},
		},
		{
			name:  "remove ids",
			frame: NewRequest("5", MethodRemoveQueue, IDsParams{IDs: []string{"a", "b"}}),
			check: func(t *testing.T, cmd *Command) {
				if cmd.IDs == nil || len(cmd.IDs.IDs) != 2 {
					t.Errorf("ids params = %+v", cmd.IDs)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := DecodeCommand(tc.frame)
			if err != nil {
				t.Fatalf("DecodeCommand: %v", err)
			}
			tc.check(t, cmd)
		})
	}
}

func TestDecodeCommandRejectsUnknownMethod(t *testing.T) {
	if _, err := DecodeCommand(Frame{Method: "Reboot"}); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestDecodeCommandRejectsMissingParams(t *testing.T) {
	if _, err := DecodeCommand(Frame{Method: MethodSeek}); err == nil {
		t.Fatal("expected error for missing params")
	}
}
