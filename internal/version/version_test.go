/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.2.0", "1.1.9", 1},
		{"2.0.0", "1.9.9", 1},
		{"1.0", "1.0.0", 0},
		{"1.0", "1.0.1", -1},
		{"v1.2.3", "1.2.3", 0},
		{"0.6.2", "0.7.0", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestInfoBeforeFirstCheck(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	info := c.Info()
	if info.CurrentVersion != Version {
		t.Errorf("CurrentVersion = %q, want %q", info.CurrentVersion, Version)
	}
	if info.UpdateAvailable {
		t.Error("UpdateAvailable = true before any check")
	}
	if info.LatestVersion != "" {
		t.Errorf("LatestVersion = %q, want empty", info.LatestVersion)
	}
}
