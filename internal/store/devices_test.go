/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"testing"
	"time"
)

func TestTouchDeviceUpserts(t *testing.T) {
	h := testHistory(t)
	ctx := context.Background()

	if err := h.TouchDevice(ctx, "den", "ws://host-a:8600"); err != nil {
		t.Fatalf("TouchDevice: %v", err)
	}
	first, err := h.DeviceLastSeen(ctx, "den")
	if err != nil {
		t.Fatalf("DeviceLastSeen: %v", err)
	}
	if first.Address != "ws://host-a:8600" {
		t.Errorf("address = %q, want ws://host-a:8600", first.Address)
	}

	time.Sleep(10 * time.Millisecond)
	if err := h.TouchDevice(ctx, "den", "ws://host-b:8600"); err != nil {
		t.Fatalf("TouchDevice again: %v", err)
	}
	second, err := h.DeviceLastSeen(ctx, "den")
	if err != nil {
		t.Fatalf("DeviceLastSeen: %v", err)
	}
	if second.Address != "ws://host-b:8600" {
		t.Errorf("address after upsert = %q, want ws://host-b:8600", second.Address)
	}
	if !second.LastSeen.After(first.LastSeen) {
		t.Errorf("last seen did not advance: %v -> %v", first.LastSeen, second.LastSeen)
	}
}

func TestDeviceLastSeenUnknown(t *testing.T) {
	h := testHistory(t)
	if _, err := h.DeviceLastSeen(context.Background(), "attic"); err == nil {
		t.Fatal("expected error for unknown device")
	}
}
