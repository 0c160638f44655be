package models

import (
	"testing"
	"time"
)

func TestValidateDeviceName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"livingroom", false},
		{"Bedroom", false},
		{"küche", false},
		{"living room", true},
		{"tv-2", true},
		{"", true},
	}

	for _, tc := range cases {
		err := ValidateDeviceName(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateDeviceName(%q) err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestValidateDeviceAddress(t *testing.T) {
	cases := []struct {
		addr    string
		wantErr bool
	}{
		{"ws://10.0.0.5:8600", false},
		{"wss://agent.example.com", false},
		{"http://localhost:8600", false},
		{"ftp://10.0.0.5", true},
		{"not a url", true},
		{"ws://", true},
	}

	for _, tc := range cases {
		err := ValidateDeviceAddress(tc.addr)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateDeviceAddress(%q) err=%v, wantErr=%v", tc.addr, err, tc.wantErr)
		}
	}
}

func TestCurrentItemBounds(t *testing.T) {
	d := &Device{Queue: []MediaItem{{ID: "a"}, {ID: "b"}}}

	if item := d.CurrentItem(); item != nil {
		t.Fatalf("nil index should yield nil item, got %v", item)
	}

	idx := 1
	d.CurrentIndex = &idx
	if item := d.CurrentItem(); item == nil || item.ID != "b" {
		t.Fatalf("expected item b, got %v", item)
	}

	idx = 5
	if item := d.CurrentItem(); item != nil {
		t.Fatalf("out of range index should yield nil item, got %v", item)
	}
}

func TestCloneIsDeep(t *testing.T) {
	idx := 0
	d := &Device{
		Name:         "den",
		CurrentIndex: &idx,
		Queue:        []MediaItem{{ID: "a"}},
	}

	clone := d.Clone()
	*clone.CurrentIndex = 7
	clone.Queue[0].ID = "mutated"

	if *d.CurrentIndex != 0 {
		t.Errorf("clone shares CurrentIndex pointer")
	}
	if d.Queue[0].ID != "a" {
		t.Errorf("clone shares queue backing array")
	}
}

func TestDurationToTicks(t *testing.T) {
	if got := DurationToTicks(time.Second); got != TicksPerSecond {
		t.Errorf("one second = %d ticks, want %d", got, TicksPerSecond)
	}
}
