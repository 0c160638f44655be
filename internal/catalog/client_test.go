/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/models"
)

func TestSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "artist:boards of canada" {
			t.Errorf("q = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer cat-token" {
			t.Errorf("auth = %q", got)
		}
		json.NewEncoder(w).Encode(searchResponse{Items: []models.MediaItem{
			{ID: "i1", Title: "Roygbiv", Kind: models.KindSong},
			{ID: "i2", Title: "Dayvan Cowboy", Kind: models.KindSong},
		}})
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL, Token: "cat-token"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items, err := c.Search(context.Background(), "artist:boards of canada")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 || items[0].ID != "i1" || items[1].ID != "i2" {
		t.Errorf("items = %+v, ordering or content wrong", items)
	}
}

func TestReportProgress(t *testing.T) {
	var got models.Progress
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/progress" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	progress := models.Progress{
		EventName:     "TimeUpdate",
		ItemID:        "i1",
		PositionTicks: 1_200_000_000,
		VolumeLevel:   80,
		PlaybackRate:  1,
		PlayMethod:    models.PlayMethodDirect,
	}
	if err := c.ReportProgress(context.Background(), progress); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	if got.ItemID != "i1" || got.EventName != "TimeUpdate" || got.PositionTicks != 1_200_000_000 {
		t.Errorf("received progress = %+v", got)
	}
}

func TestMarkPlayed(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.URL.Path != "/items/i9/played" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("user"); got != "freja" {
			t.Errorf("user = %q", got)
		}
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.MarkPlayed(context.Background(), "i9", "freja"); err != nil {
		t.Fatalf("MarkPlayed: %v", err)
	}
	if !called {
		t.Error("catalog endpoint not called")
	}
}

func TestErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Search(context.Background(), "x"); err == nil {
		t.Error("expected error on non-2xx response")
	}
}
