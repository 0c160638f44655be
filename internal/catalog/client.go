/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog talks to the external media catalog: structured searches,
// playback progress reports, and mark-played calls.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/cache"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/telemetry"
)

// Config configures the catalog client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is the HTTP catalog client. The optional redis cache short-circuits
// repeated searches.
type Client struct {
	base   string
	token  string
	http   *http.Client
	cache  *cache.Cache
	logger zerolog.Logger
}

// New validates the base URL and builds a client.
func New(cfg Config, searchCache *cache.Cache, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog base URL required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid catalog URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		token:  cfg.Token,
		http:   &http.Client{Timeout: timeout},
		cache:  searchCache,
		logger: logger.With().Str("component", "catalog").Logger(),
	}, nil
}

type searchResponse struct {
	Items []models.MediaItem `json:"items"`
}

// Search resolves a search phrase into an ordered list of media items.
func (c *Client) Search(ctx context.Context, phrase string) ([]models.MediaItem, error) {
	if c.cache != nil {
		if items, ok := c.cache.GetSearch(ctx, phrase); ok {
			return items, nil
		}
	}

	endpoint := fmt.Sprintf("%s/items/search?q=%s", c.base, url.QueryEscape(phrase))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := c.do(req, "search", &resp); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.SetSearch(ctx, phrase, resp.Items)
	}
	return resp.Items, nil
}

// ReportProgress forwards a playback progress record.
func (c *Client) ReportProgress(ctx context.Context, progress models.Progress) error {
	body, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/sessions/progress", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "progress", nil)
}

// ReportStopped tells the catalog a playback session ended.
func (c *Client) ReportStopped(ctx context.Context, progress models.Progress) error {
	progress.EventName = ""
	body, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/sessions/stopped", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "stopped", nil)
}

// MarkPlayed records that an item finished playing for a user.
func (c *Client) MarkPlayed(ctx context.Context, itemID, user string) error {
	endpoint := fmt.Sprintf("%s/items/%s/played", c.base, url.PathEscape(itemID))
	if user != "" {
		endpoint += "?user=" + url.QueryEscape(user)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	if err := c.do(req, "mark_played", nil); err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.InvalidateMediaItem(ctx, itemID)
	}
	return nil
}

// do executes a request, recording the outcome and decoding into dest when
// given.
func (c *Client) do(req *http.Request, operation string, dest any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.CatalogRequests.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("catalog %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.CatalogRequests.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("catalog %s: unexpected status %d", operation, resp.StatusCode)
	}
	telemetry.CatalogRequests.WithLabelValues(operation, "ok").Inc()

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("catalog %s: decode response: %w", operation, err)
		}
	}
	return nil
}
