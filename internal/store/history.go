/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists playback history per device.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hearthlabs/hearth/internal/models"
)

// PlayRecord is one playback session of one item on one device.
type PlayRecord struct {
	ID            uint   `gorm:"primaryKey"`
	Device        string `gorm:"index"`
	ItemID        string `gorm:"index"`
	Title         string
	User          string
	Kind          string
	StartedAt     time.Time
	EndedAt       *time.Time
	PositionTicks int64
	Completed     bool
}

// History records playback sessions. One record per device is open at a time.
type History struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewHistory migrates the schema and returns the store.
func NewHistory(db *gorm.DB, logger zerolog.Logger) (*History, error) {
	if err := db.AutoMigrate(&PlayRecord{}, &DeviceSeen{}); err != nil {
		return nil, fmt.Errorf("migrate play records: %w", err)
	}
	return &History{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}, nil
}

// Started opens a record for item on device, closing any record left open by
// a crash or missed stop event.
func (h *History) Started(ctx context.Context, device string, item models.MediaItem) error {
	now := time.Now()
	if err := h.closeOpen(ctx, device, now); err != nil {
		return err
	}

	record := PlayRecord{
		Device:    device,
		ItemID:    item.ID,
		Title:     item.Title,
		User:      item.User,
		Kind:      string(item.Kind),
		StartedAt: now,
	}
	if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("create play record: %w", err)
	}
	return nil
}

// Progress updates the open record's position.
func (h *History) Progress(ctx context.Context, device string, positionTicks int64) error {
	err := h.db.WithContext(ctx).
		Model(&PlayRecord{}).
		Where("device = ? AND ended_at IS NULL", device).
		Update("position_ticks", positionTicks).Error
	if err != nil {
		return fmt.Errorf("update play record: %w", err)
	}
	return nil
}

// Finished closes the open record for device.
func (h *History) Finished(ctx context.Context, device string, completed bool) error {
	now := time.Now()
	err := h.db.WithContext(ctx).
		Model(&PlayRecord{}).
		Where("device = ? AND ended_at IS NULL", device).
		Updates(map[string]any{"ended_at": &now, "completed": completed}).Error
	if err != nil {
		return fmt.Errorf("close play record: %w", err)
	}
	return nil
}

// Recent returns the newest records for a device, most recent first.
func (h *History) Recent(ctx context.Context, device string, limit int) ([]PlayRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var records []PlayRecord
	err := h.db.WithContext(ctx).
		Where("device = ?", device).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query play records: %w", err)
	}
	return records, nil
}

func (h *History) closeOpen(ctx context.Context, device string, now time.Time) error {
	err := h.db.WithContext(ctx).
		Model(&PlayRecord{}).
		Where("device = ? AND ended_at IS NULL", device).
		Updates(map[string]any{"ended_at": &now}).Error
	if err != nil {
		return fmt.Errorf("close stale play records: %w", err)
	}
	return nil
}
