/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// DeviceSeen records when a device last held a live control connection.
type DeviceSeen struct {
	Name     string `gorm:"primaryKey"`
	Address  string
	LastSeen time.Time
}

// TouchDevice upserts the last-seen timestamp for a device.
func (h *History) TouchDevice(ctx context.Context, name, address string) error {
	record := DeviceSeen{Name: name, Address: address, LastSeen: time.Now()}
	err := h.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"address", "last_seen"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("touch device %s: %w", name, err)
	}
	return nil
}

// DeviceLastSeen returns the last-seen record for a device, if any.
func (h *History) DeviceLastSeen(ctx context.Context, name string) (*DeviceSeen, error) {
	var record DeviceSeen
	err := h.db.WithContext(ctx).Where("name = ?", name).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
